package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	v1 "github.com/2witstudios/pagespace/contracts/realtime/v1"
)

// ToolDispatcher sends tool execution requests to a user's connection and
// correlates the asynchronous results the client sends back.
//
// Execution is privileged: the connection must pass the full health check
// before a request is enqueued.
type ToolDispatcher struct {
	log *slog.Logger
	reg *Registry

	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan v1.ToolResultPayload
}

// NewToolDispatcher constructs a dispatcher over reg.
func NewToolDispatcher(log *slog.Logger, reg *Registry) *ToolDispatcher {
	return &ToolDispatcher{
		log:     log,
		reg:     reg,
		timeout: toolCallTimeout,
		pending: make(map[string]chan v1.ToolResultPayload),
	}
}

// Execute asks userID's client to run a tool and waits for its result.
func (d *ToolDispatcher) Execute(ctx context.Context, userID, serverName, toolName string, args json.RawMessage) (v1.ToolResultPayload, error) {
	now := time.Now().UTC()
	if err := d.reg.Health(userID, now); err != nil {
		return v1.ToolResultPayload{}, err
	}

	client, ok := d.reg.Client(userID)
	if !ok {
		return v1.ToolResultPayload{}, ErrNotRegistered
	}

	callID, err := NewEnvelopeID(now)
	if err != nil {
		return v1.ToolResultPayload{}, err
	}

	payload := v1.ToolExecutePayload{
		ID:         callID,
		ServerName: serverName,
		ToolName:   toolName,
		Arguments:  args,
	}
	if err := payload.Validate(); err != nil {
		return v1.ToolResultPayload{}, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.ToolResultPayload{}, err
	}

	resultCh := make(chan v1.ToolResultPayload, 1)
	d.mu.Lock()
	d.pending[callID] = resultCh
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, callID)
		d.mu.Unlock()
	}()

	env, err := NewEnvelope(v1.TypeToolExecute, raw, now)
	if err != nil {
		return v1.ToolResultPayload{}, err
	}

	select {
	case client.Send <- env:
	case <-client.Done():
		return v1.ToolResultPayload{}, ErrSocketClosed
	case <-ctx.Done():
		return v1.ToolResultPayload{}, ctx.Err()
	default:
		return v1.ToolResultPayload{}, errors.New("realtime: send queue full")
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res, nil
	case <-client.Done():
		return v1.ToolResultPayload{}, ErrSocketClosed
	case <-timer.C:
		return v1.ToolResultPayload{}, ErrToolCallTimeout
	case <-ctx.Done():
		return v1.ToolResultPayload{}, ctx.Err()
	}
}

// Resolve routes a client's tool result to the waiting Execute call.
func (d *ToolDispatcher) Resolve(res v1.ToolResultPayload) error {
	d.mu.Lock()
	ch, ok := d.pending[res.ID]
	if ok {
		delete(d.pending, res.ID)
	}
	d.mu.Unlock()

	if !ok {
		return ErrUnknownToolCall
	}

	ch <- res
	return nil
}
