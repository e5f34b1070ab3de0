package broadcast

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Signature headers on broadcast requests.
const (
	HeaderSignature = "X-PageSpace-Signature"
	HeaderTimestamp = "X-PageSpace-Timestamp"
)

// MaxClockDrift bounds how old (or how far in the future) a signed broadcast
// may be before the receiver rejects it as a replay.
const MaxClockDrift = 5 * time.Minute

var (
	ErrBadSignature = errors.New("broadcast: signature mismatch")
	ErrBadTimestamp = errors.New("broadcast: timestamp invalid or outside drift window")
)

// Sign computes the hex HMAC-SHA256 of the timestamp and body under secret.
// The timestamp is Unix seconds in decimal.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against secret, rejecting timestamps
// outside the drift window so captured requests cannot be replayed later.
func Verify(secret []byte, timestamp string, body []byte, signature string, now time.Time) error {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrBadTimestamp
	}

	at := time.Unix(sec, 0)
	drift := now.Sub(at)
	if drift < 0 {
		drift = -drift
	}
	if drift > MaxClockDrift {
		return ErrBadTimestamp
	}

	want := Sign(secret, timestamp, body)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	wantRaw, _ := hex.DecodeString(want)
	if !hmac.Equal(wantRaw, got) {
		return ErrBadSignature
	}
	return nil
}
