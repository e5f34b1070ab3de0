package session

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWTSecret = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()

	cfg := testConfig()
	mgr, err := NewJWTManager(cfg)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	store := NewMemoryStore()
	return NewService(cfg, store, mgr), store
}

func TestIssueAndValidateSessionToken(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Now().UTC()

	issued, err := svc.IssueSession(context.Background(), now, "u1", DeviceContext{Platform: PlatformDesktop, DeviceID: "d1"})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if issued.SessionToken == "" || issued.DeviceToken == "" {
		t.Fatalf("missing tokens: %+v", issued)
	}
	if issued.CredentialVersion != 1 {
		t.Fatalf("credential version = %d, want 1", issued.CredentialVersion)
	}

	claims, err := svc.ValidateSessionToken(context.Background(), issued.SessionToken, now.Add(time.Second))
	if err != nil {
		t.Fatalf("ValidateSessionToken: %v", err)
	}
	if claims.UserID != "u1" || claims.SessionID != issued.SessionID {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestValidateRejectsRevokedSession(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Now().UTC()

	issued, err := svc.IssueSession(context.Background(), now, "u1", DeviceContext{Platform: PlatformWeb})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if err := svc.RevokeSession(context.Background(), now, issued.SessionID); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}

	if _, err := svc.ValidateSessionToken(context.Background(), issued.SessionToken, now.Add(time.Second)); err != ErrSessionRevoked {
		t.Fatalf("err = %v, want ErrSessionRevoked", err)
	}
}

func TestRotateDevice(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Now().UTC()
	dev := DeviceContext{Platform: PlatformDesktop, DeviceID: "d1"}

	issued, err := svc.IssueSession(context.Background(), now, "u1", dev)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	rotated, err := svc.RotateDevice(context.Background(), now.Add(time.Minute), issued.DeviceToken, dev)
	if err != nil {
		t.Fatalf("RotateDevice: %v", err)
	}
	if rotated.SessionID == issued.SessionID {
		t.Fatalf("rotation did not create a new session")
	}
	if rotated.DeviceToken == issued.DeviceToken {
		t.Fatalf("rotation did not rotate the device token")
	}

	// The old session token must now fail: session revoked by rotation.
	if _, err := svc.ValidateSessionToken(context.Background(), issued.SessionToken, now.Add(2*time.Minute)); err != ErrSessionRevoked {
		t.Fatalf("old token err = %v, want ErrSessionRevoked", err)
	}
}

func TestRotateDeviceReuseRevokesAll(t *testing.T) {
	svc, store := newTestService(t)
	now := time.Now().UTC()
	dev := DeviceContext{Platform: PlatformDesktop}

	issued, err := svc.IssueSession(context.Background(), now, "u1", dev)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	rotated, err := svc.RotateDevice(context.Background(), now.Add(time.Minute), issued.DeviceToken, dev)
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}

	// Presenting the consumed token again is theft: everything gets revoked.
	if _, err := svc.RotateDevice(context.Background(), now.Add(2*time.Minute), issued.DeviceToken, dev); err != ErrDeviceTokenReuse {
		t.Fatalf("reuse err = %v, want ErrDeviceTokenReuse", err)
	}

	row, err := store.GetByID(context.Background(), rotated.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if row.RevokedAt == nil {
		t.Fatalf("replacement session survived reuse detection")
	}
}

func TestRotateDeviceExpired(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Now().UTC()
	dev := DeviceContext{Platform: PlatformWeb}

	issued, err := svc.IssueSession(context.Background(), now, "u1", dev)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	late := now.Add(DefaultConfig().DeviceTTLWeb + time.Hour)
	if _, err := svc.RotateDevice(context.Background(), late, issued.DeviceToken, dev); err != ErrSessionExpired {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestRevalidate(t *testing.T) {
	svc, store := newTestService(t)
	now := time.Now().UTC()
	ctx := context.Background()

	issued, err := svc.IssueSession(ctx, now, "u1", DeviceContext{Platform: PlatformDesktop})
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	v, err := svc.Revalidate(ctx, now.Add(time.Second), issued.SessionID, issued.CredentialVersion)
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if !v.Valid {
		t.Fatalf("fresh session invalid: %+v", v)
	}

	// Credential version bump invalidates the pinned version.
	if _, err := svc.BumpCredentialVersion(ctx, "u1"); err != nil {
		t.Fatalf("BumpCredentialVersion: %v", err)
	}
	v, err = svc.Revalidate(ctx, now.Add(2*time.Second), issued.SessionID, issued.CredentialVersion)
	if err != nil {
		t.Fatalf("Revalidate after bump: %v", err)
	}
	if v.Valid || v.Reason != "credential_version_changed" {
		t.Fatalf("v = %+v, want credential_version_changed", v)
	}

	// Suspension rejects explicitly.
	store.SuspendUser("u1", true)
	v, err = svc.Revalidate(ctx, now.Add(3*time.Second), issued.SessionID, issued.CredentialVersion)
	if err != nil {
		t.Fatalf("Revalidate suspended: %v", err)
	}
	if v.Valid || v.Reason != "account_suspended" {
		t.Fatalf("v = %+v, want account_suspended", v)
	}

	// Unknown session maps to an explicit revocation answer, not an error.
	v, err = svc.Revalidate(ctx, now, "01JUNKSESSIONIDXXXXXXXXXXX", 1)
	if err != nil {
		t.Fatalf("Revalidate unknown: %v", err)
	}
	if v.Valid || v.Reason != "session_revoked" {
		t.Fatalf("v = %+v, want session_revoked", v)
	}
}

func TestJWTIssueAndVerify(t *testing.T) {
	cfg := testConfig()
	mgr, err := NewJWTManager(cfg)
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("u1", "s1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "u1" || claims.SessionID != "s1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}

	if _, err := mgr.Verify(tok, now.Add(cfg.SessionTokenTTL+cfg.ClockSkew+time.Minute)); err != ErrInvalidToken {
		t.Fatalf("expired verify err = %v, want ErrInvalidToken", err)
	}

	if _, err := mgr.Verify(strings.TrimSuffix(tok, "=")+"tampered", now); err != ErrInvalidToken {
		t.Fatalf("tampered verify err = %v, want ErrInvalidToken", err)
	}
}
