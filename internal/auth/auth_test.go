package auth

import (
	"errors"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier([]byte("test-secret-key"), "praxis-realtime")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return v
}

func TestVerifier_IssueAndVerify(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Issue("tenant-1", "user-9", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	sess, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if sess.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q, want tenant-1", sess.TenantID)
	}
	if sess.UserID != "user-9" {
		t.Errorf("UserID = %q, want user-9", sess.UserID)
	}
	if time.Until(sess.Expires) <= 0 {
		t.Errorf("Expires = %v, want in the future", sess.Expires)
	}
}

func TestVerifier_RejectsExpiredToken(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Issue("tenant-1", "user-9", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	v := newTestVerifier(t)
	other, err := NewVerifier([]byte("a-different-secret"), "praxis-realtime")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	token, err := other.Issue("tenant-1", "user-9", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifier_RejectsEmptyToken(t *testing.T) {
	v := newTestVerifier(t)
	if _, err := v.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify(\"\") error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifier_RejectsWrongIssuer(t *testing.T) {
	v := newTestVerifier(t)
	other, err := NewVerifier([]byte("test-secret-key"), "someone-else")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	token, err := other.Issue("tenant-1", "user-9", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	if _, err := NewVerifier(nil, ""); err == nil {
		t.Error("NewVerifier(nil) error = nil, want error")
	}
}

func TestVerifier_IssueRequiresTenantAndUser(t *testing.T) {
	v := newTestVerifier(t)
	if _, err := v.Issue("", "user-9", time.Hour); err == nil {
		t.Error("Issue with empty tenant: error = nil, want error")
	}
	if _, err := v.Issue("tenant-1", "", time.Hour); err == nil {
		t.Error("Issue with empty user: error = nil, want error")
	}
}
