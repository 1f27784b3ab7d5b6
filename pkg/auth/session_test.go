package auth

import (
	"errors"
	"testing"
	"time"

	"fieldscope/pkg/domain"
)

func TestSessionIssueAndVerify(t *testing.T) {
	mgr, err := NewSessionManager("test-secret", time.Hour, "")
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	user := domain.User{ID: "user-1", Role: domain.RoleModerator}
	token, err := mgr.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := mgr.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Fatalf("subject = %q, want user-1", claims.UserID)
	}
	if claims.Role != domain.RoleModerator {
		t.Fatalf("role = %q, want moderator", claims.Role)
	}
}

func TestSessionVerifyRejectsWrongSecret(t *testing.T) {
	issuer, err := NewSessionManager("secret-a", time.Hour, "")
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	verifier, err := NewSessionManager("secret-b", time.Hour, "")
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	token, err := issuer.Issue(domain.User{ID: "user-1"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestSessionVerifyRejectsGarbage(t *testing.T) {
	mgr, err := NewSessionManager("test-secret", time.Hour, "")
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	for _, token := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := mgr.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestSessionManagerRequiresSecret(t *testing.T) {
	if _, err := NewSessionManager("  ", time.Hour, ""); err == nil {
		t.Fatal("expected error for blank secret")
	}
}
