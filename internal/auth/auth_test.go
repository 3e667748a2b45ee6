package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/storage"
)

func newTestManager(t *testing.T, expiry time.Duration) (*Manager, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(storage.NewMemory())
	return New(store, "test-secret", expiry), store
}

func TestRegisterAndLogin(t *testing.T) {
	m, store := newTestManager(t, time.Hour)

	if err := m.Register("alice", "hunter2"); err != nil {
		t.Fatalf("Register() = %v", err)
	}

	store.View(func(tn *ledger.Tx) error {
		user, err := tn.User("alice")
		if err != nil {
			t.Fatalf("User() = %v", err)
		}
		if user.ReputationScore != 100 {
			t.Errorf("reputation = %d, want 100", user.ReputationScore)
		}
		if user.PasswordHash == "hunter2" {
			t.Error("password stored in clear")
		}
		return nil
	})

	session, err := m.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("Login() = %v", err)
	}
	if session.Address != "alice" || session.ReputationScore != 100 {
		t.Errorf("session = %+v", session)
	}

	address, err := m.Verify(session.Token)
	if err != nil {
		t.Fatalf("Verify() = %v", err)
	}
	if address != "alice" {
		t.Errorf("Verify() = %s, want alice", address)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	if err := m.Register("alice", "pw1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Register("alice", "pw2"); !errors.Is(err, ErrAddressTaken) {
		t.Fatalf("Register() = %v, want ErrAddressTaken", err)
	}
}

func TestLoginRejections(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)
	m.Register("alice", "hunter2")

	if _, err := m.Login("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: %v", err)
	}
	if _, err := m.Login("nobody", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: %v", err)
	}
}

func TestVerifyRejections(t *testing.T) {
	m, _ := newTestManager(t, time.Hour)

	if _, err := m.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token: %v", err)
	}

	// Token signed with a different secret.
	other, _ := newTestManager(t, time.Hour)
	otherToken, err := other.issue("alice")
	if err != nil {
		t.Fatal(err)
	}
	forged := New(ledger.NewStore(storage.NewMemory()), "another-secret", time.Hour)
	if _, err := forged.Verify(otherToken); err == nil {
		t.Error("token verified across secrets")
	}
}

func TestVerifyExpired(t *testing.T) {
	m, _ := newTestManager(t, -time.Minute)
	m.Register("alice", "hunter2")
	session, err := m.Login("alice", "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Verify(session.Token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify(expired) = %v, want ErrTokenExpired", err)
	}
}
