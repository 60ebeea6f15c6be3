package auth

import (
	"testing"
	"time"
)

func TestPasswordHashAndCheck(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("password stored in the clear")
	}
	if !CheckPassword("s3cret", hash) {
		t.Error("correct password rejected")
	}
	if CheckPassword("wrong", hash) {
		t.Error("wrong password accepted")
	}
}

func TestTokenIssueAndVerify(t *testing.T) {
	store := NewTokenStore(time.Hour)

	token, err := store.Issue(Identity{Username: "alice", Role: "admin", HomeDir: "/home/alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}

	id, ok := store.Verify(token)
	if !ok {
		t.Fatal("freshly issued token rejected")
	}
	if id.Username != "alice" || id.Role != "admin" || id.HomeDir != "/home/alice" {
		t.Errorf("identity = %+v", id)
	}

	if _, ok := store.Verify("bogus"); ok {
		t.Error("unknown token accepted")
	}
}

func TestTokensAreUnique(t *testing.T) {
	store := NewTokenStore(time.Hour)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := store.Issue(Identity{Username: "alice"})
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if seen[token] {
			t.Fatal("duplicate token issued")
		}
		seen[token] = true
	}
}

func TestTokenExpiry(t *testing.T) {
	store := NewTokenStore(10 * time.Millisecond)

	token, _ := store.Issue(Identity{Username: "alice"})
	if _, ok := store.Verify(token); !ok {
		t.Fatal("token rejected before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Verify(token); ok {
		t.Error("expired token accepted")
	}
}

func TestRevoke(t *testing.T) {
	store := NewTokenStore(time.Hour)
	token, _ := store.Issue(Identity{Username: "alice"})

	store.Revoke(token)
	if _, ok := store.Verify(token); ok {
		t.Error("revoked token accepted")
	}

	// Revoking twice is harmless.
	store.Revoke(token)
}

func TestRevokeUser(t *testing.T) {
	store := NewTokenStore(time.Hour)
	a1, _ := store.Issue(Identity{Username: "alice"})
	a2, _ := store.Issue(Identity{Username: "alice"})
	b, _ := store.Issue(Identity{Username: "bob"})

	store.RevokeUser("alice")

	if _, ok := store.Verify(a1); ok {
		t.Error("alice token 1 survived RevokeUser")
	}
	if _, ok := store.Verify(a2); ok {
		t.Error("alice token 2 survived RevokeUser")
	}
	if _, ok := store.Verify(b); !ok {
		t.Error("bob token revoked collaterally")
	}
}

func TestCleanupDropsOnlyExpired(t *testing.T) {
	store := NewTokenStore(10 * time.Millisecond)
	stale, _ := store.Issue(Identity{Username: "alice"})

	time.Sleep(20 * time.Millisecond)
	store.ttl = time.Hour
	fresh, _ := store.Issue(Identity{Username: "alice"})

	store.Cleanup()

	store.mu.RLock()
	_, staleHeld := store.tokens[stale]
	_, freshHeld := store.tokens[fresh]
	store.mu.RUnlock()
	if staleHeld {
		t.Error("expired token survived cleanup")
	}
	if !freshHeld {
		t.Error("live token dropped by cleanup")
	}
}
