package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisSessions(t *testing.T) (*RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisSessionStore(mr.Addr(), "", time.Hour), mr
}

func TestRedisSessionRoundTrip(t *testing.T) {
	s, _ := newRedisSessions(t)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("GetUserIDByToken: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Errorf("ok=%v userID=%q", ok, userID)
	}

	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Error("session still resolvable after delete")
	}
}

func TestRedisSessionUnknownToken(t *testing.T) {
	s, _ := newRedisSessions(t)
	if _, ok, err := s.GetUserIDByToken("nope"); ok || err != nil {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestRedisSessionExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisSessionStore(mr.Addr(), "", time.Minute)

	token, err := s.NewSession("user-1")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.GetUserIDByToken(token); ok {
		t.Error("session survived TTL expiry")
	}
}

func TestRedisSessionTokensAreUnique(t *testing.T) {
	s, _ := newRedisSessions(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		token, err := s.NewSession("user-1")
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
}
