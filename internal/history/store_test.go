package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"concierge/pkg/logging"
)

func newSessionStore(t *testing.T, ttl time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client, ttl, logging.NewLogger()), mr
}

func TestNewTurnAssignsID(t *testing.T) {
	turn := NewTurn(RoleHuman, "hello")
	if turn.ID == "" {
		t.Fatal("expected generated id")
	}
	if turn.Role != RoleHuman || turn.Content != "hello" {
		t.Fatalf("unexpected turn %+v", turn)
	}
}

func TestTurnJSONOmitsEmptyToolCallID(t *testing.T) {
	data, err := json.Marshal(Turn{ID: "1", Role: RoleAssistant, Content: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"id":"1","role":"assistant","content":"hi"}` {
		t.Fatalf("unexpected json %s", data)
	}

	var back Turn
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ToolCallID != "" {
		t.Fatalf("expected empty tool call id, got %q", back.ToolCallID)
	}
}

func TestAppendThenReadKeepsOrder(t *testing.T) {
	store, _ := newSessionStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Append(ctx, "s1", []Turn{
		NewTurn(RoleHuman, "first question"),
		NewTurn(RoleAssistant, "first answer"),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := store.Append(ctx, "s1", []Turn{
		NewTurn(RoleHuman, "second question"),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns, err := store.Read(ctx, "s1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"first question", "first answer", "second question"}
	if len(turns) != len(want) {
		t.Fatalf("expected %d turns, got %d", len(want), len(turns))
	}
	for i, content := range want {
		if turns[i].Content != content {
			t.Fatalf("turn %d = %q, want %q", i, turns[i].Content, content)
		}
	}
}

func TestSessionExpiresAfterInactivity(t *testing.T) {
	store, mr := newSessionStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Append(ctx, "s1", []Turn{NewTurn(RoleHuman, "hi")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	mr.FastForward(61 * time.Second)

	turns, err := store.Read(ctx, "s1")
	if err != nil {
		t.Fatalf("Read after expiry: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected expired session to read empty, got %d turns", len(turns))
	}
}

func TestAppendRefreshesTTL(t *testing.T) {
	store, mr := newSessionStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Append(ctx, "s1", []Turn{NewTurn(RoleHuman, "hi")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	mr.FastForward(45 * time.Second)
	if err := store.Append(ctx, "s1", []Turn{NewTurn(RoleAssistant, "hello")}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// 75s after the first write but only 30s after the second: the
	// session must survive because every write restarts the countdown.
	mr.FastForward(30 * time.Second)
	turns, err := store.Read(ctx, "s1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected refreshed session to survive, got %d turns", len(turns))
	}
}

func TestReadSkipsMalformedEntries(t *testing.T) {
	store, mr := newSessionStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Append(ctx, "s1", []Turn{NewTurn(RoleHuman, "hi")}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := mr.Push(keyPrefix+"s1", "not-json"); err != nil {
		t.Fatalf("push garbage: %v", err)
	}

	turns, err := store.Read(ctx, "s1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 1 || turns[0].Content != "hi" {
		t.Fatalf("expected malformed entry to be skipped, got %+v", turns)
	}
}

func TestStoreUnavailable(t *testing.T) {
	store, mr := newSessionStore(t, time.Minute)
	mr.Close()

	err := store.Append(context.Background(), "s1", []Turn{NewTurn(RoleHuman, "hi")})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Append should wrap ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.Read(context.Background(), "s1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Read should wrap ErrStoreUnavailable, got %v", err)
	}
}

func TestNewStoreDefaultsTTL(t *testing.T) {
	store := NewStore(nil, 0, logging.NewLogger())
	if store.ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", store.ttl, DefaultTTL)
	}

	store = NewStore(nil, 30*time.Second, logging.NewLogger())
	if store.ttl != 30*time.Second {
		t.Fatalf("ttl = %v, want 30s", store.ttl)
	}
}
