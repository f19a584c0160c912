package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/edubridge/classquiz/internal/clock"
	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/model"
)

type fakeLLM struct {
	calls []llm.Request
	err   error
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return "  **answer " + req.Prompt + "**  ", nil
}

var start = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func TestReplyKeepsHistory(t *testing.T) {
	clk := &clock.Fixed{T: start}
	f := &fakeLLM{}
	svc := NewService(NewMemoryStore(clk, DefaultTTL), f, clk, 2)
	ctx := context.Background()

	for _, q := range []string{"one", "two", "three"} {
		got, err := svc.Reply(ctx, "stu-1", model.UserRoleStudent, "doubt", q)
		if err != nil {
			t.Fatalf("Reply(%q): %v", q, err)
		}
		if got != "**answer "+q+"**" {
			t.Errorf("Reply(%q) = %q", q, got)
		}
		clk.Advance(time.Minute)
	}

	last := f.calls[2]
	if last.Prompt != "three" || last.Kind != "chat" {
		t.Errorf("unexpected request %+v", last)
	}
	// History is capped at two turns.
	if len(last.Messages) != 4 || last.Messages[0].Content != "one" || last.Messages[3].Content != "**answer two**" {
		t.Errorf("history = %+v", last.Messages)
	}
	if last.Messages[0].Role != llm.RoleUser || last.Messages[1].Role != llm.RoleAssistant {
		t.Errorf("roles = %v, %v", last.Messages[0].Role, last.Messages[1].Role)
	}
	if !strings.Contains(last.System, "student") {
		t.Errorf("system prompt = %q", last.System)
	}
}

func TestReplyNewConversation(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		role    model.UserRole
		fn      string
		history int
	}{
		{"same conversation", time.Minute, model.UserRoleTeacher, "doubt", 2},
		{"expired", DefaultTTL, model.UserRoleTeacher, "doubt", 0},
		{"function switch", time.Minute, model.UserRoleTeacher, "navigate", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock.Fixed{T: start}
			f := &fakeLLM{}
			svc := NewService(NewMemoryStore(clk, DefaultTTL), f, clk, 0)
			ctx := context.Background()

			if _, err := svc.Reply(ctx, "t-1", model.UserRoleTeacher, "doubt", "first"); err != nil {
				t.Fatal(err)
			}
			clk.Advance(tt.advance)
			if _, err := svc.Reply(ctx, "t-1", tt.role, tt.fn, "second"); err != nil {
				t.Fatal(err)
			}
			if got := len(f.calls[1].Messages); got != tt.history {
				t.Errorf("history messages = %d, want %d", got, tt.history)
			}
		})
	}
}

func TestReplyErrors(t *testing.T) {
	clk := &clock.Fixed{T: start}
	store := NewMemoryStore(clk, DefaultTTL)
	ctx := context.Background()

	svc := NewService(store, &fakeLLM{}, clk, 0)
	if _, err := svc.Reply(ctx, "u", model.UserRoleStudent, "doubt", "   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("blank query: %v", err)
	}

	boom := errors.New("model unavailable")
	svc = NewService(store, &fakeLLM{err: boom}, clk, 0)
	if _, err := svc.Reply(ctx, "u", model.UserRoleStudent, "doubt", "hi"); !errors.Is(err, boom) {
		t.Errorf("model error: %v", err)
	}
	if c, _ := store.Load(ctx, "u"); c != nil {
		t.Error("failed turn was stored")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	clk := &clock.Fixed{T: start}
	s := NewMemoryStore(clk, time.Minute)
	ctx := context.Background()

	if err := s.Save(ctx, &Conversation{UserID: "a", Turns: []Turn{{Query: "q"}}}); err != nil {
		t.Fatal(err)
	}
	clk.Advance(30 * time.Second)
	if c, _ := s.Load(ctx, "a"); c == nil || len(c.Turns) != 1 {
		t.Fatalf("Load before expiry = %+v", c)
	}
	clk.Advance(30 * time.Second)
	if c, _ := s.Load(ctx, "a"); c != nil {
		t.Errorf("Load after expiry = %+v", c)
	}

	// Saving sweeps expired conversations of other users.
	_ = s.Save(ctx, &Conversation{UserID: "b"})
	clk.Advance(2 * time.Minute)
	_ = s.Save(ctx, &Conversation{UserID: "c"})
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewRedisStore(client, 10*time.Minute)
	ctx := context.Background()

	if c, err := s.Load(ctx, "stu-1"); err != nil || c != nil {
		t.Fatalf("Load of unknown user = %v, %v", c, err)
	}

	conv := &Conversation{UserID: "stu-1", Role: model.UserRoleStudent, Function: "doubt",
		Turns: []Turn{{Query: "What is a prime?", Answer: "A number with two divisors.", At: start}}, UpdatedAt: start}
	if err := s.Save(ctx, conv); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !mr.Exists("chat:conversation:stu-1") {
		t.Fatal("expected redis key to be set")
	}
	if ttl := mr.TTL("chat:conversation:stu-1"); ttl != 10*time.Minute {
		t.Errorf("TTL = %v", ttl)
	}

	got, err := s.Load(ctx, "stu-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Role != model.UserRoleStudent || len(got.Turns) != 1 || got.Turns[0].Answer != "A number with two divisors." {
		t.Errorf("Load = %+v", got)
	}

	mr.FastForward(11 * time.Minute)
	if c, _ := s.Load(ctx, "stu-1"); c != nil {
		t.Error("conversation survived its TTL")
	}

	_ = s.Save(ctx, conv)
	if err := s.Delete(ctx, "stu-1"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("chat:conversation:stu-1") {
		t.Error("expected redis key to be removed")
	}
}
