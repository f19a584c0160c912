// Package chat is the classroom assistant. Each user has one conversation
// that expires after a period of inactivity.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edubridge/classquiz/internal/clock"
	"github.com/edubridge/classquiz/internal/llm"
	"github.com/edubridge/classquiz/internal/llm/prompts"
	"github.com/edubridge/classquiz/internal/model"
)

const (
	// DefaultTTL is how long a conversation survives without turns.
	DefaultTTL = 30 * time.Minute
	// DefaultHistory is the number of previous turns sent with a query.
	DefaultHistory = 10

	maxQueryRunes = 4000
	temperature   = 0.3
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query is empty")

// Turn is one query and the assistant's answer.
type Turn struct {
	Query  string    `json:"query"`
	Answer string    `json:"answer"`
	At     time.Time `json:"at"`
}

// Conversation is a user's chat history with the assistant.
type Conversation struct {
	UserID    string         `json:"user_id"`
	Role      model.UserRole `json:"role"`
	Function  string         `json:"function"`
	Turns     []Turn         `json:"turns"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Service answers chat queries.
type Service struct {
	store   Store
	llm     llm.Completer
	clock   clock.Clock
	history int
}

// NewService creates a Service. A non-positive history uses DefaultHistory.
func NewService(st Store, c llm.Completer, clk clock.Clock, history int) *Service {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Service{store: st, llm: c, clock: clk, history: history}
}

// Reply answers query in the context of the user's conversation. Switching
// role or function starts a new conversation. Answers are Markdown.
func (s *Service) Reply(ctx context.Context, userID string, role model.UserRole, function, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}
	if utf8.RuneCountInString(query) > maxQueryRunes {
		query = string([]rune(query)[:maxQueryRunes])
	}
	if !prompts.IsValidFunction(function) {
		function = prompts.FunctionDoubt
	}

	conv, err := s.store.Load(ctx, userID)
	if err != nil {
		return "", err
	}
	if conv == nil || conv.Role != role || conv.Function != function {
		conv = &Conversation{UserID: userID, Role: role, Function: function}
	}

	system, err := prompts.BuildChatSystem(prompts.ChatData{Role: role, Function: function})
	if err != nil {
		return "", err
	}
	turns := conv.Turns
	if len(turns) > s.history {
		turns = turns[len(turns)-s.history:]
	}
	msgs := make([]llm.Message, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: t.Query},
			llm.Message{Role: llm.RoleAssistant, Content: t.Answer},
		)
	}

	answer, err := s.llm.Complete(ctx, llm.Request{
		Kind:        "chat",
		System:      system,
		Messages:    msgs,
		Prompt:      query,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	answer = strings.TrimSpace(answer)

	now := s.clock.Now()
	conv.Turns = append(turns, Turn{Query: query, Answer: answer, At: now})
	conv.UpdatedAt = now
	if err := s.store.Save(ctx, conv); err != nil {
		slog.Warn("failed to save conversation", "user_id", userID, "error", err)
	}
	return answer, nil
}

// Reset forgets the user's conversation.
func (s *Service) Reset(ctx context.Context, userID string) error {
	return s.store.Delete(ctx, userID)
}
