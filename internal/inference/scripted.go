package inference

import (
	"context"
	"strings"
	"sync"

	"github.com/reviso/reviso/internal/prompts"
)

// ScriptedClient is a deterministic Client for tests. Responses are keyed
// by prompt hash; unkeyed prompts fall through to Default. A non-nil Fail
// hook can force a failure for specific prompts.
type ScriptedClient struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []string

	// Default is returned when no keyed response matches. When empty, the
	// original section text is echoed back with a rewritten marker.
	Default string

	// Fail, when set, is consulted before any response lookup. Returning a
	// non-nil error simulates an engine failure for that call.
	Fail func(hash string, call int) error

	// Unhealthy makes Healthy report false.
	Unhealthy bool
}

// NewScriptedClient creates an empty scripted client.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{responses: make(map[string]string)}
}

// Respond registers the text returned for a given prompt hash.
func (s *ScriptedClient) Respond(hash, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[hash] = text
}

// Calls returns the prompt hashes seen so far, in order.
func (s *ScriptedClient) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *ScriptedClient) Stream(ctx context.Context, prompt prompts.CompiledPrompt, emit func(token string)) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, prompt.Hash)
	call := len(s.calls)
	text, ok := s.responses[prompt.Hash]
	fail := s.Fail
	def := s.Default
	s.mu.Unlock()

	if fail != nil {
		if err := fail(prompt.Hash, call); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !ok {
		text = def
	}
	if text == "" {
		text = "rewritten: " + prompt.User
	}

	if emit != nil {
		for _, word := range strings.SplitAfter(text, " ") {
			emit(word)
		}
	}
	return text, nil
}

func (s *ScriptedClient) Model() string {
	return "scripted"
}

func (s *ScriptedClient) Healthy(ctx context.Context) bool {
	return !s.Unhealthy
}
