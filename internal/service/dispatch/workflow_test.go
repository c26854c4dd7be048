package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"aicompare/internal/models"
)

var testAliases = []string{"gemini", "llama", "deepseek"}

// stubCaller answers every completion with a per-alias echo and records the
// prompts it saw.
type stubCaller struct {
	completePrompts []string
	comparePrompt   string
	failOn          string
	compareErr      error
}

func (s *stubCaller) Complete(_ context.Context, alias, prompt string) (string, error) {
	s.completePrompts = append(s.completePrompts, prompt)
	if alias == s.failOn {
		return "", errors.New("upstream exploded")
	}
	return "echo-" + alias, nil
}

func (s *stubCaller) Compare(_ context.Context, prompt string) (string, error) {
	s.comparePrompt = prompt
	if s.compareErr != nil {
		return "", s.compareErr
	}
	return "the comparison", nil
}

type stubRecorder struct {
	inserted bool
	userID   int64
	prompt   string
}

func (s *stubRecorder) Insert(_ context.Context, userID int64, prompt string, responses map[string]string, comparison string) (*models.QueryRecord, error) {
	s.inserted = true
	s.userID = userID
	s.prompt = prompt
	return &models.QueryRecord{ID: 42, UserID: userID, QueryText: prompt, Responses: responses, Comparison: comparison}, nil
}

func TestRunFansOutAndCompares(t *testing.T) {
	caller := &stubCaller{}
	recorder := &stubRecorder{}
	svc := NewService(caller, recorder, testAliases)

	identity := models.Identity{UserID: 7, Email: "a@example.com"}
	result, err := svc.Run(context.Background(), identity, "what is gravity")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}

	if len(result.Responses) != len(testAliases) {
		t.Fatalf("expected %d responses, got %d", len(testAliases), len(result.Responses))
	}
	for _, alias := range testAliases {
		if result.Responses[alias] != "echo-"+alias {
			t.Fatalf("response for %s: %q", alias, result.Responses[alias])
		}
	}
	if result.Comparison != "the comparison" {
		t.Fatalf("comparison: %q", result.Comparison)
	}
	if result.RecordID != 42 {
		t.Fatalf("record id: %d", result.RecordID)
	}

	// Models receive the augmented prompt, storage keeps the raw one.
	for i, prompt := range caller.completePrompts {
		if !strings.HasSuffix(prompt, "what is gravity") || prompt == "what is gravity" {
			t.Fatalf("prompt %d not augmented: %q", i, prompt)
		}
	}
	if !recorder.inserted || recorder.userID != 7 {
		t.Fatalf("run not persisted for authenticated user")
	}
	if recorder.prompt != "what is gravity" {
		t.Fatalf("persisted prompt should be raw, got %q", recorder.prompt)
	}
}

func TestRunComparisonPromptContainsAllResponses(t *testing.T) {
	caller := &stubCaller{}
	svc := NewService(caller, &stubRecorder{}, testAliases)

	if _, err := svc.Run(context.Background(), models.Identity{}, "q"); err != nil {
		t.Fatalf("Run error: %v", err)
	}

	prompt := caller.comparePrompt
	if !strings.HasPrefix(prompt, fmt.Sprintf("Compare these %d AI responses", len(testAliases))) {
		t.Fatalf("comparison prompt header wrong: %q", prompt)
	}
	for _, alias := range testAliases {
		label := strings.ToUpper(alias[:1]) + alias[1:]
		if !strings.Contains(prompt, label+": echo-"+alias) {
			t.Fatalf("comparison prompt missing %s response: %q", alias, prompt)
		}
	}
	if !strings.Contains(prompt, "call-to-action") {
		t.Fatalf("comparison prompt missing closing instructions")
	}
}

func TestRunAbortsOnModelFailure(t *testing.T) {
	caller := &stubCaller{failOn: "llama"}
	recorder := &stubRecorder{}
	svc := NewService(caller, recorder, testAliases)

	_, err := svc.Run(context.Background(), models.Identity{UserID: 7}, "q")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "llama") {
		t.Fatalf("error does not name the failed model: %v", err)
	}
	if caller.comparePrompt != "" {
		t.Fatalf("comparison ran despite model failure")
	}
	if recorder.inserted {
		t.Fatalf("failed run was persisted")
	}
	// deepseek comes after llama; the fan-out must stop at the failure.
	if len(caller.completePrompts) != 2 {
		t.Fatalf("expected 2 completion calls, got %d", len(caller.completePrompts))
	}
}

func TestRunAbortsOnComparisonFailure(t *testing.T) {
	caller := &stubCaller{compareErr: errors.New("comparison model down")}
	recorder := &stubRecorder{}
	svc := NewService(caller, recorder, testAliases)

	if _, err := svc.Run(context.Background(), models.Identity{UserID: 7}, "q"); err == nil {
		t.Fatalf("expected error")
	}
	if recorder.inserted {
		t.Fatalf("run without comparison was persisted")
	}
}

func TestRunAnonymousSkipsPersistence(t *testing.T) {
	caller := &stubCaller{}
	recorder := &stubRecorder{}
	svc := NewService(caller, recorder, testAliases)

	result, err := svc.Run(context.Background(), models.Identity{}, "q")
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if recorder.inserted {
		t.Fatalf("anonymous run was persisted")
	}
	if result.RecordID != 0 {
		t.Fatalf("anonymous run has record id %d", result.RecordID)
	}
	if len(result.Responses) != len(testAliases) || result.Comparison == "" {
		t.Fatalf("anonymous run missing results")
	}
}
