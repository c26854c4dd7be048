package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"aicompare/internal/metrics"
	"aicompare/internal/models"
)

// enhancePrompt is prepended to every user prompt before fan-out. It is a
// configuration constant, never user-controlled.
const enhancePrompt = "Explain in simple, clear language as if you are teaching someone " +
	"with no prior knowledge. Break the explanation into sections with headings. " +
	"Use analogies and examples to make complex ideas easy to understand. " +
	"Format it like a web article with short paragraphs and bullet points. "

const comparisonInstructions = "Please provide a semantic comparison highlighting the main " +
	"differences in approach, content, and style. The result should be for a general " +
	"audience. Make it engaging, informative, and easy to read. Use headings, subheadings, " +
	"short paragraphs, and bullet points. The tone should be friendly and professional, " +
	"suitable for a website. End with a call-to-action inviting readers to share the article."

// ModelCaller is the outbound side of the workflow. The gateway client
// implements it; tests substitute a stub.
type ModelCaller interface {
	Complete(ctx context.Context, alias, prompt string) (string, error)
	Compare(ctx context.Context, prompt string) (string, error)
}

// Recorder persists completed runs for authenticated users.
type Recorder interface {
	Insert(ctx context.Context, userID int64, prompt string, responses map[string]string, comparison string) (*models.QueryRecord, error)
}

// Service orchestrates one dispatch run: sequential fan-out over the
// configured models, one comparison call, then persistence. Any model error
// aborts the whole run; nothing partial is returned or stored.
type Service struct {
	caller  ModelCaller
	history Recorder
	aliases []string
}

// Result is the aggregate returned to the caller. RecordID is zero for
// anonymous runs.
type Result struct {
	Responses  map[string]string `json:"responses"`
	Comparison string            `json:"comparison"`
	RecordID   int64             `json:"-"`
}

func NewService(caller ModelCaller, history Recorder, aliases []string) *Service {
	return &Service{caller: caller, history: history, aliases: aliases}
}

// Run executes the workflow for one prompt. Model calls are strictly
// sequential: in provisioning mode every call mints its own credential.
func (s *Service) Run(ctx context.Context, identity models.Identity, rawQuery string) (*Result, error) {
	m := metrics.Global()
	m.QueriesTotal.Inc()

	augmented := enhancePrompt + rawQuery

	responses := make(map[string]string, len(s.aliases))
	for _, alias := range s.aliases {
		log.Debug().Str("model", alias).Msg("calling model")
		text, err := s.caller.Complete(ctx, alias, augmented)
		if err != nil {
			m.QueryFailures.Inc()
			return nil, fmt.Errorf("model %s: %w", alias, err)
		}
		responses[alias] = text
	}

	log.Debug().Msg("calling comparison model")
	comparison, err := s.caller.Compare(ctx, s.comparisonPrompt(responses))
	if err != nil {
		m.QueryFailures.Inc()
		return nil, fmt.Errorf("comparison: %w", err)
	}

	result := &Result{Responses: responses, Comparison: comparison}

	// Anonymous runs still get the result, they just leave no record.
	if identity.Authenticated() {
		rec, err := s.history.Insert(ctx, identity.UserID, rawQuery, responses, comparison)
		if err != nil {
			m.QueryFailures.Inc()
			return nil, fmt.Errorf("persist query: %w", err)
		}
		result.RecordID = rec.ID
	}

	return result, nil
}

// comparisonPrompt embeds every collected response verbatim, labeled by
// alias, in the configured fan-out order.
func (s *Service) comparisonPrompt(responses map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compare these %d AI responses and highlight the key differences:\n\n", len(s.aliases))
	for _, alias := range s.aliases {
		fmt.Fprintf(&b, "%s: %s\n\n", labelFor(alias), responses[alias])
	}
	b.WriteString(comparisonInstructions)
	return b.String()
}

func labelFor(alias string) string {
	if alias == "" {
		return alias
	}
	return strings.ToUpper(alias[:1]) + alias[1:]
}
