package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	"github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/soundguardian/sentinel-go/internal/conf"
	"github.com/soundguardian/sentinel-go/internal/errors"
	"github.com/soundguardian/sentinel-go/internal/logging"
	"github.com/soundguardian/sentinel-go/internal/triage"
)

// systemPrompt instructs the verification model. The safety posture is
// asymmetric on purpose: a missed emergency costs far more than a false
// alarm for a user who cannot hear the follow-up sounds.
const systemPrompt = `You are an emergency sound verification AI for deaf, hard-of-hearing, and elderly users.

MISSION: MAXIMIZE USER SAFETY. Missing a real emergency is far worse than a false alarm.

IMMEDIATE EMERGENCY TRIGGERS (single detection is enough):

1. GUNSHOTS: If isGunshot=true OR "gunshot/machine gun/gunfire" in top10 -> EMERGENCY
2. GLASS BREAKING: If "glass/shatter/smash" at 25%+ confidence -> EMERGENCY (break-in)
3. EMERGENCY SIRENS: If "police/ambulance/siren/fire alarm" at 25%+ -> EMERGENCY
4. SCREAMS: If "scream/shriek/yell" at 35%+ confidence -> EMERGENCY

PATTERN TRIGGERS (check patternReason field):
- "GLASS_BREAK" -> EMERGENCY (potential break-in)
- "POLICE_SIREN" -> EMERGENCY (police nearby - danger or help needed)
- "AMBULANCE_SIREN" -> EMERGENCY (medical emergency nearby)
- "FIRE_ALARM" -> EMERGENCY (fire detected)
- "SMOKE_ALARM" -> EMERGENCY (fire detected)
- "EMERGENCY_SIREN" -> EMERGENCY (general emergency)
- "DISTRESS" -> EMERGENCY (someone in distress)

CRITICAL RULES:
- Police/ambulance sirens at HIGH confidence (50%+) = DEFINITE EMERGENCY
- These sounds happen ONCE in real emergencies - respond immediately
- False positives are acceptable, false negatives are NOT

Output ONLY valid JSON:
{"emergency": boolean, "reason": "brief explanation", "recommendation": "specific action for deaf user"}`

// jsonObjectRe extracts the first JSON object from a response that still
// carries surrounding prose.
var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// LLMReasoner verifies triggers through a chat completion provider.
type LLMReasoner struct {
	backend   anyllm.Provider
	model     string
	maxTokens int
}

// NewLLMReasoner creates a reasoner for the configured provider. Without an
// explicit API key the provider reads its usual environment variable.
func NewLLMReasoner(cfg *conf.EscalationSettings) (*LLMReasoner, error) {
	var opts []anyllm.Option
	if cfg.APIKey != "" {
		opts = append(opts, anyllm.WithAPIKey(cfg.APIKey))
	}

	var (
		backend anyllm.Provider
		err     error
	)
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		backend, err = anthropic.New(opts...)
	case "openai":
		backend, err = openai.New(opts...)
	case "gemini":
		backend, err = gemini.New(opts...)
	case "ollama":
		backend, err = ollama.New(opts...)
	default:
		return nil, errors.Newf("unsupported reasoning provider %q", cfg.Provider).
			Component("escalation").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("escalation").
			Category(errors.CategoryReasoning).
			Context("provider", cfg.Provider).
			Build()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	return &LLMReasoner{backend: backend, model: cfg.Model, maxTokens: maxTokens}, nil
}

// historyItem is the compact history representation sent to the model.
type historyItem struct {
	Sound    string `json:"sound"`
	Conf     string `json:"conf"`
	Critical bool   `json:"critical"`
}

type categoryItem struct {
	Label      string `json:"label"`
	Confidence string `json:"confidence"`
}

// promptPayload is the user message body.
type promptPayload struct {
	CurrentSound string                `json:"currentSound"`
	Confidence   string                `json:"confidence"`
	IsGunshot    bool                  `json:"isGunshot"`
	Pattern      triage.PatternSummary `json:"pattern"`
	Top10        []categoryItem        `json:"top10"`
	History      []historyItem         `json:"recentHistory"`
	Context      string                `json:"context"`
}

// Verify sends the trigger context to the model and parses its JSON verdict.
func (r *LLMReasoner) Verify(ctx context.Context, tc *triage.TriggerContext) (*Verdict, error) {
	start := time.Now()
	log := logging.ForService("escalation")

	userMessage, err := json.Marshal(buildPayload(tc))
	if err != nil {
		return nil, errors.New(err).
			Component("escalation").
			Category(errors.CategoryReasoning).
			Context("operation", "marshal_payload").
			Build()
	}

	maxTokens := r.maxTokens
	resp, err := r.backend.Completion(ctx, anyllm.CompletionParams{
		Model: r.model,
		Messages: []anyllm.Message{
			{Role: anyllm.RoleSystem, Content: systemPrompt},
			{Role: anyllm.RoleUser, Content: string(userMessage)},
		},
		MaxTokens: &maxTokens,
	})
	if err != nil {
		if rle := asRateLimit(err); rle != nil {
			return nil, rle
		}
		return nil, errors.New(err).
			Component("escalation").
			Category(errors.CategoryReasoning).
			Context("model", r.model).
			Timing("completion", time.Since(start)).
			Build()
	}
	if len(resp.Choices) == 0 {
		return nil, errors.Newf("reasoning service returned no choices").
			Component("escalation").
			Category(errors.CategoryReasoning).
			Context("model", r.model).
			Build()
	}

	text := resp.Choices[0].Message.ContentString()
	verdict, err := parseVerdict(text)
	if err != nil {
		return nil, err
	}

	log.Debug("verdict received",
		"emergency", verdict.Emergency, "reason", verdict.Reason, "duration", time.Since(start))
	return verdict, nil
}

// buildPayload condenses the trigger context for the prompt. Only the last
// ten history entries go out, confidences are formatted as percentages.
func buildPayload(tc *triage.TriggerContext) promptPayload {
	history := tc.History
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	items := make([]historyItem, len(history))
	for i, h := range history {
		items[i] = historyItem{
			Sound:    h.Label,
			Conf:     fmt.Sprintf("%.0f%%", h.Score*100),
			Critical: h.Critical,
		}
	}

	top10 := make([]categoryItem, len(tc.TopCategories))
	for i, c := range tc.TopCategories {
		top10[i] = categoryItem{
			Label:      c.Label,
			Confidence: fmt.Sprintf("%.1f%%", c.Score*100),
		}
	}

	return promptPayload{
		CurrentSound: tc.Label,
		Confidence:   fmt.Sprintf("%.1f%%", tc.Confidence*100),
		IsGunshot:    tc.IsGunshot,
		Pattern:      tc.Pattern,
		Top10:        top10,
		History:      items,
		Context:      tc.UserContext,
	}
}

// parseVerdict extracts the JSON verdict from the model's reply, tolerating
// markdown fences and surrounding prose.
func parseVerdict(text string) (*Verdict, error) {
	clean := strings.ReplaceAll(text, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	if match := jsonObjectRe.FindString(clean); match != "" {
		clean = match
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(clean), &verdict); err != nil {
		return nil, errors.New(err).
			Component("escalation").
			Category(errors.CategoryReasoning).
			Context("operation", "parse_verdict").
			Context("response_length", len(text)).
			Build()
	}
	return &verdict, nil
}

// asRateLimit recognizes provider throttling errors and pulls out the
// suggested retry delay when present.
func asRateLimit(err error) *RateLimitError {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "429") && !strings.Contains(msg, "rate limit") &&
		!strings.Contains(msg, "rate_limit") {
		return nil
	}
	rle := &RateLimitError{}
	if m := retryAfterRe.FindStringSubmatch(msg); len(m) == 2 {
		if secs, convErr := strconv.Atoi(m[1]); convErr == nil {
			rle.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	if rle.RetryAfter == 0 {
		rle.RetryAfter = 60 * time.Second
	}
	return rle
}

var retryAfterRe = regexp.MustCompile(`retry.after[:\s]+(\d+)`)
