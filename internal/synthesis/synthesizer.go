package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/knoguchi/supportrag/internal/llm"
)

var (
	// ErrContractViolation is returned when the model output is not exactly
	// one JSON object matching Answer.
	ErrContractViolation = errors.New("model output violates answer contract")

	// ErrUnavailable is returned when the model could not be reached.
	ErrUnavailable = errors.New("generative model unavailable")
)

const (
	DefaultSystemPrompt = "You are an IT customer support assistant."
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 512
)

// Answer is the structured response the model must produce.
type Answer struct {
	Summary         string   `json:"summary"`
	SourceQuestions []string `json:"source_questions"`
	SourceAnswers   []string `json:"source_answers"`
}

// Synthesizer generates an Answer from a query and an assembled context.
type Synthesizer struct {
	llm          llm.LLM
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int
}

// Option is a functional option for configuring Synthesizer.
type Option func(*Synthesizer)

// WithModel overrides the model client's default model.
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		s.model = model
	}
}

// WithSystemPrompt sets the system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(s *Synthesizer) {
		s.systemPrompt = prompt
	}
}

// WithTemperature sets the sampling temperature. Non-positive values are ignored.
func WithTemperature(t float32) Option {
	return func(s *Synthesizer) {
		if t > 0 {
			s.temperature = t
		}
	}
}

// WithMaxTokens bounds the length of the model output.
func WithMaxTokens(n int) Option {
	return func(s *Synthesizer) {
		s.maxTokens = n
	}
}

// NewSynthesizer creates a synthesizer on top of an LLM client.
func NewSynthesizer(client llm.LLM, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		llm:          client,
		systemPrompt: DefaultSystemPrompt,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize makes exactly one model call and parses its output. It does not
// retry.
func (s *Synthesizer) Synthesize(ctx context.Context, query, contextText string) (*Answer, error) {
	raw, err := s.llm.Generate(ctx, BuildPrompt(query, contextText), llm.GenerateOptions{
		Model:        s.model,
		SystemPrompt: s.systemPrompt,
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
		JSON:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return ParseAnswer(raw)
}

// BuildPrompt constructs the user instruction for a single-turn answer.
func BuildPrompt(query, contextText string) string {
	var sb strings.Builder

	sb.WriteString("Based on the previous similar questions and answers below, generate a helpful answer for the current user's question.\n\n")
	sb.WriteString(`Respond with a single JSON object in exactly this format, with no other text before or after it:
{"summary": "final helpful answer to the user", "source_questions": ["..."], "source_answers": ["..."]}
All three fields are required. Do not truncate the response and make sure the JSON object is properly closed.`)
	sb.WriteString("\n\n")

	sb.WriteString(contextText)
	if !strings.HasSuffix(contextText, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("\nUser's question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nOutput only the JSON object:")

	return sb.String()
}

// answerFields mirrors Answer with pointer fields so absent keys can be told
// apart from zero values.
type answerFields struct {
	Summary         *string   `json:"summary"`
	SourceQuestions *[]string `json:"source_questions"`
	SourceAnswers   *[]string `json:"source_answers"`
}

// ParseAnswer validates raw model output against the answer contract.
// Surrounding whitespace is ignored; anything else outside the single JSON
// object, including markdown fences, is a violation.
func ParseAnswer(raw string) (*Answer, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty output", ErrContractViolation)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(trimmed)))
	dec.DisallowUnknownFields()

	var fields answerFields
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContractViolation, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrContractViolation)
	}

	var missing []string
	if fields.Summary == nil {
		missing = append(missing, "summary")
	}
	if fields.SourceQuestions == nil {
		missing = append(missing, "source_questions")
	}
	if fields.SourceAnswers == nil {
		missing = append(missing, "source_answers")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrContractViolation, strings.Join(missing, ", "))
	}

	return &Answer{
		Summary:         *fields.Summary,
		SourceQuestions: *fields.SourceQuestions,
		SourceAnswers:   *fields.SourceAnswers,
	}, nil
}
