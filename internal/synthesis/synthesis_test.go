package synthesis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/knoguchi/supportrag/internal/llm"
	"github.com/knoguchi/supportrag/internal/reranker"
)

type fakeLLM struct {
	out    string
	err    error
	calls  int
	prompt string
	opts   llm.GenerateOptions
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	f.calls++
	f.prompt = prompt
	f.opts = opts
	return f.out, f.err
}

func TestAssembleContext(t *testing.T) {
	results := []reranker.RankedResult{
		{Question: "I can't reset my password", Similarity: 0.92, Answer: "Use the forgot-password link and check spam folder."},
		{Question: "VPN drops", Similarity: 0.5, Answer: ""},
	}

	got := AssembleContext(results)
	want := "The following are previous similar questions, their similarity scores, and the answers given:\n\n" +
		"Question: I can't reset my password\nSimilarity Score: 0.92\nAnswer: Use the forgot-password link and check spam folder.\n\n" +
		"Question: VPN drops\nSimilarity Score: 0.5\nAnswer: \n\n"

	if got != want {
		t.Errorf("unexpected context:\n%q\nwant:\n%q", got, want)
	}
	if AssembleContext(results) != got {
		t.Error("expected identical output for identical input")
	}
}

func TestAssembleContext_Empty(t *testing.T) {
	got := AssembleContext(nil)
	if !strings.HasPrefix(got, contextHeader) {
		t.Errorf("expected header, got %q", got)
	}
	if !strings.Contains(got, "No similar previous questions were found.") {
		t.Errorf("expected explicit no-match statement, got %q", got)
	}
	if strings.Contains(got, "Question:") {
		t.Errorf("expected no blocks, got %q", got)
	}
}

func TestParseAnswer_Valid(t *testing.T) {
	raw := "  \n" + `{"summary":"Reset via the forgot-password link.","source_questions":["I can't reset my password"],"source_answers":["Use the forgot-password link and check spam folder."]}` + "\n"

	ans, err := ParseAnswer(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ans.Summary != "Reset via the forgot-password link." {
		t.Errorf("unexpected summary %q", ans.Summary)
	}
	if len(ans.SourceQuestions) != 1 || ans.SourceQuestions[0] != "I can't reset my password" {
		t.Errorf("unexpected source questions %v", ans.SourceQuestions)
	}
	if len(ans.SourceAnswers) != 1 {
		t.Errorf("unexpected source answers %v", ans.SourceAnswers)
	}
}

func TestParseAnswer_EmptyArraysAllowed(t *testing.T) {
	ans, err := ParseAnswer(`{"summary":"I could not find a similar ticket.","source_questions":[],"source_answers":[]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ans.SourceQuestions == nil || len(ans.SourceQuestions) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", ans.SourceQuestions)
	}
}

func TestParseAnswer_Violations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"not json", "Sure, here is the answer."},
		{"preamble", `Here you go: {"summary":"a","source_questions":[],"source_answers":[]}`},
		{"code fence", "```json\n{\"summary\":\"a\",\"source_questions\":[],\"source_answers\":[]}\n```"},
		{"truncated", `{"summary":"a","source_questions":["q"`},
		{"trailing object", `{"summary":"a","source_questions":[],"source_answers":[]}{"summary":"b"}`},
		{"trailing text", `{"summary":"a","source_questions":[],"source_answers":[]} thanks`},
		{"missing summary", `{"source_questions":[],"source_answers":[]}`},
		{"missing source answers", `{"summary":"a","source_questions":[]}`},
		{"null field", `{"summary":"a","source_questions":null,"source_answers":[]}`},
		{"unknown field", `{"summary":"a","source_questions":[],"source_answers":[],"confidence":0.9}`},
		{"wrong type", `{"summary":1,"source_questions":[],"source_answers":[]}`},
		{"wrong element type", `{"summary":"a","source_questions":[1],"source_answers":[]}`},
		{"array", `[{"summary":"a","source_questions":[],"source_answers":[]}]`},
		{"null", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ans, err := ParseAnswer(tt.raw)
			if !errors.Is(err, ErrContractViolation) {
				t.Fatalf("expected ErrContractViolation, got %v", err)
			}
			if ans != nil {
				t.Errorf("expected no answer, got %+v", ans)
			}
		})
	}
}

func TestSynthesizer_Synthesize(t *testing.T) {
	fake := &fakeLLM{out: `{"summary":"ok","source_questions":["q"],"source_answers":["a"]}`}
	s := NewSynthesizer(fake)

	ctxText := AssembleContext([]reranker.RankedResult{{Question: "q", Similarity: 0.9, Answer: "a"}})
	ans, err := s.Synthesize(context.Background(), "How do I reset my password?", ctxText)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if ans.Summary != "ok" {
		t.Errorf("unexpected summary %q", ans.Summary)
	}

	if fake.calls != 1 {
		t.Errorf("expected exactly one model call, got %d", fake.calls)
	}
	if fake.opts.SystemPrompt != DefaultSystemPrompt {
		t.Errorf("unexpected system prompt %q", fake.opts.SystemPrompt)
	}
	if fake.opts.Temperature != DefaultTemperature || fake.opts.MaxTokens != DefaultMaxTokens {
		t.Errorf("unexpected sampling options %+v", fake.opts)
	}
	if !fake.opts.JSON {
		t.Error("expected JSON output mode")
	}

	for _, want := range []string{ctxText, "User's question: How do I reset my password?", `"source_questions"`, "Do not truncate"} {
		if !strings.Contains(fake.prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, fake.prompt)
		}
	}
}

func TestSynthesizer_Options(t *testing.T) {
	fake := &fakeLLM{out: `{"summary":"","source_questions":[],"source_answers":[]}`}
	s := NewSynthesizer(fake,
		WithModel("gpt-4o-mini"),
		WithSystemPrompt("custom"),
		WithTemperature(0.2),
		WithMaxTokens(256),
	)

	if _, err := s.Synthesize(context.Background(), "q", AssembleContext(nil)); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	want := llm.GenerateOptions{Model: "gpt-4o-mini", SystemPrompt: "custom", Temperature: 0.2, MaxTokens: 256, JSON: true}
	if fake.opts != want {
		t.Errorf("expected %+v, got %+v", want, fake.opts)
	}
}

func TestSynthesizer_ZeroTemperatureKeepsDefault(t *testing.T) {
	fake := &fakeLLM{out: `{"summary":"","source_questions":[],"source_answers":[]}`}
	s := NewSynthesizer(fake, WithTemperature(0))

	if _, err := s.Synthesize(context.Background(), "q", AssembleContext(nil)); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if fake.opts.Temperature != DefaultTemperature {
		t.Errorf("expected default temperature %v, got %v", DefaultTemperature, fake.opts.Temperature)
	}
}

func TestSynthesizer_ModelFailure(t *testing.T) {
	fake := &fakeLLM{err: errors.New("connection refused")}
	s := NewSynthesizer(fake)

	_, err := s.Synthesize(context.Background(), "q", AssembleContext(nil))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if errors.Is(err, ErrContractViolation) {
		t.Error("transport failure must not be reported as a contract violation")
	}
	if fake.calls != 1 {
		t.Errorf("expected no retries, got %d calls", fake.calls)
	}
}

func TestSynthesizer_ContractViolation(t *testing.T) {
	fake := &fakeLLM{out: `{"summary":"cut off","source_questions":["`}
	s := NewSynthesizer(fake)

	ans, err := s.Synthesize(context.Background(), "q", AssembleContext(nil))
	if !errors.Is(err, ErrContractViolation) {
		t.Fatalf("expected ErrContractViolation, got %v", err)
	}
	if ans != nil {
		t.Errorf("expected no answer, got %+v", ans)
	}
}
