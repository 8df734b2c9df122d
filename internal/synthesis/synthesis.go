package synthesis

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/webdevavi/aureus/internal/common"
	"github.com/webdevavi/aureus/internal/llm"
)

//go:embed report_schema.json
var reportSchema []byte

const (
	DefaultAttempts   = 5
	DefaultMaxBackoff = 30 * time.Second
	defaultMaxTokens  = 4000
	defaultSeed       = 42

	// SentinelMessage is the error text of the report written when every attempt failed.
	SentinelMessage = "All retries failed."

	systemPrompt = "You are a financial analyst producing structured equity reports."
)

var errNotObject = errors.New("parsed report is not an object")

// Completer is the chat capability the synthesizer needs.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
}

type Options struct {
	Model      string
	Attempts   int
	MaxBackoff time.Duration
	MaxTokens  int
	Sleep      common.Sleeper
}

type Synthesizer struct {
	llm    Completer
	schema *jsonschema.Schema
	opts   Options
	logger *slog.Logger
}

// Result is the outcome of a synthesis run. When Sentinel is set, Report holds the
// sentinel object and Err the last failure.
type Result struct {
	Report   map[string]any
	Sentinel bool
	Attempts int
	Err      error
}

func New(c Completer, opts Options, logger *slog.Logger) (*Synthesizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Sleep == nil {
		opts.Sleep = common.Sleep
	}
	schema, err := llm.CompileSchema(reportSchema)
	if err != nil {
		return nil, err
	}
	return &Synthesizer{llm: c, schema: schema, opts: opts, logger: logger}, nil
}

// Schema returns the embedded report schema document.
func Schema() []byte { return bytes.Clone(reportSchema) }

// SentinelReport returns a fresh copy of the report written on exhaustion.
func SentinelReport() map[string]any {
	return map[string]any{"error": SentinelMessage}
}

// IsSentinel reports whether a decoded report is the exhaustion sentinel.
func IsSentinel(report map[string]any) bool {
	msg, ok := report["error"].(string)
	return ok && msg == SentinelMessage
}

// BuildPrompt renders the user prompt for one company and its compressed context document.
func BuildPrompt(company string, doc []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n\n", company)
	b.WriteString("Using only the extracted document content below, produce a structured financial report.\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Return a single JSON object that matches the schema exactly.\n")
	b.WriteString("- Use figures as stated in the source, keeping units and periods.\n")
	b.WriteString("- Omit optional fields you cannot support from the content. Do not invent numbers.\n")
	b.WriteString("- Build charts only from series that appear in tables or chart data.\n")
	b.WriteString("- Output JSON only, with no prose and no code fences.\n\n")
	b.WriteString("JSON schema:\n")
	b.Write(reportSchema)
	b.WriteString("\n\nDocument content:\n")
	b.Write(doc)
	return b.String()
}

// Generate asks the model for a report until one parses and validates or attempts run out.
// Exhaustion is not an error: the sentinel report is returned with the last failure.
func (s *Synthesizer) Generate(ctx context.Context, company string, doc []byte) Result {
	prompt := BuildPrompt(company, doc)
	seed := defaultSeed
	req := llm.ChatRequest{
		Model: s.opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
		TopP:        1,
		Seed:        &seed,
		MaxTokens:   s.opts.MaxTokens,
	}
	s.logger.Info("synthesis.start", "company", company, "context_bytes", len(doc), "attempts", s.opts.Attempts)

	var lastErr error
	for attempt := 0; attempt < s.opts.Attempts; attempt++ {
		report, err := s.attempt(ctx, req)
		if err == nil {
			s.logger.Info("synthesis.ok", "attempt", attempt+1, "keys", len(report))
			return Result{Report: report, Attempts: attempt + 1}
		}
		lastErr = err
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			return s.exhausted(attempt+1, lastErr)
		}
		if attempt == s.opts.Attempts-1 {
			s.logger.Warn("synthesis.attempt.failed", "attempt", attempt+1, "error", err)
			break
		}
		wait := common.Backoff(attempt, time.Second, s.opts.MaxBackoff)
		s.logger.Warn("synthesis.attempt.failed", "attempt", attempt+1, "wait", wait, "error", err)
		if err := s.opts.Sleep(ctx, wait); err != nil {
			return s.exhausted(attempt+1, err)
		}
	}
	return s.exhausted(s.opts.Attempts, lastErr)
}

func (s *Synthesizer) exhausted(attempts int, err error) Result {
	s.logger.Error("synthesis.exhausted", "attempts", attempts, "error", err)
	return Result{Report: SentinelReport(), Sentinel: true, Attempts: attempts, Err: err}
}

func (s *Synthesizer) attempt(ctx context.Context, req llm.ChatRequest) (map[string]any, error) {
	raw, err := s.llm.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, llm.ErrEmptyResponse
	}
	v, err := llm.RecoverJSON(raw)
	if err != nil {
		return nil, err
	}
	report, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", errNotObject, v)
	}
	if err := llm.Validate(s.schema, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Encode writes a report as indented JSON without HTML escaping.
func Encode(report map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a report artifact.
func Decode(data []byte) (map[string]any, error) {
	var report map[string]any
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("%w: report json: %v", common.ErrInvalidInput, err)
	}
	if report == nil {
		return nil, fmt.Errorf("%w: report json is null", common.ErrInvalidInput)
	}
	return report, nil
}
