package vision

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/webdevavi/aureus/internal/cache"
	"github.com/webdevavi/aureus/internal/llm"
)

const batchPrompt = `You are a financial document parser.

You receive several chart or KPI images taken from one report. They are grayscale and low
resolution; extract the quantitative chart or table data and ignore cosmetic artifacts.
Return a JSON list with one object per image, in the order the images were given:

[
  {
    "page_index": int,
    "page_type": "chart" | "table" | "text" | "mixed" | "cover",
    "title": "string or null",
    "chart_type": "bar" | "line" | "pie" | "table" | "none",
    "entities": [{"label": "Revenue", "values": [100, 120, 140]}],
    "key_metrics": [{"name": "ROE", "value": "17.5%", "period": "Q2FY26"}],
    "insights": ["Revenue grew YoY"]
  }
]

Output only JSON, with no prose and no code fences.
If an image has no detectable structure, return
{"page_index": <number>, "page_type": "unknown", "error": "No structured data found"} for it.`

// pageSchema accepts the loose per-image object the prompt asks for.
var pageSchema = []byte(`{
  "type": "object",
  "properties": {
    "page_index": {"type": "integer"},
    "page_type": {"type": "string"},
    "title": {"type": ["string", "null"]},
    "chart_type": {"type": ["string", "null"]},
    "entities": {"type": "array", "items": {"type": "object"}},
    "key_metrics": {"type": "array", "items": {"type": "object"}},
    "insights": {"type": "array", "items": {"type": "string"}},
    "error": {"type": "string"}
  }
}`)

// Completer is the chat capability the analyzer needs.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
}

type Options struct {
	Model     string
	MaxTokens int
	CacheTTL  time.Duration
}

type Analyzer struct {
	llm    Completer
	cache  cache.Client
	opts   Options
	schema *jsonschema.Schema
	logger *slog.Logger
}

func NewAnalyzer(c Completer, store cache.Client, opts Options, logger *slog.Logger) (*Analyzer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = cache.Nop{}
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	schema, err := llm.CompileSchema(pageSchema)
	if err != nil {
		return nil, err
	}
	return &Analyzer{llm: c, cache: store, opts: opts, schema: schema, logger: logger}, nil
}

// Run batches items and analyzes each batch. Results are keyed by page number; pages in a
// failed batch are absent.
func (a *Analyzer) Run(ctx context.Context, items []Item) map[int]map[string]any {
	out := make(map[int]map[string]any, len(items))
	batches := Batch(items, MaxBatchCount, MaxBatchBytes)
	a.logger.Info("vision.batches.prepared", "pages", len(items), "batches", len(batches))

	for i, b := range batches {
		res, err := a.AnalyzeBatch(ctx, b)
		if err != nil {
			a.logger.Warn("vision.batch.failed", "batch", i+1, "pages", len(b), "error", err)
			continue
		}
		for j := 0; j < len(b) && j < len(res); j++ {
			out[b[j].Page] = res[j]
		}
		if len(res) != len(b) {
			a.logger.Warn("vision.batch.count_mismatch", "batch", i+1, "sent", len(b), "received", len(res))
		}
	}
	return out
}

// AnalyzeBatch sends one batch, consulting the cache first.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, batch []Item) ([]map[string]any, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	key := a.cacheKey(batch)
	if cached, err := a.cache.Get(ctx, key); err == nil {
		var res []map[string]any
		if err := json.Unmarshal(cached, &res); err == nil {
			a.logger.Debug("vision.cache.hit", "key", key, "pages", len(batch))
			return res, nil
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		a.logger.Warn("vision.cache.get_failed", "error", err)
	}

	parts := []llm.ContentPart{llm.TextPart(fmt.Sprintf("Analyze these %d pages.", len(batch)))}
	for _, it := range batch {
		parts = append(parts, llm.ImagePart("data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(it.Data)))
	}
	raw, err := a.llm.Complete(ctx, llm.ChatRequest{
		Model: a.opts.Model,
		Messages: []llm.Message{
			{Role: "system", Content: batchPrompt},
			{Role: "user", Content: parts},
		},
		Temperature: 0,
		MaxTokens:   a.opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	res, err := a.decode(raw)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(res); err == nil {
		if err := a.cache.Set(ctx, key, b, a.opts.CacheTTL); err != nil {
			a.logger.Warn("vision.cache.set_failed", "error", err)
		}
	}
	return res, nil
}

func (a *Analyzer) decode(raw string) ([]map[string]any, error) {
	v, err := llm.RecoverJSON(raw)
	if err != nil {
		return nil, err
	}
	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		list = []any{t}
	default:
		return nil, fmt.Errorf("vision response is %T, want a list", v)
	}
	out := make([]map[string]any, 0, len(list))
	for i, e := range list {
		obj, ok := e.(map[string]any)
		if !ok {
			obj = map[string]any{"page_type": "unknown", "error": "non-object entry"}
		} else if err := llm.Validate(a.schema, obj); err != nil {
			a.logger.Warn("vision.page.invalid", "index", i, "error", err)
			obj = map[string]any{"page_type": "unknown", "error": "invalid page object"}
		}
		out = append(out, obj)
	}
	return out, nil
}

// cacheKey hashes the model and every image with a length prefix.
func (a *Analyzer) cacheKey(batch []Item) string {
	h := sha256.New()
	h.Write([]byte(a.opts.Model))
	var n [8]byte
	for _, it := range batch {
		binary.BigEndian.PutUint64(n[:], uint64(len(it.Data)))
		h.Write(n[:])
		h.Write(it.Data)
	}
	return "vision:" + hex.EncodeToString(h.Sum(nil))
}
