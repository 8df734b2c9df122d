package vision

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdevavi/aureus/internal/cache"
	"github.com/webdevavi/aureus/internal/imaging"
	"github.com/webdevavi/aureus/internal/llm"
)

func items(sizes ...int) []Item {
	out := make([]Item, len(sizes))
	for i, s := range sizes {
		out[i] = Item{Page: i + 1, Data: make([]byte, s)}
	}
	return out
}

func pages(batches [][]Item) [][]int {
	var out [][]int
	for _, b := range batches {
		var ps []int
		for _, it := range b {
			ps = append(ps, it.Page)
		}
		out = append(out, ps)
	}
	return out
}

func TestBatch(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int
		want  [][]int
	}{
		{"empty", nil, nil},
		{"count cap", []int{1, 1, 1, 1, 1, 1, 1}, [][]int{{1, 2, 3, 4, 5}, {6, 7}}},
		{"byte cap", []int{400_000, 400_000, 200_000, 10}, [][]int{{1, 2}, {3, 4}}},
		{"exact fit", []int{450_000, 450_000, 1}, [][]int{{1, 2}, {3}}},
		{"oversized alone", []int{10, 1_000_000, 10}, [][]int{{1}, {2}, {3}}},
		{"oversized first", []int{2_000_000, 5}, [][]int{{1}, {2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pages(Batch(items(tt.sizes...), MaxBatchCount, MaxBatchBytes)))
		})
	}
}

func TestBatchProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		n := rng.Intn(30)
		sizes := make([]int, n)
		for i := range sizes {
			sizes[i] = rng.Intn(1_200_000)
		}
		in := items(sizes...)
		batches := Batch(in, MaxBatchCount, MaxBatchBytes)

		var flat []int
		for _, b := range batches {
			require.NotEmpty(t, b)
			assert.LessOrEqual(t, len(b), MaxBatchCount)
			total := 0
			for _, it := range b {
				total += len(it.Data)
				flat = append(flat, it.Page)
			}
			if total > MaxBatchBytes {
				// the only batch allowed over the byte cap is a lone oversized preview
				require.Len(t, b, 1)
				assert.Greater(t, len(b[0].Data), MaxBatchBytes)
			}
		}
		want := make([]int, n)
		for i := range want {
			want[i] = i + 1
		}
		if n == 0 {
			want = nil
		}
		assert.Equal(t, want, flat, "every item exactly once, in order")
	}
}

func TestPreprocess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.jpg")
	_, err := imaging.SaveJPEG(path, image.NewRGBA(image.Rect(0, 0, 1800, 1200)), 90)
	require.NoError(t, err)

	data, err := Preprocess(path)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 900, img.Bounds().Dx())
	assert.Equal(t, 600, img.Bounds().Dy())
	_, gray := img.(*image.Gray)
	assert.True(t, gray)

	_, err = Preprocess(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

type fakeCompleter struct {
	calls   atomic.Int32
	reply   func(req llm.ChatRequest) (string, error)
	lastReq llm.ChatRequest
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.ChatRequest) (string, error) {
	f.calls.Add(1)
	f.lastReq = req
	return f.reply(req)
}

func TestAnalyzerRun(t *testing.T) {
	fc := &fakeCompleter{reply: func(req llm.ChatRequest) (string, error) {
		parts := req.Messages[1].Content.([]llm.ContentPart)
		if len(parts)-1 == 2 {
			return "```json\n[{\"page_index\":1,\"page_type\":\"chart\"},{\"page_index\":2,\"page_type\":\"table\"}]\n```", nil
		}
		return "", errors.New("boom")
	}}
	a, err := NewAnalyzer(fc, cache.NewMemoryClient(0), Options{Model: "vision-test"}, nil)
	require.NoError(t, err)

	in := []Item{
		{Page: 3, Data: []byte("a")}, {Page: 4, Data: []byte("b")},
		{Page: 5, Data: []byte("c")}, {Page: 6, Data: []byte("d")},
		{Page: 7, Data: []byte("e")}, {Page: 9, Data: []byte("f")},
	}
	out := a.Run(context.Background(), in)

	assert.Len(t, out, 0, "first batch has 5 pages and fails; the second has 1")
	assert.EqualValues(t, 2, fc.calls.Load())

	out = a.Run(context.Background(), in[:2])
	require.Len(t, out, 2)
	assert.Equal(t, "chart", out[3]["page_type"])
	assert.Equal(t, "table", out[4]["page_type"])

	parts := fc.lastReq.Messages[1].Content.([]llm.ContentPart)
	assert.Equal(t, "text", parts[0].Type)
	assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,"))
	assert.Equal(t, "vision-test", fc.lastReq.Model)
}

func TestAnalyzeBatchCaches(t *testing.T) {
	fc := &fakeCompleter{reply: func(llm.ChatRequest) (string, error) {
		return `[{"page_index": 1, "page_type": "chart", "insights": ["up"]}]`, nil
	}}
	a, err := NewAnalyzer(fc, cache.NewMemoryClient(0), Options{}, nil)
	require.NoError(t, err)

	batch := []Item{{Page: 1, Data: []byte("img")}}
	first, err := a.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)
	second, err := a.AnalyzeBatch(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, fc.calls.Load())

	_, err = a.AnalyzeBatch(context.Background(), []Item{{Page: 1, Data: []byte("other")}})
	require.NoError(t, err)
	assert.EqualValues(t, 2, fc.calls.Load())
}

func TestDecodeMarksInvalidEntries(t *testing.T) {
	a, err := NewAnalyzer(&fakeCompleter{}, nil, Options{}, nil)
	require.NoError(t, err)

	res, err := a.decode(`[{"page_index": "one"}, 7, {"page_type": "chart"}]`)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "unknown", res[0]["page_type"])
	assert.Equal(t, "unknown", res[1]["page_type"])
	assert.Equal(t, "chart", res[2]["page_type"])

	single, err := a.decode(`{"page_type": "cover"}`)
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = a.decode(`"just a string"`)
	assert.Error(t, err)
}
