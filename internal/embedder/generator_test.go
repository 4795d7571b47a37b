package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeClient records the texts it receives and returns canned vectors.
type fakeClient struct {
	gotTexts []string
	vecs     [][]float32
	err      error
}

func (f *fakeClient) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.gotTexts = texts
	if f.err != nil {
		return nil, f.err
	}
	if f.vecs != nil {
		return f.vecs, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func newTestGenerator(t *testing.T, c Client) *Generator {
	t.Helper()
	g, err := NewGenerator(c, 3)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	return g
}

func Test_Generator_New_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewGenerator(nil, 3); err == nil {
		t.Error("want error for nil client")
	}
	if _, err := NewGenerator(&fakeClient{}, 0); err == nil {
		t.Error("want error for zero dimension")
	}
}

func Test_Generator_Embed_PreprocessesInput(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	g := newTestGenerator(t, fc)

	if _, err := g.Embed(context.Background(), "<p>Exam  Schedule</p>"); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(fc.gotTexts) != 1 || fc.gotTexts[0] != "exam schedule" {
		t.Errorf("backend received %v, want [\"exam schedule\"]", fc.gotTexts)
	}
}

func Test_Generator_Embed_EmptyYieldsZeroVector(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	g := newTestGenerator(t, fc)

	vec, err := g.Embed(context.Background(), "   <div></div>  ")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("vector length: got %d, want 3", len(vec))
	}
	for i, v := range vec {
		if v != 0 {
			t.Errorf("vec[%d] = %f, want 0", i, v)
		}
	}
	if fc.gotTexts != nil {
		t.Errorf("backend was called for empty input: %v", fc.gotTexts)
	}
}

func Test_Generator_EmbedBatch_PreservesPositions(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{vecs: [][]float32{{1, 1, 1}, {2, 2, 2}}}
	g := newTestGenerator(t, fc)

	out, err := g.EmbedBatch(context.Background(), []string{"first", "", "second"})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("output length: got %d, want 3", len(out))
	}
	if out[0][0] != 1 || out[2][0] != 2 {
		t.Errorf("live vectors scattered wrong: %v", out)
	}
	for i, v := range out[1] {
		if v != 0 {
			t.Errorf("empty slot vec[%d] = %f, want 0", i, v)
		}
	}
	if len(fc.gotTexts) != 2 {
		t.Errorf("backend received %d texts, want 2", len(fc.gotTexts))
	}
}

func Test_Generator_EmbedBatch_AllEmptySkipsBackend(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{err: errors.New("must not be called")}
	g := newTestGenerator(t, fc)

	out, err := g.EmbedBatch(context.Background(), []string{"", "  "})
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("output length: got %d, want 2", len(out))
	}
}

func Test_Generator_EmbedBatch_BackendErrorPropagates(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{err: errors.New("connection refused")}
	g := newTestGenerator(t, fc)

	if _, err := g.EmbedBatch(context.Background(), []string{"text"}); err == nil {
		t.Error("want backend error")
	}
}

func Test_Generator_EmbedBatch_RejectsWrongDimension(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{vecs: [][]float32{{1, 2}}}
	g := newTestGenerator(t, fc)

	if _, err := g.EmbedBatch(context.Background(), []string{"text"}); err == nil {
		t.Error("want dimension error for short backend vector")
	}
}

func Test_Generator_EmbedNotice_WeightsTitle(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{}
	g := newTestGenerator(t, fc)

	if _, err := g.EmbedNotice(context.Background(), "Exam Schedule", "exams in november"); err != nil {
		t.Fatalf("embed notice: %v", err)
	}
	if len(fc.gotTexts) != 1 {
		t.Fatalf("backend received %d texts", len(fc.gotTexts))
	}
	if n := strings.Count(fc.gotTexts[0], "exam schedule"); n != 2 {
		t.Errorf("title repeated %d times in %q, want 2", n, fc.gotTexts[0])
	}
	if !strings.Contains(fc.gotTexts[0], "exams in november") {
		t.Errorf("content missing from combined text: %q", fc.gotTexts[0])
	}
}

func Test_Generator_EmbedNoticeBatch_LengthMismatch(t *testing.T) {
	t.Parallel()
	g := newTestGenerator(t, &fakeClient{})

	if _, err := g.EmbedNoticeBatch(context.Background(), []string{"a", "b"}, []string{"c"}); err == nil {
		t.Error("want length mismatch error")
	}
}

func Test_OllamaEmbedder_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path: got %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model: got %q", req.Model)
		}
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = []float32{0.1, 0.2}
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: vecs})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 2 {
		t.Errorf("vectors: got %v", vecs)
	}
}

func Test_OllamaEmbedder_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Error: "model not found"})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "missing"})
	if _, err := e.Embed(context.Background(), []string{"a"}); err == nil {
		t.Error("want error from 500 response")
	}
}

func Test_OpenAIEmbedder_Embed_SortsByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header: got %q", got)
		}
		// Deliberately out of order.
		_, _ = w.Write([]byte(`{"data":[
			{"embedding":[2],"index":1},
			{"embedding":[1],"index":0}
		]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL, APIKey: "test-key", Model: "text-embedding-3-small"})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Errorf("vectors not re-ordered by index: %v", vecs)
	}
}
