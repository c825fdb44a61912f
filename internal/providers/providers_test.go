package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/rahul/switchboard/internal/capability"
	"github.com/rahul/switchboard/internal/observability"
	"github.com/rahul/switchboard/pkg/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
app:
  workspace: ` + t.TempDir() + `
providers:
  openai:
    enabled: true
    api_key: sk-test
    model: gpt-4o-mini
`))
	require.NoError(t, err)
	return cfg
}

func TestFactory_Build(t *testing.T) {
	f, err := NewFactory(testConfig(t), nil)
	require.NoError(t, err)
	ctx := context.Background()

	h, err := f.Build(ctx, capability.Text)
	require.NoError(t, err)
	assert.Implements(t, (*capability.TextGenerator)(nil), h)

	h, err = f.Build(ctx, capability.Vision)
	require.NoError(t, err)
	assert.Implements(t, (*capability.ImageDescriber)(nil), h)

	h, err = f.Build(ctx, capability.SpeechInput)
	require.NoError(t, err)
	assert.Implements(t, (*capability.Transcriber)(nil), h)

	h, err = f.Build(ctx, capability.SpeechOutput)
	require.NoError(t, err)
	assert.Implements(t, (*capability.Synthesizer)(nil), h)

	h, err = f.Build(ctx, capability.Embedding)
	require.NoError(t, err)
	assert.Implements(t, (*capability.Embedder)(nil), h)
	_, searchable := h.(capability.Searcher)
	assert.False(t, searchable, "no qdrant url configured")

	h, err = f.Build(ctx, capability.Document)
	require.NoError(t, err)
	assert.Implements(t, (*capability.DocumentReader)(nil), h)

	for _, id := range []capability.ID{capability.Video, capability.AudioGeneration} {
		_, err = f.Build(ctx, id)
		assert.ErrorIs(t, err, ErrNoBackend)
	}
}

func TestNewFactory_NoProvider(t *testing.T) {
	cfg, err := config.Parse([]byte("providers: {}\n"))
	require.NoError(t, err)
	_, err = NewFactory(cfg, nil)
	assert.Error(t, err)
}

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "RIFFfake", string(data))
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello there"})
	}))
	defer srv.Close()

	audio := filepath.Join(t.TempDir(), "note.wav")
	require.NoError(t, os.WriteFile(audio, []byte("RIFFfake"), 0644))

	w := NewWhisper("key", srv.URL, "", observability.NewNopLogger())
	text, err := w.Transcribe(context.Background(), audio)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)

	_, err = NewWhisper("", srv.URL, "", observability.NewNopLogger()).Transcribe(context.Background(), audio)
	assert.Error(t, err)
}

func TestSpeaker_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Input == "fail" {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			return
		}
		assert.Equal(t, "tts-1", req.Model)
		assert.Equal(t, "nova", req.Voice)
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	s := NewSpeaker("key", srv.URL, "", "nova", dir, observability.NewNopLogger())
	path, err := s.Synthesize(context.Background(), "good morning")
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(data))

	_, err = s.Synthesize(context.Background(), "fail")
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = s.Synthesize(context.Background(), "  ")
	assert.Error(t, err)
}

func TestDocumentHandle_ReadDocument(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("plain notes"), 0644))
	html := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(html, []byte("<html><body><p>Hello page</p></body></html>"), 0644))

	out, err := documentHandle{}.ReadDocument(context.Background(), txt)
	require.NoError(t, err)
	assert.Equal(t, "plain notes", out)

	out, err = documentHandle{}.ReadDocument(context.Background(), html)
	require.NoError(t, err)
	assert.Contains(t, out, "Hello page")

	_, err = documentHandle{}.ReadDocument(context.Background(), filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

type visionModel struct {
	parts []llms.ContentPart
}

func (m *visionModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.parts = msgs[0].Parts
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "a red bicycle"}}}, nil
}

func (m *visionModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", nil
}

func TestVisionHandle_DescribeImage(t *testing.T) {
	m := &visionModel{}
	out, err := (&visionHandle{model: m}).DescribeImage(context.Background(), "https://example.com/b.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, "a red bicycle", out)
	require.Len(t, m.parts, 2)
	assert.Equal(t, llms.TextPart("Describe this image."), m.parts[0])
	assert.Equal(t, llms.ImageURLPart("https://example.com/b.jpg"), m.parts[1])
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeStore struct{ query string }

func (s *fakeStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	return nil, nil
}

func (s *fakeStore) SimilaritySearch(ctx context.Context, query string, n int, options ...vectorstores.Option) ([]schema.Document, error) {
	s.query = query
	return []schema.Document{{PageContent: "first"}, {PageContent: "second"}}[:n], nil
}

func TestFactory_EmbeddingWithStore(t *testing.T) {
	f, err := NewFactory(testConfig(t), nil)
	require.NoError(t, err)
	store := &fakeStore{}
	f.Store = store

	h, err := f.Build(context.Background(), capability.Embedding)
	require.NoError(t, err)
	s, ok := h.(capability.Searcher)
	require.True(t, ok)

	hits, err := s.Search(context.Background(), "bikes", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, hits)
	assert.Equal(t, "bikes", store.query)

	vec, err := (&embeddingHandle{embedder: fakeEmbedder{}}).EmbedQuery(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}
