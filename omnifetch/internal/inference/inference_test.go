package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- stub backend ---

type stubBackend struct {
	reply string
	err   error
	block bool
	got   []Message
}

func (s *stubBackend) Name() string                  { return "stub" }
func (s *stubBackend) Prepare(context.Context) error { return s.err }
func (s *stubBackend) Chat(ctx context.Context, msgs []Message) (string, error) {
	s.got = msgs
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

func TestParseSelectors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"plain", `{"title": "h1", "price": "span.price"}`, map[string]string{"title": "h1", "price": "span.price"}},
		{"fenced", "```json\n{\"title\": \"h1\"}\n```", map[string]string{"title": "h1"}},
		{"bare fence", "```\n{\"title\": \"#t\"}\n```", map[string]string{"title": "#t"}},
		{"padded", "  {\"title\": \" h1 \"}\n", map[string]string{"title": "h1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelectors(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, map[string]string(got))
		})
	}
}

func TestParseSelectors_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"prose":        "Sure! The title is in the h1.",
		"empty":        "",
		"array":        `["h1"]`,
		"empty object": `{}`,
		"number value": `{"title": 1}`,
		"nested":       `{"title": {"css": "h1"}}`,
		"bad selector": `{"title": "h1[["}`,
		"truncated":    `{"title": "h1"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSelectors(raw)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, raw, pe.Raw)
		})
	}
}

func TestEngine_Infer(t *testing.T) {
	b := &stubBackend{reply: `{"title": "h1"}`}
	e := NewEngine(b, Config{Logger: quiet})

	sel, err := e.Infer(context.Background(), `<h1>Castle</h1>`, "get the title")
	require.NoError(t, err)
	assert.Equal(t, "h1", sel["title"])

	require.Len(t, b.got, 3)
	assert.Equal(t, "system", b.got[0].Role)
	assert.Contains(t, b.got[1].Content, `<h1>Castle</h1>`)
	assert.Equal(t, "get the title", b.got[2].Content)
}

func TestEngine_NonJSONIsParseError(t *testing.T) {
	b := &stubBackend{reply: "I could not find anything useful."}
	e := NewEngine(b, Config{Logger: quiet})

	_, err := e.Infer(context.Background(), "<p>x</p>", "title")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "I could not find anything useful.", pe.Raw)
}

func TestEngine_BackendError(t *testing.T) {
	b := &stubBackend{err: errors.New("connection refused")}
	e := NewEngine(b, Config{Logger: quiet})

	_, err := e.Infer(context.Background(), "<p>x</p>", "title")
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "stub", be.Backend)
	assert.Contains(t, be.Error(), "connection refused")

	require.ErrorAs(t, e.Ready(context.Background()), &be)
}

func TestEngine_Timeout(t *testing.T) {
	b := &stubBackend{block: true}
	e := NewEngine(b, Config{Logger: quiet, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := e.Infer(context.Background(), "<p>x</p>", "title")
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// --- fake Ollama ---

type fakeOllama struct {
	mu        sync.Mutex
	installed []string
	pullFail  bool
	reply     string
	hangTags  atomic.Bool // /api/tags blocks until the client gives up

	pulls    atomic.Int32
	warmups  atomic.Int32
	lastChat ollamaChatRequest
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		if f.hangTags.Load() {
			<-r.Context().Done()
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		var resp tagsResponse
		for _, m := range f.installed {
			resp.Models = append(resp.Models, struct {
				Name  string `json:"name"`
				Model string `json:"model"`
			}{Name: m})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /api/pull", func(w http.ResponseWriter, r *http.Request) {
		f.pulls.Add(1)
		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/x-ndjson")
		if f.pullFail {
			fmt.Fprintln(w, `{"status":"pulling manifest"}`)
			fmt.Fprintln(w, `{"error":"pull model manifest: file does not exist"}`)
			return
		}
		fmt.Fprintln(w, `{"status":"pulling manifest"}`)
		fmt.Fprintln(w, `{"status":"downloading","total":100,"completed":50}`)
		fmt.Fprintln(w, `{"status":"downloading","total":100,"completed":100}`)
		fmt.Fprintln(w, `{"status":"success"}`)
		f.mu.Lock()
		f.installed = append(f.installed, req.Model)
		f.mu.Unlock()
	})
	mux.HandleFunc("POST /api/generate", func(w http.ResponseWriter, r *http.Request) {
		f.warmups.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"response":"","done":true}`)
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.lastChat = req
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Role: "assistant", Content: f.reply}})
	})
	return mux
}

func TestOllama_PullsMissingModelOnce(t *testing.T) {
	// WHAT: no model installed, many concurrent Prepare calls.
	// WHY: the bootstrap must download exactly once and warm up once.
	f := &fakeOllama{}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	var mu sync.Mutex
	var events []Progress
	o := NewOllama(OllamaConfig{
		BaseURL: srv.URL,
		Model:   "qwen2.5:1.5b",
		Logger:  quiet,
		OnProgress: func(p Progress) {
			mu.Lock()
			events = append(events, p)
			mu.Unlock()
		},
	})

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Prepare(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.pulls.Load())
	assert.Equal(t, int32(1), f.warmups.Load())
	assert.Equal(t, "qwen2.5:1.5b", o.Model())
	require.NotEmpty(t, events)
	assert.Equal(t, "success", events[len(events)-1].Status)

	// Steady state: no more bookkeeping.
	require.NoError(t, o.Prepare(context.Background()))
	assert.Equal(t, int32(1), f.pulls.Load())
}

func TestOllama_NoModelConfigured(t *testing.T) {
	t.Run("uses first installed", func(t *testing.T) {
		f := &fakeOllama{installed: []string{"mistral:latest", "llama3.2:latest"}}
		srv := httptest.NewServer(f.handler())
		defer srv.Close()

		o := NewOllama(OllamaConfig{BaseURL: srv.URL, Logger: quiet})
		require.NoError(t, o.Prepare(context.Background()))
		assert.Equal(t, "mistral:latest", o.Model())
		assert.Equal(t, int32(0), f.pulls.Load())
	})

	t.Run("pulls default", func(t *testing.T) {
		f := &fakeOllama{}
		srv := httptest.NewServer(f.handler())
		defer srv.Close()

		o := NewOllama(OllamaConfig{BaseURL: srv.URL, Logger: quiet})
		require.NoError(t, o.Prepare(context.Background()))
		assert.Equal(t, DefaultOllamaModel, o.Model())
		assert.Equal(t, int32(1), f.pulls.Load())
	})
}

func TestOllama_InstalledModelMatchesLatestTag(t *testing.T) {
	f := &fakeOllama{installed: []string{"llama3.2:latest"}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2", Logger: quiet})
	require.NoError(t, o.Prepare(context.Background()))
	assert.Equal(t, int32(0), f.pulls.Load())
	assert.Equal(t, int32(1), f.warmups.Load())
}

func TestOllama_PullFailureIsRetried(t *testing.T) {
	f := &fakeOllama{pullFail: true}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "ghost", Logger: quiet})
	err := o.Prepare(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
	assert.Empty(t, o.Model())

	f.pullFail = false
	require.NoError(t, o.Prepare(context.Background()))
	assert.Equal(t, int32(2), f.pulls.Load())
}

func TestOllama_HungServiceDoesNotWedgeBootstrap(t *testing.T) {
	// WHAT: /api/tags never answers on the first bootstrap.
	// WHY: the shared bootstrap must fail on its own deadline so a later
	// call starts a fresh attempt instead of joining a stuck one.
	f := &fakeOllama{installed: []string{"llama3.2:latest"}}
	f.hangTags.Store(true)
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	o := NewOllama(OllamaConfig{BaseURL: srv.URL, Model: "llama3.2", Logger: quiet, RequestTimeout: 50 * time.Millisecond})
	start := time.Now()
	err := o.Prepare(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	f.hangTags.Store(false)
	require.NoError(t, o.Prepare(context.Background()))
	assert.Equal(t, "llama3.2:latest", o.Model())
}

func TestOllama_ChatThroughEngine(t *testing.T) {
	f := &fakeOllama{installed: []string{"llama3.2:latest"}, reply: `{"title":"h1.headline"}`}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	backend, err := NewBackend(BackendConfig{Policy: "local", BaseURL: srv.URL, Model: "llama3.2:latest", Logger: quiet})
	require.NoError(t, err)
	e := NewEngine(backend, Config{Logger: quiet})
	assert.Equal(t, PolicyLocal, e.Backend())

	sel, err := e.Infer(context.Background(), `<h1 class="headline">News</h1>`, "title")
	require.NoError(t, err)
	assert.Equal(t, "h1.headline", sel["title"])

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "json", f.lastChat.Format)
	assert.False(t, f.lastChat.Stream)
	assert.Equal(t, "llama3.2:latest", f.lastChat.Model)
	assert.Len(t, f.lastChat.Messages, 3)
}

func TestOllama_ServiceDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	e := NewEngine(NewOllama(OllamaConfig{BaseURL: srv.URL, Logger: quiet}), Config{Logger: quiet})
	_, err := e.Infer(context.Background(), "<p>x</p>", "title")
	var be *BackendError
	require.ErrorAs(t, err, &be)
}

// --- OpenAI-compatible ---

func TestOpenAI_Chat(t *testing.T) {
	var gotAuth string
	var gotReq completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"{\"price\":\"#price\"}"}}]}`)
	}))
	defer srv.Close()

	backend, err := NewBackend(BackendConfig{Policy: "cloud", BaseURL: srv.URL + "/v1", APIKey: "sk-test"})
	require.NoError(t, err)
	require.NoError(t, backend.Prepare(context.Background()))

	e := NewEngine(backend, Config{Logger: quiet})
	sel, err := e.Infer(context.Background(), `<span id="price">9</span>`, "price")
	require.NoError(t, err)
	assert.Equal(t, "#price", sel["price"])

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, DefaultOpenAIModel, gotReq.Model)
	assert.Equal(t, "json_object", gotReq.ResponseFormat["type"])
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	e := NewEngine(NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "bad"}), Config{Logger: quiet})
	_, err := e.Infer(context.Background(), "<p>x</p>", "title")
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, err.Error(), "Incorrect API key")
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(BackendConfig{})
	require.NoError(t, err)
	assert.Equal(t, PolicyLocal, b.Name())

	_, err = NewBackend(BackendConfig{Policy: "cloud"})
	assert.Error(t, err)

	_, err = NewBackend(BackendConfig{Policy: "quantum"})
	assert.Error(t, err)
}
