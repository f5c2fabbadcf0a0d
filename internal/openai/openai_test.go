package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ctxpkg "github.com/stupiduntilnot/enerlytic/internal/context"
	modelpkg "github.com/stupiduntilnot/enerlytic/internal/model"
)

func testClient(url string, retries int) *Client {
	c := NewClient(Config{
		APIKey:      "test-key",
		BaseURL:     url,
		Model:       "test-model",
		Temperature: 0.7,
		MaxTokens:   800,
		MaxRetries:  retries,
		Timeout:     5 * time.Second,
	})
	c.backoff = func(int) time.Duration { return 0 }
	return c
}

func TestChatCompletion_WithUsage(t *testing.T) {
	var gotReq map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  Hello!\n"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     42,
				"completion_tokens": 7,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := testClient(server.URL, 0)
	result, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}

	if result.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", result.Content)
	}
	if result.InputTokens != 42 || result.OutputTokens != 7 {
		t.Errorf("unexpected usage: %+v", result)
	}
	if gotReq["model"] != "test-model" {
		t.Errorf("unexpected model: %v", gotReq["model"])
	}
	if gotReq["max_tokens"] != float64(800) {
		t.Errorf("unexpected max_tokens: %v", gotReq["max_tokens"])
	}
}

func TestChatCompletion_SendsZeroTemperature(t *testing.T) {
	var gotReq map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	client := testClient(server.URL, 0)
	client.cfg.Temperature = 0
	if _, err := client.ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}}); err != nil {
		t.Fatal(err)
	}
	temp, ok := gotReq["temperature"]
	if !ok {
		t.Fatal("temperature 0 must be sent explicitly")
	}
	if temp != float64(0) {
		t.Errorf("unexpected temperature: %v", temp)
	}
}

func TestChatCompletion_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[],"usage":{"prompt_tokens":10,"completion_tokens":0}}`)
	}))
	defer server.Close()

	result, err := testClient(server.URL, 0).ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "" {
		t.Errorf("expected empty content, got %q", result.Content)
	}
	if result.InputTokens != 10 {
		t.Errorf("expected 10 input tokens, got %d", result.InputTokens)
	}
}

func TestChatCompletion_MultipartWireShape(t *testing.T) {
	var raw []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer server.Close()

	msgs := []ctxpkg.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Parts: []ctxpkg.Part{
			{Type: "text", Text: "Was siehst du?"},
			{Type: "image_url", ImageURL: "data:image/jpeg;base64,AAA"},
		}},
	}
	if _, err := testClient(server.URL, 0).ChatCompletion(context.Background(), msgs); err != nil {
		t.Fatal(err)
	}

	var req struct {
		Messages []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		t.Fatal(err)
	}
	if string(req.Messages[0].Content) != `"sys"` {
		t.Errorf("system content should be a plain string, got %s", req.Messages[0].Content)
	}
	want := `[{"type":"text","text":"Was siehst du?"},{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,AAA"}}]`
	if string(req.Messages[1].Content) != want {
		t.Errorf("unexpected multipart content:\n got %s\nwant %s", req.Messages[1].Content, want)
	}
}

func TestChatCompletion_FailureMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   modelpkg.FailureKind
	}{
		{"invalid key", 401, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`, modelpkg.FailureAuth},
		{"forbidden", 403, `{}`, modelpkg.FailureAuth},
		{"quota", 429, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, modelpkg.FailureQuota},
		{"rate limit", 429, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, modelpkg.FailureConnectivity},
		{"server error", 503, `upstream unavailable`, modelpkg.FailureConnectivity},
		{"request timeout", 408, ``, modelpkg.FailureTimeout},
		{"bad request", 400, `{"error":{"message":"bad","code":null}}`, modelpkg.FailureUnclassified},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				io.WriteString(w, c.body)
			}))
			defer server.Close()

			_, err := testClient(server.URL, 0).ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
			var f *modelpkg.Failure
			if !errors.As(err, &f) {
				t.Fatalf("expected *model.Failure, got %v", err)
			}
			if f.Kind != c.want {
				t.Fatalf("expected kind %q, got %q (%v)", c.want, f.Kind, err)
			}
			if f.StatusCode != c.status {
				t.Fatalf("expected status %d, got %d", c.status, f.StatusCode)
			}
		})
	}
}

func TestChatCompletion_RetriesTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"finally"}}]}`)
	}))
	defer server.Close()

	result, err := testClient(server.URL, 3).ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Content != "finally" {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestChatCompletion_StopsAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := testClient(server.URL, 2).ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error after retries are exhausted")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestChatCompletion_DoesNotRetryQuota(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"code":"insufficient_quota"}}`)
	}))
	defer server.Close()

	_, err := testClient(server.URL, 3).ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if modelpkg.Classify(err) != modelpkg.FailureQuota {
		t.Fatalf("expected quota failure, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestChatCompletion_ContextDeadlineIsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := testClient(server.URL, 3).ChatCompletion(ctx, []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if modelpkg.Classify(err) != modelpkg.FailureTimeout {
		t.Fatalf("expected timeout failure, got %v", err)
	}
}

func TestChatCompletion_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := testClient(url, 1).ChatCompletion(context.Background(), []ctxpkg.Message{{Role: "user", Content: "hi"}})
	if modelpkg.Classify(err) != modelpkg.FailureConnectivity {
		t.Fatalf("expected connectivity failure, got %v", err)
	}
}

func TestTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Errorf("unexpected model %q", r.FormValue("model"))
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			if string(data) != "OggS-audio" || hdr.Filename != "voice.ogg" {
				t.Errorf("unexpected file %q %q", hdr.Filename, data)
			}
		}
		io.WriteString(w, `{"text":" Wie dämme ich mein Dach? "}`)
	}))
	defer server.Close()

	text, err := testClient(server.URL, 0).Transcribe(context.Background(), []byte("OggS-audio"), "voice.ogg")
	if err != nil {
		t.Fatal(err)
	}
	if text != "Wie dämme ich mein Dach?" {
		t.Fatalf("unexpected transcript %q", text)
	}
}
