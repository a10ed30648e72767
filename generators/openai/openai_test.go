package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func chatServer(t *testing.T, reply string, inspect func(ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path mismatch: got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("Authorization mismatch: got %q", auth)
		}
		var req ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if inspect != nil {
			inspect(req)
		}
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			ID:     "chatcmpl-1",
			Object: "chat.completion",
			Model:  req.Model,
			Choices: []ChatCompletionChoice{
				{Message: ChatMessage{Role: "assistant", Content: reply}, FinishReason: "stop"},
			},
		})
	}))
}

func TestVariations_Success(t *testing.T) {
	var got ChatCompletionRequest
	server := chatServer(t, "Misty forest at dawn\n\n  Forest in watercolor  \nForest from above\nNight forest\nExtra line", func(req ChatCompletionRequest) {
		got = req
	})
	defer server.Close()

	variations, err := NewClient("secret", server.URL, "").Variations(context.Background(), "a forest")
	if err != nil {
		t.Fatalf("Variations() failed: %v", err)
	}
	want := []string{"Misty forest at dawn", "Forest in watercolor", "Forest from above", "Night forest"}
	if !reflect.DeepEqual(variations, want) {
		t.Errorf("Variations() mismatch:\n got %q\nwant %q", variations, want)
	}

	if got.Model != DefaultModel {
		t.Errorf("model mismatch: got %q, want %q", got.Model, DefaultModel)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "a forest" {
		t.Errorf("messages mismatch: %+v", got.Messages)
	}
	if got.Stream == nil || *got.Stream {
		t.Error("request asked for a stream")
	}
}

func TestVariations_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}},
		{"invalid json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			if _, err := NewClient("secret", server.URL, "").Variations(context.Background(), "a forest"); err == nil {
				t.Error("Variations() succeeded, want error")
			}
		})
	}
}

func TestVariations_MissingKey(t *testing.T) {
	if _, err := NewClient("", "http://127.0.0.1:0", "").Variations(context.Background(), "a forest"); err == nil {
		t.Error("Variations() without a key succeeded")
	}
}

func TestParseVariations(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"blank lines", "\n \n\t\n", []string{}},
		{"windows newlines", "one\r\ntwo\r\n", []string{"one", "two"}},
		{"capped", "1\n2\n3\n4\n5\n6", []string{"1", "2", "3", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseVariations(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseVariations() mismatch: got %q, want %q", got, tt.want)
			}
		})
	}
}
