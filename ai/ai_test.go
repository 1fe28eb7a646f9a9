// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielhkuo/quickform/models"
)

// fakeProvider answers chat completions with a fixed reply
func fakeProvider(t *testing.T, reply string) (*httptest.Server, *string) {
	t.Helper()
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"x","object":"chat.completion","model":%q,"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`,
			req.Model, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &gotAuth
}

func TestCompleteChatServer(t *testing.T) {
	srv, gotAuth := fakeProvider(t, "# Report")
	c := NewClient(srv.URL, "server-token")

	out, err := c.Complete(context.Background(), models.AIConfig{SelectedModel: models.ProviderChatServer}, "hello")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "# Report" {
		t.Errorf("Unexpected reply %q", out)
	}
	if *gotAuth != "Bearer server-token" {
		t.Errorf("Expected server token, got %q", *gotAuth)
	}
}

func TestCompleteUserTokenOverridesDefault(t *testing.T) {
	srv, gotAuth := fakeProvider(t, "ok")
	c := NewClient("https://unused.example.com", "server-token")

	cfg := models.AIConfig{
		SelectedModel:      models.ProviderChatServer,
		ChatServerAPIURL:   srv.URL + "/",
		ChatServerAPIToken: "user-token",
	}
	if _, err := c.Complete(context.Background(), cfg, "hi"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if *gotAuth != "Bearer user-token" {
		t.Errorf("Expected user token, got %q", *gotAuth)
	}
}

func TestCompleteEmptyReply(t *testing.T) {
	srv, _ := fakeProvider(t, "  ")
	c := NewClient(srv.URL, "tok")
	_, err := c.Complete(context.Background(), models.AIConfig{SelectedModel: models.ProviderChatServer}, "hi")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	c := NewClient("https://api.example.com/v1", "")

	tests := []struct {
		name string
		cfg  models.AIConfig
		want error
	}{
		{"unknown provider", models.AIConfig{SelectedModel: "gpt-x"}, ErrUnknownProvider},
		{"chat_server without token", models.AIConfig{SelectedModel: models.ProviderChatServer}, ErrNotConfigured},
		{"chat_server with user token", models.AIConfig{SelectedModel: models.ProviderChatServer, ChatServerAPIToken: "t"}, nil},
		{"deepseek without key", models.AIConfig{SelectedModel: models.ProviderDeepSeek}, ErrNotConfigured},
		{"deepseek with key", models.AIConfig{SelectedModel: models.ProviderDeepSeek, DeepSeekAPIKey: "k"}, nil},
		{"doubao with key", models.AIConfig{SelectedModel: models.ProviderDoubao, DoubaoAPIKey: "k"}, nil},
		{"qwen without key", models.AIConfig{SelectedModel: models.ProviderQwen}, ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Check(tt.cfg)
			if tt.want == nil && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestModelLabel(t *testing.T) {
	if got := ModelLabel(models.ProviderDeepSeek); got != "DeepSeek" {
		t.Errorf("Unexpected label %q", got)
	}
	if got := ModelLabel("custom"); got != "custom" {
		t.Errorf("Unknown provider should echo its key, got %q", got)
	}
	if !KnownProvider(models.ProviderQwen) || KnownProvider("custom") {
		t.Error("KnownProvider mismatch")
	}
}

func TestBuildAnalysisPrompt(t *testing.T) {
	subs := []models.Submission{
		{Data: `{"name":"a","score":1}`},
		{Data: `{"name":"b","score":2}`},
	}
	prompt := BuildAnalysisPrompt(PromptInput{
		Task:        models.Task{Title: "Quiz", Description: "Week 1"},
		Submissions: subs,
		HTML:        "<form></form>",
	})

	for _, want := range []string{
		DefaultInstructions,
		"Title: Quiz",
		"Description: Week 1",
		"Total submissions: 2",
		"<form></form>",
		`{"name":"b","score":2}`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}

	n, ok := SubmissionCountFromPrompt(prompt)
	if !ok || n != 2 {
		t.Errorf("Expected count 2, got %d (%v)", n, ok)
	}
}

func TestBuildAnalysisPromptTemplateAndCaps(t *testing.T) {
	subs := make([]models.Submission, MaxPromptRows+5)
	for i := range subs {
		subs[i] = models.Submission{Data: fmt.Sprintf(`{"i":%d}`, i)}
	}
	prompt := BuildAnalysisPrompt(PromptInput{
		Task:         models.Task{Title: "Big"},
		Submissions:  subs,
		HTML:         strings.Repeat("é", MaxPromptHTMLChars+10),
		UserTemplate: "Summarize in three bullet points.",
	})

	if strings.Contains(prompt, DefaultInstructions) {
		t.Error("User template should replace default instructions")
	}
	if !strings.HasPrefix(prompt, "Summarize in three bullet points.") {
		t.Error("Prompt should start with the user template")
	}
	if strings.Contains(prompt, fmt.Sprintf(`{"i":%d}`, MaxPromptRows)) {
		t.Error("Rows beyond the cap should be omitted")
	}
	if !strings.Contains(prompt, fmt.Sprintf("Total submissions: %d", MaxPromptRows+5)) {
		t.Error("Count should reflect all submissions, not the capped rows")
	}
	if strings.Count(prompt, "é") != MaxPromptHTMLChars {
		t.Errorf("HTML excerpt should be capped at %d runes", MaxPromptHTMLChars)
	}
}

func TestNeedsRegeneration(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		count  int
		want   bool
	}{
		{"empty", "", 3, true},
		{"same count", "Total submissions: 3\n", 3, false},
		{"changed count", "Total submissions: 3\n", 4, true},
		{"hand written without count", "Please analyze", 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsRegeneration(tt.stored, tt.count); got != tt.want {
				t.Errorf("NeedsRegeneration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBuildHTMLReviewPrompt(t *testing.T) {
	p := BuildHTMLReviewPrompt("<form id=x></form>")
	if !strings.Contains(p, "<form id=x></form>") {
		t.Error("Review prompt should include the page")
	}
}
