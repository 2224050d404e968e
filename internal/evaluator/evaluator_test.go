package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/models"
)

func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Error("Expected bearer authorization")
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Bad request body: %v", err)
		}
		if rf, ok := req["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
			t.Error("Expected response_format json_object")
		}

		resp := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func testEvaluator(baseURL string) *Service {
	config := &common.LLMConfig{BaseURL: baseURL, Model: "test-model", Timeout: 5 * time.Second}
	settings := models.DefaultSettings()
	settings.LLMAPIKey = "test-key"
	return NewService(config, settings, arbor.NewLogger()).(*Service)
}

func TestEvaluateParsesScores(t *testing.T) {
	content := `{
		"translatedTitle": "T-ja",
		"summary": "long summary",
		"shortSummary": "S",
		"scores": {"novelty": 5, "importance": 4, "reliability": 4, "contextValue": 3, "thoughtProvoking": 5}
	}`
	server := chatServer(t, content)
	defer server.Close()

	s := testEvaluator(server.URL)
	article := &models.Article{
		URL:           "https://site.example/a",
		OriginalTitle: "T",
		Content:       strings.Repeat("c", 300),
	}

	result, err := s.Evaluate(context.Background(), article)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.TranslatedTitle != "T-ja" || result.ShortSummary != "S" {
		t.Error("Summaries not carried through")
	}
	if result.Scores.Novelty != 5 || result.Scores.ThoughtProvoking != 5 {
		t.Errorf("Scores not parsed: %+v", result.Scores)
	}
	if result.AverageScore != 4.2 {
		t.Errorf("Expected average 4.2, got %v", result.AverageScore)
	}
}

func TestEvaluateRejectsNonJSONContent(t *testing.T) {
	server := chatServer(t, "I could not analyze this article, sorry!")
	defer server.Close()

	s := testEvaluator(server.URL)
	article := &models.Article{URL: "https://site.example/a", OriginalTitle: "T", Content: strings.Repeat("c", 300)}

	_, err := s.Evaluate(context.Background(), article)
	if err == nil {
		t.Fatal("Expected invalid response error")
	}
	if models.KindOf(err) != models.ErrKindInvalidLLM {
		t.Errorf("Expected invalid_llm_response kind, got %s", models.KindOf(err))
	}
	if models.MessageOf(err) != "AI returned invalid analysis data" {
		t.Errorf("Unexpected message %q", models.MessageOf(err))
	}
}

func TestEvaluateRejectsMissingScores(t *testing.T) {
	cases := []string{
		`{"translatedTitle": "T", "summary": "s", "shortSummary": "s"}`,
		`{"translatedTitle": "T", "scores": {}}`,
		`{"translatedTitle": "T", "scores": {"novelty": "five"}}`,
	}
	for _, content := range cases {
		server := chatServer(t, content)
		s := testEvaluator(server.URL)
		article := &models.Article{URL: "https://site.example/a", OriginalTitle: "T", Content: strings.Repeat("c", 300)}

		_, err := s.Evaluate(context.Background(), article)
		server.Close()
		if err == nil {
			t.Errorf("Expected shape rejection for %s", content)
			continue
		}
		if models.KindOf(err) != models.ErrKindInvalidLLM {
			t.Errorf("Expected invalid_llm_response kind for %s, got %s", content, models.KindOf(err))
		}
	}
}

func TestEvaluateRequiresAPIKey(t *testing.T) {
	config := &common.LLMConfig{BaseURL: "http://127.0.0.1:1", Model: "m", Timeout: time.Second}
	s := NewService(config, models.DefaultSettings(), arbor.NewLogger())

	_, err := s.Evaluate(context.Background(), &models.Article{URL: "u", Content: strings.Repeat("c", 300)})
	if err == nil {
		t.Fatal("Expected error without API key")
	}
}

func TestPromptTruncatesContent(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			gotPrompt = req.Messages[0].Content
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": `{"scores":{"novelty":3}}`}}},
		})
	}))
	defer server.Close()

	s := testEvaluator(server.URL)
	article := &models.Article{URL: "u", OriginalTitle: "T", Content: strings.Repeat("x", 20000)}

	if _, err := s.Evaluate(context.Background(), article); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if strings.Count(gotPrompt, "x") > maxPromptContentRunes {
		t.Errorf("Prompt carries %d content chars, cap is %d", strings.Count(gotPrompt, "x"), maxPromptContentRunes)
	}
}
