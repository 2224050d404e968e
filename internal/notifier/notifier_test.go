package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/models"
)

func scoredArticle() *models.Article {
	avg := 4.2
	return &models.Article{
		URL:             "https://news.google.com/rss/articles/abc",
		ResolvedURL:     "https://site.example/a",
		OriginalTitle:   "T",
		TranslatedTitle: "T-ja",
		ShortSummary:    "S",
		ImageURL:        "https://site.example/cover.png",
		Scores:          &models.ScoreSet{Novelty: 5, Importance: 4, Reliability: 4, ContextValue: 3, ThoughtProvoking: 5},
		AverageScore:    &avg,
	}
}

func TestNotifyPayloadShape(t *testing.T) {
	var payload map[string]any
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("Bad payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewService(arbor.NewLogger())
	if err := s.Notify(context.Background(), server.URL, scoredArticle()); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("Expected exactly one webhook call, got %d", calls)
	}

	embeds, ok := payload["embeds"].([]any)
	if !ok || len(embeds) != 1 {
		t.Fatalf("Expected one embed, got %v", payload["embeds"])
	}
	embed := embeds[0].(map[string]any)

	if embed["title"] != "T-ja" {
		t.Errorf("Expected translated title, got %v", embed["title"])
	}
	if embed["url"] != "https://site.example/a" {
		t.Errorf("Expected resolved link, got %v", embed["url"])
	}
	if embed["description"] != "S" {
		t.Errorf("Expected short summary, got %v", embed["description"])
	}

	fields := embed["fields"].([]any)
	scores := fields[0].(map[string]any)
	if scores["name"] != "Scores" {
		t.Errorf("Expected Scores field, got %v", scores["name"])
	}
	if scores["value"] != "Avg: 4.20 (N:5 I:4 R:4 C:3 T:5)" {
		t.Errorf("Unexpected scores value %v", scores["value"])
	}
	if scores["inline"] != true {
		t.Error("Scores field should be inline")
	}

	image := embed["image"].(map[string]any)
	if image["url"] != "https://site.example/cover.png" {
		t.Errorf("Expected image URL, got %v", image["url"])
	}
}

func TestNotifyWithoutURLIsSilentNoOp(t *testing.T) {
	s := NewService(arbor.NewLogger())
	if err := s.Notify(context.Background(), "", scoredArticle()); err != nil {
		t.Errorf("Unset webhook URL must be a no-op, got %v", err)
	}
}

func TestNotifyNon2xxDoesNotFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewService(arbor.NewLogger())
	if err := s.Notify(context.Background(), server.URL, scoredArticle()); err != nil {
		t.Errorf("Non-2xx must not fail the evaluation, got %v", err)
	}
}

func TestNotifyRequiresScores(t *testing.T) {
	s := NewService(arbor.NewLogger())
	err := s.Notify(context.Background(), "http://127.0.0.1:1/hook", &models.Article{URL: "u"})
	if err == nil {
		t.Error("Expected error for unscored article")
	}
}
