package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/kojira/ai-rss-reader/internal/common"
	"github.com/kojira/ai-rss-reader/internal/interfaces"
	"github.com/kojira/ai-rss-reader/internal/models"
)

// maxPromptContentRunes caps how much article content goes into the prompt.
const maxPromptContentRunes = 5000

const evalPromptTemplate = `You are a news analyst. Analyze the following article and respond with a single JSON object.

Article title: %s

Article content:
%s

Respond with JSON of this exact shape:
{
  "translatedTitle": "<the article title translated into Japanese>",
  "summary": "<a detailed Japanese summary, 3-5 sentences>",
  "shortSummary": "<a one-sentence Japanese summary>",
  "scores": {
    "novelty": <integer 1-5>,
    "importance": <integer 1-5>,
    "reliability": <integer 1-5>,
    "contextValue": <integer 1-5>,
    "thoughtProvoking": <integer 1-5>
  }
}
Scores are integers from 1 (lowest) to 5 (highest). Respond with JSON only.`

// Service evaluates articles through a chat-completion endpoint with JSON
// response mode.
type Service struct {
	config   *common.LLMConfig
	settings *models.Settings
	logger   arbor.ILogger
	client   *http.Client
}

// NewService creates a new evaluator. The API key comes from the settings row.
func NewService(config *common.LLMConfig, settings *models.Settings, logger arbor.ILogger) interfaces.Evaluator {
	return &Service{
		config:   config,
		settings: settings,
		logger:   logger,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat responseSpec  `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// llmPayload is the loose parse of the model output; pointer score fields
// distinguish "missing" from "zero" for shape validation.
type llmPayload struct {
	TranslatedTitle string `json:"translatedTitle"`
	Summary         string `json:"summary"`
	ShortSummary    string `json:"shortSummary"`
	Scores          *struct {
		Novelty          *float64 `json:"novelty"`
		Importance       *float64 `json:"importance"`
		Reliability      *float64 `json:"reliability"`
		ContextValue     *float64 `json:"contextValue"`
		ThoughtProvoking *float64 `json:"thoughtProvoking"`
	} `json:"scores"`
}

// Evaluate sends the article to the LLM and returns the validated result.
// Shape mismatches surface as invalid-LLM-response errors.
func (s *Service) Evaluate(ctx context.Context, article *models.Article) (*models.EvaluationResult, error) {
	if s.settings.LLMAPIKey == "" {
		return nil, fmt.Errorf("LLM API key is not configured")
	}

	prompt := fmt.Sprintf(evalPromptTemplate, article.OriginalTitle, truncateRunes(article.Content, maxPromptContentRunes))

	body, err := json.Marshal(chatRequest{
		Model:          s.config.Model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		ResponseFormat: responseSpec{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal LLM request: %w", err)
	}

	endpoint := strings.TrimSuffix(s.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build LLM request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.settings.LLMAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("LLM request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read LLM response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("LLM returned HTTP %d: %s", resp.StatusCode, truncateRunes(string(respBody), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, models.NewInvalidLLMError(err)
	}
	if len(chat.Choices) == 0 {
		return nil, models.NewInvalidLLMError(fmt.Errorf("response contains no choices"))
	}

	return s.parsePayload(chat.Choices[0].Message.Content)
}

// parsePayload validates the model output: it must be JSON with a scores
// object whose novelty field is numeric.
func (s *Service) parsePayload(content string) (*models.EvaluationResult, error) {
	var payload llmPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, models.NewInvalidLLMError(err)
	}
	if payload.Scores == nil || payload.Scores.Novelty == nil {
		return nil, models.NewInvalidLLMError(fmt.Errorf("response missing numeric scores.novelty"))
	}

	scores := models.ScoreSet{
		Novelty:          intScore(payload.Scores.Novelty),
		Importance:       intScore(payload.Scores.Importance),
		Reliability:      intScore(payload.Scores.Reliability),
		ContextValue:     intScore(payload.Scores.ContextValue),
		ThoughtProvoking: intScore(payload.Scores.ThoughtProvoking),
	}

	return &models.EvaluationResult{
		TranslatedTitle: payload.TranslatedTitle,
		Summary:         payload.Summary,
		ShortSummary:    payload.ShortSummary,
		Scores:          scores,
		AverageScore:    scores.Average(),
	}, nil
}

func intScore(v *float64) int {
	if v == nil {
		return 0
	}
	return int(math.Round(*v))
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
