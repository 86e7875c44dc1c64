package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ClusterInput is the text an enrichment task works on
type ClusterInput struct {
	Headline string
	Language string
	// Bodies are the member articles' excerpts, one per source
	Bodies []string
}

// CategorizeResult assigns a topic from the fixed set plus optional extras
type CategorizeResult struct {
	Topic  string   `json:"topic"`
	Topics []string `json:"topics"`
	City   string   `json:"city"`
}

// SummaryResult is a summary in the cluster's own language
type SummaryResult struct {
	Summary            string `json:"summary"`
	KeyFacts           string `json:"key_facts"`
	ConfirmedVsDiffers string `json:"confirmed_vs_differs"`
}

// SEOResult carries per-language metadata plus the slug basis
type SEOResult struct {
	Slug        string            `json:"slug"`
	Title       map[string]string `json:"title"`
	Description map[string]string `json:"description"`
	Headline    map[string]string `json:"headline"`
}

// LLM is the task surface the orchestrator depends on. The Gemini client
// implements it; tests substitute fakes.
type LLM interface {
	Categorize(ctx context.Context, in ClusterInput) (CategorizeResult, error)
	Summarize(ctx context.Context, in ClusterInput) (SummaryResult, error)
	Translate(ctx context.Context, text, fromLang, toLang string) (string, error)
	SEO(ctx context.Context, in ClusterInput, summary string) (SEOResult, error)
}

// GeminiClient runs enrichment prompts against the Gemini API
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

var _ LLM = (*GeminiClient)(nil)

func NewGeminiClient(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model, timeout: timeout}, nil
}

func (g *GeminiClient) Close() {
	if g.client != nil {
		g.client.Close()
	}
}

const promptBodyLimit = 6000

func (g *GeminiClient) Categorize(ctx context.Context, in ClusterInput) (CategorizeResult, error) {
	prompt := fmt.Sprintf(`You are a news desk editor. Assign exactly one topic to this story
from this list: %s.
Also list up to two secondary topics from the same list, and name the city the
story is about, or "" if none.

Respond with valid JSON only, no prose:
{"topic": "...", "topics": ["..."], "city": "..."}

Story headline: %s
Story text:
%s`, strings.Join(Topics, ", "), in.Headline, joinBodies(in.Bodies))

	var result CategorizeResult
	if err := g.generateJSON(ctx, prompt, &result); err != nil {
		return CategorizeResult{}, err
	}
	return result, nil
}

func (g *GeminiClient) Summarize(ctx context.Context, in ClusterInput) (SummaryResult, error) {
	prompt := fmt.Sprintf(`You are a news editor. The texts below are different sources reporting
the same event, in language "%s". Write, in that same language:
1. a neutral summary of the event (120-180 words),
2. 3-5 key facts as short lines,
3. one short note on what the sources confirm versus where they differ.

Respond with valid JSON only:
{"summary": "...", "key_facts": "...", "confirmed_vs_differs": "..."}

Headline: %s
Sources:
%s`, in.Language, in.Headline, joinBodies(in.Bodies))

	var result SummaryResult
	if err := g.generateJSON(ctx, prompt, &result); err != nil {
		return SummaryResult{}, err
	}
	return result, nil
}

func (g *GeminiClient) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	prompt := fmt.Sprintf(`Translate the following news text from "%s" to "%s".
Keep proper names untranslated. Natural phrasing, no introductions.

Respond with valid JSON only: {"text": "..."}

%s`, fromLang, toLang, truncate(text, promptBodyLimit))

	var result struct {
		Text string `json:"text"`
	}
	if err := g.generateJSON(ctx, prompt, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (g *GeminiClient) SEO(ctx context.Context, in ClusterInput, summary string) (SEOResult, error) {
	prompt := fmt.Sprintf(`You are an SEO writer for a news site published in en, da and uk.
For the story below, produce per language:
- a headline (max 80 characters),
- an SEO title (max 60 characters),
- an SEO description (max 160 characters),
and one URL slug in latin lowercase with hyphens, based on the English headline.

Respond with valid JSON only:
{"slug": "...",
 "headline": {"en": "...", "da": "...", "uk": "..."},
 "title": {"en": "...", "da": "...", "uk": "..."},
 "description": {"en": "...", "da": "...", "uk": "..."}}

Story headline (%s): %s
Summary:
%s`, in.Language, in.Headline, truncate(summary, promptBodyLimit))

	var result SEOResult
	if err := g.generateJSON(ctx, prompt, &result); err != nil {
		return SEOResult{}, err
	}
	return result, nil
}

// generateJSON sends one prompt and decodes the JSON body of the reply,
// stripping the markdown fences Gemini likes to add
func (g *GeminiClient) generateJSON(ctx context.Context, prompt string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.model)
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return fmt.Errorf("generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return fmt.Errorf("no content in response")
	}

	cleaned := stripFences(text)
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func joinBodies(bodies []string) string {
	var b strings.Builder
	for i, body := range bodies {
		fmt.Fprintf(&b, "--- source %d ---\n%s\n", i+1, truncate(body, promptBodyLimit/max(len(bodies), 1)))
	}
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + " [TRUNCATED]"
}
