package aicheck

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// PlagiarismResult mirrors the scoring endpoint contract:
// {documentText} -> {plagiarismScore, highlightedSections[]}.
type PlagiarismResult struct {
	Score               float64  `json:"plagiarismScore"`
	HighlightedSections []string `json:"highlightedSections"`
}

// AcceptanceResult mirrors the second contract:
// {paperText} -> {probabilityScore, reasoning}.
type AcceptanceResult struct {
	Score     float64 `json:"probabilityScore"`
	Reasoning string  `json:"reasoning"`
}

// Scorer is the external AI inference collaborator. Both calls are
// independent request/response exchanges over a text blob; neither is
// retried on failure.
type Scorer interface {
	Plagiarism(ctx context.Context, documentText string) (*PlagiarismResult, error)
	Acceptance(ctx context.Context, paperText string) (*AcceptanceResult, error)
}

/* ============================ Gemini scorer ============================= */

type GeminiScorer struct {
	client    *genai.Client
	modelName string
}

func NewGeminiScorer(ctx context.Context, apiKey, modelName string) (*GeminiScorer, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiScorer{client: cl, modelName: modelName}, nil
}

func (g *GeminiScorer) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

const plagiarismPrompt = `You are a plagiarism screening assistant for an academic submission portal.
Given the document text, estimate how likely it is to contain plagiarized material
and quote the most suspicious passages verbatim.
Respond with ONLY a JSON object of the shape
{"plagiarismScore": <number between 0 and 1>, "highlightedSections": [<strings>]}.`

const acceptancePrompt = `You are an editorial assistant for an academic submission portal.
Given the paper text, estimate the probability that it would be accepted after peer
review and explain your reasoning briefly.
Respond with ONLY a JSON object of the shape
{"probabilityScore": <number between 0 and 1>, "reasoning": <string>}.`

func (g *GeminiScorer) generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// stripFences removes a markdown code fence the model sometimes wraps its
// JSON answer in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (g *GeminiScorer) Plagiarism(ctx context.Context, documentText string) (*PlagiarismResult, error) {
	raw, err := g.generate(ctx, plagiarismPrompt, documentText)
	if err != nil {
		return nil, err
	}
	var out PlagiarismResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse plagiarism response: %w", err)
	}
	out.Score = clamp01(out.Score)
	if out.HighlightedSections == nil {
		out.HighlightedSections = []string{}
	}
	return &out, nil
}

func (g *GeminiScorer) Acceptance(ctx context.Context, paperText string) (*AcceptanceResult, error) {
	raw, err := g.generate(ctx, acceptancePrompt, paperText)
	if err != nil {
		return nil, err
	}
	var out AcceptanceResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("parse acceptance response: %w", err)
	}
	out.Score = clamp01(out.Score)
	return &out, nil
}

var _ Scorer = (*GeminiScorer)(nil)
