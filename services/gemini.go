package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxprep/backend/models"

	"google.golang.org/genai"
)

const ModelName = "gemini-2.5-flash"

// GeminiService generates post-session reviews from finalized transcripts.
type GeminiService struct {
	genaiClient *genai.Client
}

func NewGeminiService(apiKey string) *GeminiService {
	genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil
	}
	return &GeminiService{genaiClient: genaiClient}
}

// GenerateReview runs one scoring pass over a prompt and returns the raw
// model output; the scorer parses it into a structured Review.
func (g *GeminiService) GenerateReview(ctx context.Context, prompt string) (string, error) {
	if g.genaiClient == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			"You are an expert evaluator of interview and training performance. Respond with JSON only.",
			genai.RoleUser,
		),
	}

	result, err := g.genaiClient.Models.GenerateContent(
		ctx,
		ModelName,
		genai.Text(prompt),
		config,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate review: %w", err)
	}

	return result.Text(), nil
}

// BuildReviewPrompt assembles the scoring prompt for an entity's transcript,
// tailored to the entity type and its context fields.
func BuildReviewPrompt(entity *models.Entity, transcript string) string {
	var focus string
	switch entity.Type {
	case models.EntityTypeInterview:
		focus = fmt.Sprintf("This was a %s-level interview in the %s domain. Evaluate technical depth, communication, problem-solving and professionalism.", entity.Seniority, entity.Domain)
	case models.EntityTypeTraining:
		focus = fmt.Sprintf("This was a %s training session in the %s category. Evaluate comprehension, applied skill and engagement.", entity.Difficulty, entity.Category)
	default:
		focus = "Evaluate overall performance, communication and engagement."
	}

	return fmt.Sprintf(`You are scoring a candidate's voice session titled %q.
%s

Conversation transcript (role: text, in order):
%s

Respond with a single JSON object:
{
  "summary": "narrative summary of the session",
  "overallScore": <0-100>,
  "subScores": {"communication": <0-100>, "knowledge": <0-100>, "problem_solving": <0-100>, "professionalism": <0-100>},
  "recommendation": "hire/no-hire or pass/needs-practice recommendation with one sentence of justification"
}`,
		entity.Title,
		focus,
		strings.TrimSpace(transcript))
}
