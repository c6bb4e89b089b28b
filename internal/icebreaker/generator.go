// Package icebreaker generates AI conversation starters for freshly matched
// pairs. The matchmaking core never calls it; clients fetch starters through
// their own endpoint after the match lands.
package icebreaker

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	modelName = "gemini-1.5-flash-latest"

	systemInstruction = "You are a friendly conversation starter assistant. " +
		"Generate engaging, fun, and appropriate icebreaker questions for strangers " +
		"to start chatting. Keep them light, positive, and universally relatable. " +
		"Output ONLY the questions as a numbered list, nothing else."

	prompt = "Generate exactly 3 fun and engaging icebreaker questions for two " +
		"strangers who just matched in an anonymous chat. Make them interesting, " +
		"positive, and easy to answer.\n\n" +
		"OUTPUT FORMAT:\n1. [First question]\n2. [Second question]\n3. [Third question]"

	// count is how many starters every request returns.
	count = 3
)

// fallbackStarters is served when no API key is configured or the model
// call fails. Matching must keep feeling instant even when the LLM is down.
var fallbackStarters = []string{
	"If you could have dinner with anyone in history, who would it be?",
	"What's the best trip you've ever taken?",
	"What's a skill you've always wanted to learn?",
	"What's your go-to comfort food?",
	"If you could live anywhere in the world, where would you pick?",
	"What's the last thing that made you laugh out loud?",
	"Early bird or night owl?",
	"What's a small thing that made your day better recently?",
	"If your life had a theme song, what would it be?",
}

var listPrefix = regexp.MustCompile(`^\d+[.)]\s*`)

// Generator produces icebreaker questions, backed by Gemini when an API key
// is available.
type Generator struct {
	client *genai.Client
}

// New creates a Generator. With an empty API key the generator serves only
// the fallback set; this keeps local development free of any cloud
// dependency.
func New(ctx context.Context, apiKey string) (*Generator, error) {
	if apiKey == "" {
		log.Println("[icebreaker] no API key configured, serving fallback starters")
		return &Generator{}, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("icebreaker: create client: %w", err)
	}
	return &Generator{client: client}, nil
}

// Close releases the underlying client, if any.
func (g *Generator) Close() {
	if g.client != nil {
		if err := g.client.Close(); err != nil {
			log.Printf("[icebreaker] close client: %v", err)
		}
	}
}

// Generate returns three conversation starters. Model errors and unusable
// responses fall back to the static set; callers always get questions.
func (g *Generator) Generate(ctx context.Context) []string {
	if g.client == nil {
		return Fallback()
	}

	model := g.client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemInstruction)},
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		log.Printf("[icebreaker] generate: %v (using fallback)", err)
		return Fallback()
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Fallback()
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	starters := ParseStarters(text.String())
	if len(starters) < count {
		log.Printf("[icebreaker] unparsable model response, using fallback")
		return Fallback()
	}
	return starters[:count]
}

// ParseStarters extracts questions from a numbered-list model response.
// Very short lines are noise and are dropped.
func ParseStarters(raw string) []string {
	var starters []string
	for _, line := range strings.Split(raw, "\n") {
		line = listPrefix.ReplaceAllString(strings.TrimSpace(line), "")
		if len(line) > 10 {
			starters = append(starters, line)
		}
	}
	return starters
}

// Fallback returns three random starters from the static set.
func Fallback() []string {
	picks := rand.Perm(len(fallbackStarters))[:count]
	starters := make([]string, 0, count)
	for _, i := range picks {
		starters = append(starters, fallbackStarters[i])
	}
	return starters
}
