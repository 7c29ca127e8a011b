package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/vertexgrove/ragd/internal/llm"
)

type Generator struct {
	gateway llm.Gateway
}

func NewGenerator(gw llm.Gateway) *Generator {
	return &Generator{gateway: gw}
}

type GenerateRequest struct {
	Query    string
	Context  *ContextResult
	Model    string
	Provider string
}

type GenerateResponse struct {
	Answer    string       `json:"answer"`
	Sources   []Provenance `json:"sources"`
	Model     string       `json:"model"`
	Tokens    int          `json:"tokens"`
	CostUSD   float64      `json:"cost_usd"`
	LatencyMs int64        `json:"latency_ms"`
}

const generatorSystemPrompt = `You are a helpful AI assistant. Answer the user's question using only the provided context passages.
If the context does not contain enough information, say so rather than guessing.
Cite passages as [Source N] where N is the passage number.`

// Generate answers the query grounded in the assembled context.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	messages := []llm.Message{
		{Role: "system", Content: generatorSystemPrompt},
		{Role: "user", Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", numberPassages(req.Context), req.Query)},
	}

	resp, err := g.gateway.Chat(ctx, llm.ChatRequest{
		Provider: req.Provider,
		Model:    req.Model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &GenerateResponse{
		Answer:    resp.Content,
		Sources:   req.Context.Sources,
		Model:     resp.Model,
		Tokens:    resp.TotalTokens,
		CostUSD:   resp.CostUSD,
		LatencyMs: resp.LatencyMs,
	}, nil
}

// numberPassages labels each passage with [Source N] so the model's
// citations line up with the returned provenance list.
func numberPassages(c *ContextResult) string {
	var sb strings.Builder
	for i, p := range c.Passages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[Source %d]\n%s", i+1, p)
	}
	return sb.String()
}
