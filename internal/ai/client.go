// Package ai fetches reading insights from a language model.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/abelbrown/arcana/internal/tarot"
)

// Client produces an insight for a set of drawn cards.
type Client interface {
	// GetSpreadInsight returns the model's reading. A nil Response with a
	// nil error means the model produced no content.
	GetSpreadInsight(ctx context.Context, req Request) (*Response, error)
}

// Request is what an insight is asked for.
type Request struct {
	Interest tarot.Interest
	Cards    []tarot.Card
}

// Response carries the model's text.
type Response struct {
	Description string
	Model       string
}

// APIError is a failure reported by the provider itself, as opposed to a
// transport failure.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Prompt is the system/user pair sent to a chat model.
type Prompt struct {
	System string
	User   string
}

const systemPrompt = `You are a thoughtful tarot reader. Write a short reading (3-5 sentences) ` +
	`for the querent's chosen area of life, weaving the drawn cards together in the ` +
	`order given. Be warm and concrete. Do not use headings or lists.`

// BuildPrompt renders the prompt for req.
func BuildPrompt(req Request) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Area of life: %s\n", req.Interest)
	b.WriteString("Cards drawn, in order:\n")
	for i, c := range req.Cards {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Title())
	}
	return Prompt{System: systemPrompt, User: b.String()}
}

// Static answers every request with the same canned text. Used offline and
// in demos; an empty Text yields "no content".
type Static struct {
	Text string
}

func (s Static) GetSpreadInsight(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Text == "" {
		return nil, nil
	}
	return &Response{Description: s.Text, Model: "static"}, nil
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

func (f ClientFunc) GetSpreadInsight(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
