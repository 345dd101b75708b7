// Package generation composes answers with a chat-completion model.
package generation

import (
	"context"
	"errors"
)

// ErrGenerationFailed wraps every failure of the generative model.
var ErrGenerationFailed = errors.New("generation failed")

// Request is one completion call: a system instruction, a user message, and sampling bounds.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	// Temperature below zero leaves the model default.
	Temperature float64
}

// Generator produces text from a role-tagged prompt.
type Generator interface {
	Generate(ctx context.Context, req *Request) (string, error)
}
