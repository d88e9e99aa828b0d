// Package model provides the LLM completion client used by workflow nodes.
package model

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when a provider answers with no usable text.
var ErrEmptyCompletion = errors.New("model returned empty completion")

// Request describes one completion call.
//
// Temperature conventions in this codebase: 0.1-0.3 for SQL generation,
// 0.5-0.7 for narrative synthesis. Prompts may request a structured JSON
// answer; callers must parse responses through jsonx, which tolerates fenced
// code blocks.
type Request struct {
	// Prompt is the user-turn content.
	Prompt string

	// System sets provider-level system context. Optional.
	System string

	// MaxTokens bounds the completion length. Zero means provider default.
	MaxTokens int

	// Temperature controls sampling randomness in [0, 1].
	Temperature float64
}

// Response is a completed generation.
type Response struct {
	// Content is the generated text.
	Content string

	// Model names the concrete model that produced the content.
	Model string

	// InputTokens / OutputTokens carry usage when the provider reports it.
	InputTokens  int
	OutputTokens int
}

// Client is the opaque generator contract: a prompt in, text out.
//
// Implementations handle provider authentication, transport retries and
// context cancellation. The workflow treats every provider identically;
// failures surface as ordinary errors and are classified by the caller's
// retry policy.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
