// Package codegen adapts the code-generation collaborator. Generated code is
// untrusted input: nothing here vouches for correctness, it only shapes the
// request and applies structural pre-checks so obviously broken scripts never
// reach the sandbox.
package codegen

import "context"

// Client generates resolution code from a natural-language task.
type Client interface {
	Generate(ctx context.Context, task string) (string, error)
}

// Message is one chat turn sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
