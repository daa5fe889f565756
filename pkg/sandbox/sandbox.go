// Package sandbox adapts the code-execution collaborators. Isolation is the
// collaborator's job; this package only shapes jobs, enforces wall-clock
// bounds, and captures transcripts.
package sandbox

import (
	"context"
	"time"
)

// Job is one bounded execution of resolution logic.
type Job struct {
	// Code is interpreted source for the remote sandbox service.
	Code string

	// Wasm is a compiled module for the local WASI runner. Exactly one of
	// Code or Wasm is set.
	Wasm []byte

	// Input is piped to the program's stdin.
	Input []byte

	// Timeout is the hard wall-clock bound. Exceeding it is a recoverable
	// failure, not a hang.
	Timeout time.Duration

	// AllowedHosts is the outbound network allow-list the sandbox enforces.
	// Empty means deny all.
	AllowedHosts []string
}

// ExecResult captures everything the program produced.
type ExecResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Runner executes one job. Implementations must respect ctx cancellation and
// Job.Timeout.
type Runner interface {
	Execute(ctx context.Context, job Job) (*ExecResult, error)
}
