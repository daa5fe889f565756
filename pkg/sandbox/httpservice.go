package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/subjective-labs/resolver/pkg/contracts"
	"github.com/subjective-labs/resolver/pkg/util/resiliency"
)

// HTTPService talks to a sandbox execution service. The service owns the
// isolation guarantees; we pass the timeout and host allow-list through and
// treat any transport failure as transient.
type HTTPService struct {
	base   string
	client *resiliency.Client
}

func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		base: baseURL,
		// Generous transport timeout; per-job bounds ride in the request.
		client: resiliency.New("sandbox", 5*time.Minute),
	}
}

func (s *HTTPService) Execute(ctx context.Context, job Job) (*ExecResult, error) {
	if job.Code == "" {
		return nil, fmt.Errorf("sandbox: http service requires source code")
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		// Buffer over the sandbox-side timeout so its answer wins the race.
		ctx, cancel = context.WithTimeout(ctx, job.Timeout+10*time.Second)
		defer cancel()
	}

	payload, err := json.Marshal(map[string]any{
		"code":          job.Code,
		"stdin":         string(job.Input),
		"timeout":       int(job.Timeout.Seconds()),
		"allowed_hosts": job.AllowedHosts,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/v1/python/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, contracts.Transient(fmt.Errorf("sandbox unavailable: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, contracts.Transient(fmt.Errorf("sandbox status %d", resp.StatusCode))
	}

	var body struct {
		Success  bool   `json:"success"`
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exit_code"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, contracts.Transient(fmt.Errorf("sandbox response: %w", err))
	}
	if !body.Success && body.Stdout == "" && body.Stderr == "" {
		return nil, contracts.Transient(fmt.Errorf("sandbox error: %s", body.Message))
	}
	return &ExecResult{Stdout: body.Stdout, Stderr: body.Stderr, ExitCode: body.ExitCode}, nil
}
