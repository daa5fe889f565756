package clockanchor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/subjective-labs/resolver/pkg/util/resiliency"
)

// HTTPSource fetches authoritative time from an attested time endpoint.
// Expected response body:
//
//	{"unix_ms": 1700000000123, "proof": "<opaque attestation>"}
type HTTPSource struct {
	url    string
	client *resiliency.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: resiliency.New("time-authority", 10*time.Second),
	}
}

func (s *HTTPSource) FetchTime(ctx context.Context) (time.Time, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return time.Time{}, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("time authority unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, "", fmt.Errorf("time authority status %d", resp.StatusCode)
	}

	var body struct {
		UnixMS int64  `json:"unix_ms"`
		Proof  string `json:"proof"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, "", fmt.Errorf("time authority response: %w", err)
	}
	if body.UnixMS == 0 {
		return time.Time{}, "", fmt.Errorf("time authority returned zero time")
	}
	return time.UnixMilli(body.UnixMS).UTC(), body.Proof, nil
}
