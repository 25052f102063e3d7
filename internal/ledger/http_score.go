package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const scoreRequestTimeout = 10 * time.Second

// HTTPScoreSource reads live resonance from the score server's REST
// endpoint: GET {base}/api/blockchain/score/{address}.
type HTTPScoreSource struct {
	base   string
	client *http.Client
}

// NewHTTPScoreSource constructs a score source for the given base URL.
func NewHTTPScoreSource(baseURL string) *HTTPScoreSource {
	return &HTTPScoreSource{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: scoreRequestTimeout},
	}
}

type scoreResponse struct {
	TotalResonance int    `json:"total_resonance"`
	Error          string `json:"error"`
}

// GetLiveScore implements ScoreSource.
func (s *HTTPScoreSource) GetLiveScore(ctx context.Context, walletAddress string) (int, error) {
	addr := strings.ToLower(strings.TrimSpace(walletAddress))
	u := s.base + "/api/blockchain/score/" + url.PathEscape(addr)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScoreUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: http %d", ErrScoreUnavailable, resp.StatusCode)
	}

	var body scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrScoreUnavailable, err)
	}
	if body.Error != "" {
		return 0, fmt.Errorf("%w: %s", ErrScoreUnavailable, body.Error)
	}
	return body.TotalResonance, nil
}
