package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// confirmPollInterval is how often a submitted transaction is polled
// for confirmation. The overall wait is bounded by the caller's ctx.
const confirmPollInterval = 2 * time.Second

// HTTPClient submits resonance updates through the ledger bridge's
// REST API and waits for on-chain confirmation.
//
//	POST {base}/api/blockchain/update         -> {"tx_id": "..."}
//	GET  {base}/api/blockchain/tx/{tx_id}     -> {"confirmed": bool, "failed": bool}
//	GET  {base}/api/blockchain/score/{addr}   -> {"total_resonance": n}
type HTTPClient struct {
	base   string
	client *http.Client
	scores *HTTPScoreSource
}

// NewHTTPClient constructs a client for the given bridge base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	base := strings.TrimRight(baseURL, "/")
	return &HTTPClient{
		base:   base,
		client: &http.Client{Timeout: scoreRequestTimeout},
		scores: NewHTTPScoreSource(base),
	}
}

type submitRequest struct {
	WalletAddress string `json:"wallet_address"`
	TargetScore   int    `json:"target_score"`
}

type submitResponse struct {
	TxID  string `json:"tx_id"`
	Error string `json:"error"`
}

type txStatusResponse struct {
	Confirmed bool   `json:"confirmed"`
	Failed    bool   `json:"failed"`
	Error     string `json:"error"`
}

// SubmitUpdate implements Client. It returns only after the bridge
// reports the transaction confirmed; ctx bounds the whole wait.
func (c *HTTPClient) SubmitUpdate(ctx context.Context, walletAddress string, targetScore int) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(walletAddress))

	body, err := json.Marshal(submitRequest{WalletAddress: addr, TargetScore: targetScore})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/blockchain/update", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("%w: http %d", ErrSubmitFailed, resp.StatusCode)
	}
	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if sub.Error != "" || sub.TxID == "" {
		return "", fmt.Errorf("%w: %s", ErrSubmitFailed, sub.Error)
	}

	if err := c.awaitConfirmation(ctx, sub.TxID); err != nil {
		return "", err
	}
	return sub.TxID, nil
}

func (c *HTTPClient) awaitConfirmation(ctx context.Context, txID string) error {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		status, err := c.txStatus(ctx, txID)
		if err != nil {
			return err
		}
		if status.Failed {
			return fmt.Errorf("%w: tx %s failed on chain", ErrSubmitFailed, txID)
		}
		if status.Confirmed {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: confirmation wait: %v", ErrSubmitFailed, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *HTTPClient) txStatus(ctx context.Context, txID string) (txStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/blockchain/tx/"+url.PathEscape(txID), nil)
	if err != nil {
		return txStatusResponse{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return txStatusResponse{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return txStatusResponse{}, fmt.Errorf("%w: tx status http %d", ErrSubmitFailed, resp.StatusCode)
	}
	var status txStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return txStatusResponse{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	if status.Error != "" {
		return txStatusResponse{}, fmt.Errorf("%w: %s", ErrSubmitFailed, status.Error)
	}
	return status, nil
}

// GetScore implements Client.
func (c *HTTPClient) GetScore(ctx context.Context, walletAddress string) (int, error) {
	return c.scores.GetLiveScore(ctx, walletAddress)
}
