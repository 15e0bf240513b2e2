package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"rcn-ledger/internal/core/domain"

	"golang.org/x/time/rate"
)

const headerIdempotencyKey = "Idempotency-Key"

// HTTPConnector submits settlements to the chain gateway over HTTP.
// Every request carries the session id as Idempotency-Key, so retries and
// re-dispatch after a restart are safe.
type HTTPConnector struct {
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPConnector creates a gateway connector. ratePerSec <= 0 disables
// outbound throttling.
func NewHTTPConnector(baseURL, token string, ratePerSec float64, timeout time.Duration) *HTTPConnector {
	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		burst = int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
	}
	return &HTTPConnector{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

type gatewayResponse struct {
	TxReference string `json:"txReference"`
	Error       string `json:"error"`
	Retryable   *bool  `json:"retryable"`
}

// Settle performs the redemption on chain
func (c *HTTPConnector) Settle(ctx context.Context, req domain.SettlementRequest) (*domain.SettlementResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &domain.SettlementError{Reason: "rate limiter: " + err.Error(), Retryable: true}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &domain.SettlementError{Reason: err.Error(), Retryable: false}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/settlements", bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.SettlementError{Reason: err.Error(), Retryable: false}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerIdempotencyKey, req.SessionID)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &domain.SettlementError{Reason: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.SettlementError{Reason: err.Error(), Retryable: true}
	}

	var out gatewayResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &out)
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if out.TxReference == "" {
			return nil, &domain.SettlementError{Reason: "gateway returned no txReference", Retryable: true}
		}
		return &domain.SettlementResult{TxReference: out.TxReference}, nil
	case resp.StatusCode == http.StatusConflict && out.TxReference != "":
		// already settled under this idempotency key
		return &domain.SettlementResult{TxReference: out.TxReference}, nil
	}

	reason := out.Error
	if reason == "" {
		reason = strings.TrimSpace(string(body))
	}
	reason = fmt.Sprintf("gateway status %d: %s", resp.StatusCode, reason)

	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	if out.Retryable != nil {
		retryable = *out.Retryable
	}
	return nil, &domain.SettlementError{Reason: reason, Retryable: retryable}
}
