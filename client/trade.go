package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the server has no record of a trade.
var ErrNotFound = errors.New("trade not found")

// TradeRequest describes a trade to submit.
type TradeRequest struct {
	// ExecutionID is optional. Reusing an ID makes submission idempotent.
	ExecutionID string   `json:"execution_id,omitempty"`
	Actions     []string `json:"actions"` // "buy" or "sell"
	Amount      uint64   `json:"amount"`
	Borrower    string   `json:"borrower,omitempty"`
	Simulate    bool     `json:"simulate,omitempty"`
}

// Submission is the server's acknowledgement of a submitted trade.
type Submission struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
}

// Trade is a recorded trade execution.
type Trade struct {
	ID             string    `json:"id"`
	TxID           uint64    `json:"tx_id"`
	Status         string    `json:"status"` // committed, aborted, simulated
	Mode           string    `json:"mode"`   // execute, simulate
	AbortedState   *string   `json:"aborted_state,omitempty"`
	ErrorKind      *string   `json:"error_kind,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	Payer          string    `json:"payer"`
	Borrower       string    `json:"borrower"`
	LoanAuthority  string    `json:"loan_authority"`
	LendingProgram string    `json:"lending_program"`
	Amount         uint64    `json:"amount"`
	RepayAmount    *uint64   `json:"repay_amount,omitempty"`
	Actions        []string  `json:"actions"`
	Logs           []string  `json:"logs,omitempty"`
	Events         []Event   `json:"events,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Event is one audit event of a committed trade.
type Event struct {
	Sequence   int     `json:"sequence"`
	EventType  string  `json:"event_type"`
	ActionType *string `json:"action_type,omitempty"`
	Borrower   string  `json:"borrower,omitempty"`
	Amount     *uint64 `json:"amount,omitempty"`
	Data       []byte  `json:"data"`
}

// AuthorityInfo describes the loan authority the trade program signs with.
type AuthorityInfo struct {
	ProgramID       string   `json:"program_id"`
	Seed            string   `json:"seed"`
	Address         string   `json:"address"`
	Bump            uint8    `json:"bump"`
	LendingPrograms []string `json:"lending_programs"`
	MinTradeAmount  uint64   `json:"min_trade_amount"`
}

// ListOptions filters ListTrades. Zero values are omitted.
type ListOptions struct {
	Borrower string
	Status   string
	Limit    int
	Offset   int
}

// Client is the HTTP client for the flashtrade service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new trade service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// SubmitTrade asks the server to run a trade. The trade runs asynchronously;
// use GetTrade or WaitForTrade with the returned execution ID.
func (c *Client) SubmitTrade(ctx context.Context, tr TradeRequest) (*Submission, error) {
	body, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/trades", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var sub Submission
	if err := c.do(req, http.StatusAccepted, &sub); err != nil {
		return nil, err
	}

	c.logger.Debug("trade submitted", "execution_id", sub.ExecutionID, "workflow_id", sub.WorkflowID)
	return &sub, nil
}

// GetTrade retrieves a recorded trade with its logs and events.
// Returns ErrNotFound until the trade workflow has recorded the outcome.
func (c *Client) GetTrade(ctx context.Context, executionID string) (*Trade, error) {
	u := fmt.Sprintf("%s/api/v1/trades/%s", c.baseURL, url.PathEscape(executionID))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var trade Trade
	if err := c.do(req, http.StatusOK, &trade); err != nil {
		return nil, err
	}
	return &trade, nil
}

// WaitForTrade polls GetTrade until the trade is recorded or ctx is done.
func (c *Client) WaitForTrade(ctx context.Context, executionID string, interval time.Duration) (*Trade, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		trade, err := c.GetTrade(ctx, executionID)
		if err == nil {
			return trade, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		c.logger.Debug("trade not recorded yet", "execution_id", executionID)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for trade %s: %w", executionID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ListTrades retrieves recorded trades, most recent first.
func (c *Client) ListTrades(ctx context.Context, opts ListOptions) ([]*Trade, error) {
	q := url.Values{}
	if opts.Borrower != "" {
		q.Set("borrower", opts.Borrower)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/api/v1/trades"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var response struct {
		Trades []*Trade `json:"trades"`
	}
	if err := c.do(req, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Trades, nil
}

// Authority retrieves the loan authority the server derives.
func (c *Client) Authority(ctx context.Context) (*AuthorityInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/authority", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var info AuthorityInfo
	if err := c.do(req, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Health checks that the server and its database are up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// do sends req and decodes the JSON body into out when the status matches.
func (c *Client) do(req *http.Request, wantStatus int, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		errResp.Error = fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errResp.Error)
	}
	return fmt.Errorf("request failed: %s", errResp.Error)
}
