package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/flashtrade/service/authority"
	"github.com/brojonat/flashtrade/service/codec"
	"github.com/brojonat/flashtrade/service/config"
	"github.com/brojonat/flashtrade/service/db"
	"github.com/brojonat/flashtrade/service/temporal"
	"github.com/google/uuid"
)

const (
	maxRequestBodySize  = 1 << 20 // 1MB - plenty for a trade request
	maxAddressLength    = 100     // Solana addresses are 44 chars, give buffer
	maxExecutionIDLen   = 64
	maxActionsPerTrade  = 64
	defaultListLimit    = 50
	maxListLimit        = 1000
	statusPending       = "pending"
	healthCheckDeadline = 2 * time.Second
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)

	validExecutionIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	validStatuses = map[string]bool{"committed": true, "aborted": true, "simulated": true}
)

// submitTradeRequest is the JSON body of POST /api/v1/trades.
type submitTradeRequest struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	Actions     []string `json:"actions"`
	Amount      uint64   `json:"amount"`
	Borrower    string   `json:"borrower,omitempty"`
	Simulate    bool     `json:"simulate,omitempty"`
}

type submitTradeResponse struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	RunID       string `json:"run_id"`
	Status      string `json:"status"`
}

// handleSubmitTrade returns a handler that starts a trade workflow.
// POST /api/v1/trades
// The trade runs asynchronously; poll GET /api/v1/trades/{execution_id} for the outcome.
func handleSubmitTrade(trades TradeStarter, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req submitTradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			logger.Debug("invalid request body", "error", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		actions, err := validateActions(req.Actions)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := validateAmount(req.Amount, cfg); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if req.Borrower != "" {
			if err := validateAddress(req.Borrower); err != nil {
				logger.Debug("invalid borrower", "borrower", req.Borrower, "error", err)
				writeError(w, "invalid borrower: "+err.Error(), http.StatusBadRequest)
				return
			}
		}

		executionID := req.ExecutionID
		if executionID == "" {
			executionID = uuid.NewString()
		} else if err := validateExecutionID(executionID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		workflowID, runID, err := trades.StartTrade(r.Context(), executionID, temporal.TradeRequest{
			Actions:  actions,
			Amount:   req.Amount,
			Borrower: req.Borrower,
			Simulate: req.Simulate,
		})
		if errors.Is(err, temporal.ErrTradeExists) {
			writeError(w, "execution id already used", http.StatusConflict)
			return
		}
		if err != nil {
			logger.Error("failed to start trade", "execution_id", executionID, "error", err)
			writeError(w, "failed to start trade", http.StatusInternalServerError)
			return
		}

		logger.Info("trade submitted",
			"execution_id", executionID,
			"workflow_id", workflowID,
			"amount", req.Amount,
			"actions", req.Actions,
			"simulate", req.Simulate,
		)

		writeJSON(w, submitTradeResponse{
			ExecutionID: executionID,
			WorkflowID:  workflowID,
			RunID:       runID,
			Status:      statusPending,
		}, http.StatusAccepted)
	})
}

// handleGetTrade returns a handler that retrieves one recorded execution with its events.
// GET /api/v1/trades/{id}
func handleGetTrade(store ExecutionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := validateExecutionID(id); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		exec, err := store.GetExecution(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, "trade not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("failed to get trade", "execution_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, executionToResponse(exec, true), http.StatusOK)
	})
}

// handleListTrades returns a handler that lists recorded executions.
// GET /api/v1/trades?borrower=ADDRESS&status=STATUS&limit=N&offset=N
func handleListTrades(store ExecutionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		borrower := query.Get("borrower")
		if borrower != "" {
			if err := validateAddress(borrower); err != nil {
				logger.Debug("invalid borrower", "borrower", borrower, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		status := query.Get("status")
		if status != "" && !validStatuses[status] {
			writeError(w, "invalid status: must be 'committed', 'aborted' or 'simulated'", http.StatusBadRequest)
			return
		}

		limit := int32(defaultListLimit)
		if limitStr := query.Get("limit"); limitStr != "" {
			var parsedLimit int
			if _, err := fmt.Sscanf(limitStr, "%d", &parsedLimit); err != nil {
				writeError(w, "invalid limit parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedLimit < 1 {
				writeError(w, "limit must be at least 1", http.StatusBadRequest)
				return
			}
			if parsedLimit > maxListLimit {
				writeError(w, fmt.Sprintf("limit cannot exceed %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = int32(parsedLimit)
		}

		offset := int32(0)
		if offsetStr := query.Get("offset"); offsetStr != "" {
			var parsedOffset int
			if _, err := fmt.Sscanf(offsetStr, "%d", &parsedOffset); err != nil {
				writeError(w, "invalid offset parameter: must be an integer", http.StatusBadRequest)
				return
			}
			if parsedOffset < 0 {
				writeError(w, "offset cannot be negative", http.StatusBadRequest)
				return
			}
			offset = int32(parsedOffset)
		}

		execs, err := store.ListExecutions(r.Context(), db.ListExecutionsParams{
			Borrower: borrower,
			Status:   status,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			logger.Error("failed to list trades", "borrower", borrower, "status", status, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Debug("trades listed", "borrower", borrower, "status", status, "count", len(execs))

		resp := make([]executionResponse, len(execs))
		for i := range execs {
			resp[i] = executionToResponse(execs[i], false)
		}

		writeJSON(w, map[string]interface{}{
			"trades": resp,
			"count":  len(resp),
			"limit":  limit,
			"offset": offset,
		}, http.StatusOK)
	})
}

type authorityResponse struct {
	ProgramID         string   `json:"program_id"`
	Seed              string   `json:"seed"`
	Address           string   `json:"address"`
	Bump              uint8    `json:"bump"`
	LendingPrograms   []string `json:"lending_programs"`
	MinTradeAmount    uint64   `json:"min_trade_amount"`
}

// handleGetAuthority returns a handler that reports the loan authority the
// trade program signs with.
// GET /api/v1/authority
func handleGetAuthority(auth authority.Authority, cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := authorityResponse{
			ProgramID: auth.ProgramID.String(),
			Seed:      string(auth.Seed),
			Address:   auth.Address.String(),
			Bump:      auth.Bump,
		}
		if cfg != nil {
			for _, id := range cfg.LendingProgramIDs {
				resp.LendingPrograms = append(resp.LendingPrograms, id.String())
			}
			resp.MinTradeAmount = cfg.MinTradeAmount
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// handleHealth reports OK when the execution store is reachable.
// GET /health
func handleHealth(store ExecutionStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckDeadline)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("database unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// executionResponse is the JSON response format for a trade execution.
type executionResponse struct {
	ID             string          `json:"id"`
	TxID           uint64          `json:"tx_id"`
	Status         string          `json:"status"`
	Mode           string          `json:"mode"`
	AbortedState   *string         `json:"aborted_state,omitempty"`
	ErrorKind      *string         `json:"error_kind,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	Payer          string          `json:"payer"`
	Borrower       string          `json:"borrower"`
	LoanAuthority  string          `json:"loan_authority"`
	LendingProgram string          `json:"lending_program"`
	Amount         uint64          `json:"amount"`
	RepayAmount    *uint64         `json:"repay_amount,omitempty"`
	Actions        []string        `json:"actions"`
	Logs           []string        `json:"logs,omitempty"`
	Events         []eventResponse `json:"events,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// eventResponse is one audit event. Data is the raw borsh encoding (base64 in JSON).
type eventResponse struct {
	Sequence   int     `json:"sequence"`
	EventType  string  `json:"event_type"`
	ActionType *string `json:"action_type,omitempty"`
	Borrower   string  `json:"borrower,omitempty"`
	Amount     *uint64 `json:"amount,omitempty"`
	Data       []byte  `json:"data"`
}

// executionToResponse converts a recorded execution to a response format.
// Logs and events are only included in detail responses.
func executionToResponse(e *db.Execution, detail bool) executionResponse {
	resp := executionResponse{
		ID:             e.ID,
		TxID:           e.TxID,
		Status:         e.Status,
		Mode:           e.Mode,
		AbortedState:   e.AbortedState,
		ErrorKind:      e.ErrorKind,
		ErrorMessage:   e.ErrorMessage,
		Payer:          e.Payer,
		Borrower:       e.Borrower,
		LoanAuthority:  e.LoanAuthority,
		LendingProgram: e.LendingProgram,
		Amount:         e.Amount,
		RepayAmount:    e.RepayAmount,
		Actions:        e.Actions,
		CreatedAt:      e.CreatedAt,
	}
	if !detail {
		return resp
	}
	resp.Logs = e.Logs
	for _, ev := range e.Events {
		resp.Events = append(resp.Events, eventToResponse(ev))
	}
	return resp
}

func eventToResponse(ev *db.Event) eventResponse {
	resp := eventResponse{
		Sequence:   ev.Sequence,
		EventType:  ev.EventType,
		ActionType: ev.ActionType,
		Data:       ev.Data,
	}
	decoded, err := codec.DecodeEvent(ev.Data)
	if err != nil {
		return resp
	}
	if fe, ok := decoded.(codec.FlashloanEvent); ok {
		amount := fe.Amount
		resp.Borrower = fe.Borrower.String()
		resp.Amount = &amount
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateActions checks the action list and maps audit names to tags. An
// empty list is a valid trade that only borrows and repays.
func validateActions(names []string) ([]codec.TradeAction, error) {
	if len(names) > maxActionsPerTrade {
		return nil, errorf("too many actions: maximum is %d", maxActionsPerTrade)
	}
	actions, err := codec.ParseTradeActions(names)
	if err != nil {
		return nil, errorf("invalid actions: %v", err)
	}
	return actions, nil
}

// validateAmount checks the borrow amount against the configured minimum.
// The ceiling is the reserve's liquidity, which only the ledger knows.
func validateAmount(amount uint64, cfg *config.Config) error {
	if amount == 0 {
		return errorf("amount must be positive")
	}
	if cfg != nil && amount < cfg.MinTradeAmount {
		return errorf("amount must be at least %d", cfg.MinTradeAmount)
	}
	return nil
}

// validateExecutionID validates a client-chosen execution ID.
func validateExecutionID(id string) error {
	if id == "" {
		return errorf("execution id is required")
	}
	if len(id) > maxExecutionIDLen {
		return errorf("execution id too long: maximum length is %d characters", maxExecutionIDLen)
	}
	if !validExecutionIDRegex.MatchString(id) {
		return errorf("invalid execution id: only letters, digits, '-' and '_' are allowed")
	}
	return nil
}

// validateAddress validates an account address for security and format.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	// Check for null bytes and control characters
	for _, r := range address {
		if r == 0 || unicode.IsControl(r) {
			return errorf("invalid characters in address: control characters not allowed")
		}
	}

	// Check for common SQL injection patterns
	lowerAddr := strings.ToLower(address)
	sqlPatterns := []string{"drop ", "delete ", "insert ", "update ", "select ", "--", "/*", "*/", ";"}
	for _, pattern := range sqlPatterns {
		if strings.Contains(lowerAddr, pattern) {
			return errorf("invalid characters in address: suspicious pattern detected")
		}
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must contain only valid base58 characters")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
