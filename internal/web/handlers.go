package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.runner.State()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategy_id":     s.runner.StrategyID(),
		"bar_count":       state.BarCount,
		"is_paused":       state.IsPaused,
		"num_positions":   state.NumPositions,
		"num_trades":      state.NumTrades,
		"portfolio_value": state.PortfolioValue,
		"cash":            state.Cash,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.PortfolioSummary())
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.State().EquityCurve)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.runner.Pause()
	s.writeJSON(w, http.StatusOK, map[string]bool{"is_paused": s.runner.IsPaused()})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.runner.Resume()
	s.writeJSON(w, http.StatusOK, map[string]bool{"is_paused": s.runner.IsPaused()})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.runner.Positions()
	if positions == nil {
		positions = []domain.Position{}
	}
	s.writeJSON(w, http.StatusOK, positions)
}

type tradeView struct {
	ID         int64                  `json:"id"`
	Timestamp  time.Time              `json:"timestamp"`
	StrategyID string                 `json:"strategy_id"`
	Symbol     string                 `json:"symbol"`
	Side       domain.OrderSide       `json:"side"`
	Quantity   decimal.Decimal        `json:"quantity"`
	EntryPrice decimal.Decimal        `json:"entry_price"`
	ExitPrice  decimal.NullDecimal    `json:"exit_price"`
	PnL        decimal.Decimal        `json:"pnl"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// handleTrades reads the persistent ledger, filtered by ?strategy, ?symbol,
// ?start, ?end (RFC3339) and ?limit. Without a store it serves this session's
// trade log.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		s.writeJSON(w, http.StatusOK, s.runner.TradeLog())
		return
	}

	q := r.URL.Query()
	filter := domain.TradeFilter{
		StrategyID: q.Get("strategy"),
		Symbol:     q.Get("symbol"),
	}
	var err error
	if filter.Start, err = parseTimeParam(q.Get("start")); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad start: "+err.Error())
		return
	}
	if filter.End, err = parseTimeParam(q.Get("end")); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad end: "+err.Error())
		return
	}
	if filter.Limit, err = parseLimit(q.Get("limit"), 0); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad limit")
		return
	}

	trades, err := s.tradeRepo.ListTrades(r.Context(), filter)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	views := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView{
			ID:         t.ID,
			Timestamp:  t.Timestamp,
			StrategyID: t.StrategyID,
			Symbol:     t.Symbol,
			Side:       t.Side,
			Quantity:   t.Quantity,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			PnL:        t.PnL,
			Metadata:   t.Metadata,
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.runner.PendingOrders()
	if orders == nil {
		orders = []domain.Order{}
	}
	s.writeJSON(w, http.StatusOK, orders)
}

type orderRequest struct {
	Symbol   string           `json:"symbol"`
	Side     domain.OrderSide `json:"side"`
	Type     domain.OrderType `json:"order_type"`
	Quantity decimal.Decimal  `json:"quantity"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

// handleSubmitOrder places a manual order against the runner. Rejected orders
// come back as 400 with the fill result attached.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid order body")
		return
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}

	order := domain.Order{
		ID:         "manual_" + uuid.NewString(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Type:       req.Type,
		Quantity:   req.Quantity,
		Price:      req.Price,
		StrategyID: s.runner.StrategyID(),
	}

	result, err := s.runner.SubmitOrder(r.Context(), order)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNoPosition) || errors.Is(err, domain.ErrInsufficientQuantity) {
			s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		s.logger.Error("Failed to submit order", zap.String("order_id", order.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to submit order")
		return
	}

	s.logger.Info("Manual order submitted",
		zap.String("order_id", order.ID),
		zap.String("status", string(result.Status)))
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runner.CancelOrder(id) {
		s.writeError(w, http.StatusNotFound, "no pending order "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.tradeRepo == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history requires a trade store")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 20)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad limit")
		return
	}
	runs, err := s.tradeRepo.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*domain.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseLimit(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}
