package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/firebot/internal/domain"
	"github.com/vitos/firebot/internal/usecase"
)

// Runner is the forward session the server controls.
type Runner interface {
	StrategyID() string
	State() usecase.ForwardState
	PortfolioSummary() usecase.PortfolioSummary
	Positions() []domain.Position
	TradeLog() []usecase.TradeLogEntry
	PendingOrders() []domain.Order
	SubmitOrder(ctx context.Context, order domain.Order) (domain.FillResult, error)
	CancelOrder(orderID string) bool
	Pause()
	Resume()
	IsPaused() bool
}

type Server struct {
	router    *http.ServeMux
	server    *http.Server
	runner    Runner
	tradeRepo domain.TradeRepository
	metrics   http.Handler
	logger    *zap.Logger
}

// NewServer wires the HTTP surface. tradeRepo and metrics may be nil; /trades
// then falls back to the in-memory trade log and /metrics is not mounted.
func NewServer(
	port int,
	runner Runner,
	tradeRepo domain.TradeRepository,
	metrics http.Handler,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:    http.NewServeMux(),
		runner:    runner,
		tradeRepo: tradeRepo,
		metrics:   metrics,
		logger:    logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Session
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /summary", s.handleSummary)
	s.router.HandleFunc("GET /equity", s.handleEquity)
	s.router.HandleFunc("POST /pause", s.handlePause)
	s.router.HandleFunc("POST /resume", s.handleResume)

	// Portfolio
	s.router.HandleFunc("GET /positions", s.handlePositions)
	s.router.HandleFunc("GET /trades", s.handleTrades)

	// Orders
	s.router.HandleFunc("GET /orders", s.handleListOrders)
	s.router.HandleFunc("POST /orders", s.handleSubmitOrder)
	s.router.HandleFunc("DELETE /orders/{id}", s.handleCancelOrder)

	// History
	s.router.HandleFunc("GET /runs", s.handleRuns)

	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
