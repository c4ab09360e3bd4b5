package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/elys-network/lpadvisor/internal/advisor"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/gorilla/mux"
)

var webLogger = logger.GetForComponent("web_server")

const maxBodyBytes = 1 << 20

// Advisor is the part of the advisor the API exposes.
type Advisor interface {
	Recommend(ctx context.Context, userID, profile string, balanceUSD float64) advisor.RecommendResult
	Execute(ctx context.Context, userID string, amountUSD float64) advisor.ExecuteResult
	Exit(ctx context.Context, userID, positionID string) advisor.ExitResult
	Confirm(ctx context.Context, positionID string, signedPayload []byte) advisor.ConfirmResult
	GetPositions(ctx context.Context, userID string) advisor.PositionsResult
	MonitorPositions(ctx context.Context) []types.ExitAlert
	Rebalance(ctx context.Context, userID, profile string, balanceUSD float64) advisor.RebalanceResult
	Health(ctx context.Context) advisor.HealthReport
}

// WebServer serves the JSON API for the chat and UI layers.
type WebServer struct {
	router  *mux.Router
	port    string
	advisor Advisor
	summary state.SummaryReader
	tuning  types.TuningParameters
	metrics *metrics.Metrics
	started time.Time
}

// Config holds the dependencies of a WebServer. Summary and Metrics are optional.
type Config struct {
	Port    string
	Advisor Advisor
	Summary state.SummaryReader
	Tuning  types.TuningParameters
	Metrics *metrics.Metrics
}

func NewWebServer(cfg Config) *WebServer {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	server := &WebServer{
		router:  mux.NewRouter(),
		port:    cfg.Port,
		advisor: cfg.Advisor,
		summary: cfg.Summary,
		tuning:  cfg.Tuning,
		metrics: cfg.Metrics,
		started: time.Now().UTC(),
	}
	server.setupRoutes()
	return server
}

func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")
	if ws.metrics != nil {
		ws.router.Handle("/metrics", ws.metrics.Handler()).Methods("GET")
	}

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/recommend", ws.handleRecommend).Methods("POST")
	api.HandleFunc("/execute", ws.handleExecute).Methods("POST")
	api.HandleFunc("/exit", ws.handleExit).Methods("POST")
	api.HandleFunc("/confirm", ws.handleConfirm).Methods("POST")
	api.HandleFunc("/rebalance", ws.handleRebalance).Methods("POST")
	api.HandleFunc("/monitor", ws.handleMonitor).Methods("POST")
	api.HandleFunc("/positions/{user}", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/summary", ws.handleGetSummary).Methods("GET")
	api.HandleFunc("/tuning", ws.handleGetTuning).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Handler exposes the router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		webLogger.Info().Msg("Shutting down web server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	report := ws.advisor.Health(r.Context())
	status := "healthy"
	code := http.StatusOK
	switch {
	case !report.Healthy:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case report.Degraded:
		status = "degraded"
	}

	ws.writeJSONResponse(w, code, map[string]interface{}{
		"status":    status,
		"advisor":   report,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(ws.started).Round(time.Second).String(),
		"runtime": map[string]interface{}{
			"goroutines":    runtime.NumGoroutine(),
			"heap_alloc_mb": float64(memStats.HeapAlloc) / 1024 / 1024,
			"num_gc":        memStats.NumGC,
			"go_version":    runtime.Version(),
		},
	})
}

type recommendRequest struct {
	UserID      string  `json:"user_id"`
	RiskProfile string  `json:"risk_profile"`
	BalanceUSD  float64 `json:"balance_usd"`
}

func (ws *WebServer) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !ws.decode(w, r, &req) {
		return
	}
	res := ws.advisor.Recommend(r.Context(), req.UserID, req.RiskProfile, req.BalanceUSD)
	ws.writeResult(w, res.Success, res)
}

type executeRequest struct {
	UserID    string  `json:"user_id"`
	USDAmount float64 `json:"usd_amount"`
}

func (ws *WebServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !ws.decode(w, r, &req) {
		return
	}
	res := ws.advisor.Execute(r.Context(), req.UserID, req.USDAmount)
	ws.writeResult(w, res.Success, res)
}

type exitRequest struct {
	UserID     string `json:"user_id"`
	PositionID string `json:"position_id,omitempty"`
}

func (ws *WebServer) handleExit(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if !ws.decode(w, r, &req) {
		return
	}
	res := ws.advisor.Exit(r.Context(), req.UserID, req.PositionID)
	ws.writeResult(w, res.Success, res)
}

type confirmRequest struct {
	PositionID    string          `json:"position_id"`
	SignedPayload json.RawMessage `json:"signed_payload"`
}

func (ws *WebServer) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !ws.decode(w, r, &req) {
		return
	}
	if req.PositionID == "" || len(req.SignedPayload) == 0 {
		ws.writeErrorResponse(w, http.StatusBadRequest, "position_id and signed_payload are required")
		return
	}
	res := ws.advisor.Confirm(r.Context(), req.PositionID, req.SignedPayload)
	ws.writeResult(w, res.Success, res)
}

func (ws *WebServer) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !ws.decode(w, r, &req) {
		return
	}
	res := ws.advisor.Rebalance(r.Context(), req.UserID, req.RiskProfile, req.BalanceUSD)
	ws.writeResult(w, res.Success, res)
}

func (ws *WebServer) handleMonitor(w http.ResponseWriter, r *http.Request) {
	alerts := ws.advisor.MonitorPositions(r.Context())
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	res := ws.advisor.GetPositions(r.Context(), user)
	ws.writeResult(w, res.Success, res)
}

func (ws *WebServer) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	if ws.summary == nil {
		ws.writeErrorResponse(w, http.StatusNotImplemented, "Summary is not available")
		return
	}
	window := 24 * time.Hour
	if s := r.URL.Query().Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid window parameter")
			return
		}
		window = d
	}
	summary, err := ws.summary.GetPortfolioSummary(r.Context(), time.Now().UTC().Add(-window))
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to get portfolio summary")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve portfolio summary")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, summary)
}

func (ws *WebServer) handleGetTuning(w http.ResponseWriter, _ *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"parameters": ws.tuning,
		"timestamp":  time.Now().UTC(),
	})
}

// decode reads a JSON body into v, answering 400 itself when it cannot.
func (ws *WebServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeResult answers 200 for a successful result and 422 otherwise; the body is the result.
func (ws *WebServer) writeResult(w http.ResponseWriter, success bool, data interface{}) {
	code := http.StatusOK
	if !success {
		code = http.StatusUnprocessableEntity
	}
	ws.writeJSONResponse(w, code, data)
}

func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	ws.writeJSONResponse(w, statusCode, map[string]interface{}{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}

func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// statusRecorder captures the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
