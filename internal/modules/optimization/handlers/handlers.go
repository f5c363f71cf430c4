// Package handlers provides HTTP handlers for portfolio analytics.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/charts"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// MaxAssets caps the basket size of a single request
const MaxAssets = 20

// Error kinds reported in error responses
const (
	KindBadRequest       = "bad_request"
	KindInsufficientData = "insufficient_data"
	KindInfeasible       = "infeasible"
	KindNonConvergence   = "non_convergence"
	KindInvalidDimension = "invalid_dimension"
	KindProvider         = "provider"
	KindInternal         = "internal"
)

// Handler handles portfolio analytics HTTP requests
type Handler struct {
	service *optimization.Service
	charts  *charts.Service
	log     zerolog.Logger
}

// NewHandler creates a new portfolio handler
func NewHandler(service *optimization.Service, chartService *charts.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		charts:  chartService,
		log:     log.With().Str("handler", "portfolio").Logger(),
	}
}

// PortfolioRequest is the body shared by every portfolio endpoint.
// Omitted fields fall back to the service defaults.
type PortfolioRequest struct {
	Assets       []string `json:"assets"`
	Lookback     string   `json:"lookback"`
	End          string   `json:"end,omitempty"` // YYYY-MM-DD; empty means today
	RiskFreeRate *float64 `json:"risk_free_rate,omitempty"`
	Trials       int      `json:"trials,omitempty"`
	Seed         *uint64  `json:"seed,omitempty"`
}

// ErrorBody is the payload of an error response
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// params is a validated PortfolioRequest
type params struct {
	assets       []string
	lookback     domain.Lookback
	riskFreeRate float64
	trials       int
	seed         *uint64
}

type estimateResponse struct {
	Assets          []string                      `json:"assets"`
	ExpectedReturns map[string]float64            `json:"expected_returns"`
	Covariance      map[string]map[string]float64 `json:"covariance"`
	Volatilities    map[string]float64            `json:"volatilities"`
	Observations    int                           `json:"observations"`
	Start           string                        `json:"start"`
	End             string                        `json:"end"`
}

// frontierResponse carries the cloud both as points and as parallel arrays
type frontierResponse struct {
	*optimization.FrontierResult
	Points     []optimization.FrontierPoint `json:"points"`
	Returns    []float64                    `json:"returns"`
	Volatility []float64                    `json:"volatility"`
}

// HandleGetDefaults handles GET /api/portfolio/defaults
func (h *Handler) HandleGetDefaults(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.Defaults()
	h.writeData(w, r, http.StatusOK, map[string]interface{}{
		"assets":         domain.DefaultAssets,
		"lookback":       domain.DefaultLookback,
		"risk_free_rate": cfg.RiskFreeRate,
		"trials":         cfg.DefaultTrials,
		"max_trials":     cfg.MaxTrials,
		"max_assets":     MaxAssets,
		"solver":         h.service.SolverName(),
		"distribution":   optimization.SamplingDistribution,
	})
}

// HandleEstimate handles POST /api/portfolio/estimate
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decode(w, r)
	if !ok {
		return
	}

	est, err := h.service.Estimate(r.Context(), p.assets, p.lookback)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeData(w, r, http.StatusOK, estimateResponse{
		Assets:          est.Assets,
		ExpectedReturns: est.ReturnVector(),
		Covariance:      est.CovarianceMap(),
		Volatilities:    est.Volatilities(),
		Observations:    est.Observations,
		Start:           est.Start.Format("2006-01-02"),
		End:             est.End.Format("2006-01-02"),
	})
}

// HandleOptimize handles POST /api/portfolio/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.service.Optimize(r.Context(), p.assets, p.lookback, p.riskFreeRate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeData(w, r, http.StatusOK, result)
}

// HandleFrontier handles POST /api/portfolio/frontier
func (h *Handler) HandleFrontier(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.service.SimulateFrontier(r.Context(), p.assets, p.lookback, p.trials, p.seed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeData(w, r, http.StatusOK, frontierResponse{
		FrontierResult: result,
		Points:         result.Points,
		Returns:        result.Returns(),
		Volatility:     result.Volatilities(),
	})
}

// HandleAllocationChart handles POST /api/portfolio/allocation.png
func (h *Handler) HandleAllocationChart(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.service.Optimize(r.Context(), p.assets, p.lookback, p.riskFreeRate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	title := "Max Sharpe allocation"
	if result.Performance != nil {
		title = fmt.Sprintf("Max Sharpe allocation (Sharpe %.2f)", result.Performance.Sharpe)
	}
	png, err := h.charts.AllocationPie(result.CleanWeights, title)
	if err != nil {
		h.log.Error().Err(err).Str("id", result.ID).Msg("Failed to render allocation chart")
		h.writeError(w, r, err)
		return
	}

	writePNG(w, png)
}

// HandleFrontierChart handles POST /api/portfolio/frontier.png
func (h *Handler) HandleFrontierChart(w http.ResponseWriter, r *http.Request) {
	p, ok := h.decode(w, r)
	if !ok {
		return
	}

	result, err := h.service.SimulateFrontier(r.Context(), p.assets, p.lookback, p.trials, p.seed)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	png, err := h.charts.FrontierChart(result, charts.DefaultEnvelopeBuckets)
	if err != nil {
		h.log.Error().Err(err).Str("id", result.ID).Msg("Failed to render frontier chart")
		h.writeError(w, r, err)
		return
	}

	writePNG(w, png)
}

// decode reads and validates the request body, writing a 400 on failure.
// An empty body selects every default.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (params, bool) {
	var req PortfolioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeBadRequest(w, r, "Invalid request body")
		return params{}, false
	}

	p, err := h.resolve(req)
	if err != nil {
		h.writeBadRequest(w, r, err.Error())
		return params{}, false
	}
	return p, true
}

// resolve applies defaults and limits to a request
func (h *Handler) resolve(req PortfolioRequest) (params, error) {
	cfg := h.service.Defaults()

	assets := domain.NormalizeAssets(req.Assets)
	if len(assets) == 0 {
		assets = domain.NormalizeAssets(domain.DefaultAssets)
	}
	if len(assets) > MaxAssets {
		return params{}, fmt.Errorf("too many assets: %d (max %d)", len(assets), MaxAssets)
	}

	lookback, err := domain.ParseLookback(req.Lookback)
	if err != nil {
		return params{}, err
	}
	if req.End != "" {
		end, err := time.Parse("2006-01-02", req.End)
		if err != nil {
			return params{}, fmt.Errorf("invalid end date %q: expected YYYY-MM-DD", req.End)
		}
		lookback.End = end
	}

	rf := cfg.RiskFreeRate
	if req.RiskFreeRate != nil {
		rf = *req.RiskFreeRate
	}
	if rf <= -1 || rf >= 1 {
		return params{}, fmt.Errorf("risk_free_rate must be a decimal fraction, got %g", rf)
	}

	if req.Trials < 0 || req.Trials > cfg.MaxTrials {
		return params{}, fmt.Errorf("trials must be between 1 and %d", cfg.MaxTrials)
	}

	return params{
		assets:       assets,
		lookback:     lookback,
		riskFreeRate: rf,
		trials:       req.Trials,
		seed:         req.Seed,
	}, nil
}

// classify maps an engine error to its HTTP status and kind
func classify(err error) (int, string) {
	var (
		provider     *optimization.ProviderError
		insufficient *optimization.InsufficientDataError
		infeasible   *optimization.InfeasibleError
		nonConverge  *optimization.NonConvergenceError
		dimension    *optimization.InvalidDimensionError
	)
	switch {
	case errors.As(err, &provider):
		return http.StatusBadGateway, KindProvider
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity, KindInsufficientData
	case errors.As(err, &infeasible):
		return http.StatusUnprocessableEntity, KindInfeasible
	case errors.As(err, &nonConverge):
		return http.StatusInternalServerError, KindNonConvergence
	case errors.As(err, &dimension):
		return http.StatusBadRequest, KindInvalidDimension
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	event := h.log.Warn()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		event = h.log.Error()
	}
	event.Err(err).Str("kind", kind).Str("path", r.URL.Path).Msg("Request failed")

	h.writeJSON(w, status, map[string]interface{}{
		"error": ErrorBody{Kind: kind, Message: err.Error()},
	})
}

func (h *Handler) writeBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	h.log.Debug().Str("path", r.URL.Path).Str("reason", message).Msg("Rejected request")
	h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": ErrorBody{Kind: KindBadRequest, Message: message},
	})
}

func (h *Handler) writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp":  time.Now().Format(time.RFC3339),
			"request_id": middleware.GetReqID(r.Context()),
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writePNG(w http.ResponseWriter, png []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
