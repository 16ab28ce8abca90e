package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
	"github.com/bobmcallan/yieldwatch/internal/services/router"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// providersResponse reports credential status, routing and capabilities.
// API keys never appear in it.
type providersResponse struct {
	Providers    []models.ProviderStatus      `json:"providers"`
	Routes       []models.ProviderConfig      `json:"routes"`
	Capabilities map[models.DataType][]string `json:"capabilities"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()

	statuses, err := s.app.Usage.Status(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read provider status")
		WriteError(w, http.StatusInternalServerError, "Failed to read provider status")
		return
	}

	resp := providersResponse{
		Providers:    statuses,
		Routes:       []models.ProviderConfig{},
		Capabilities: router.Capabilities(),
	}
	for _, dt := range models.AllDataTypes {
		route, err := s.app.Storage.ProviderStore().GetRoute(ctx, dt)
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to read routes")
			return
		}
		resp.Routes = append(resp.Routes, *route)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	stats, err := s.app.Market.GetFreshnessStats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute freshness stats")
		WriteError(w, http.StatusInternalServerError, "Failed to compute freshness stats")
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// handleSync handles POST /api/sync/{quotes|historical|dividends}.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	force, err := QueryBool(r, "force")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	days, err := QueryInt(r, "days")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbols := SplitSymbols(r.URL.Query().Get("symbols"))
	market := s.app.Market

	var run func(ctx context.Context) (*models.BatchResult, error)
	switch kind := PathParam(r, "/api/sync/", ""); kind {
	case "quotes":
		run = func(ctx context.Context) (*models.BatchResult, error) {
			if len(symbols) > 0 {
				return market.SyncQuotesFor(ctx, symbols, force)
			}
			return market.SyncQuotes(ctx, force)
		}
	case "historical":
		run = func(ctx context.Context) (*models.BatchResult, error) {
			if len(symbols) > 0 {
				return market.SyncHistoricalPricesFor(ctx, symbols, days, force)
			}
			return market.SyncHistoricalPrices(ctx, days, force)
		}
	case "dividends":
		run = func(ctx context.Context) (*models.BatchResult, error) {
			if len(symbols) > 0 {
				return market.SyncDividendsFor(ctx, symbols, days, force)
			}
			return market.SyncDividends(ctx, days, force)
		}
	default:
		WriteError(w, http.StatusNotFound, "Unknown sync type: "+kind)
		return
	}

	trace := traceFrom(r)
	result, err := run(r.Context())
	if result != nil {
		trace.recordBatch(result)
		w.Header().Set("X-Run-ID", result.RunID)
	}
	if err != nil {
		s.logger.WithCorrelationId(trace.correlationID).Warn().Err(err).Str("path", r.URL.Path).Msg("Sync did not complete")
		WriteError(w, http.StatusInternalServerError, "Sync did not complete: "+err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	positions, err := s.app.Holdings.Positions(r.Context(), r.URL.Query().Get("portfolio"))
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to compute positions")
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	WriteJSON(w, http.StatusOK, positions)
}

// handleSafety handles GET /api/safety/{symbol}.
func (s *Server) handleSafety(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	symbol := models.NormalizeSymbol(PathParam(r, "/api/safety/", ""))
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "Symbol is required")
		return
	}

	traceFrom(r).symbols = 1
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := s.app.Safety.GetSafetyScore(ctx, symbol)
	if err != nil {
		s.writeProviderError(w, symbol, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// handlePortfolioSafety handles GET /api/portfolio/safety?symbols=A,B.
// Without symbols the held symbols are scored.
func (s *Server) handlePortfolioSafety(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	symbols := SplitSymbols(r.URL.Query().Get("symbols"))
	if len(symbols) == 0 {
		held, err := s.app.Holdings.ActiveSymbols(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to list held symbols")
			return
		}
		symbols = held
	}
	traceFrom(r).symbols = len(symbols)

	result, err := s.app.Safety.GetPortfolioSafety(ctx, symbols)
	if err != nil {
		s.writeProviderError(w, "", err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

// writeProviderError maps upstream failures onto gateway status codes.
func (s *Server) writeProviderError(w http.ResponseWriter, symbol string, err error) {
	s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Upstream request failed")

	var perr *common.ProviderError
	switch {
	case errors.Is(err, common.ErrNoProviderAvailable):
		WriteErrorWithCode(w, http.StatusServiceUnavailable, err.Error(), "no_provider")
	case errors.Is(err, context.DeadlineExceeded):
		WriteErrorWithCode(w, http.StatusGatewayTimeout, err.Error(), "timeout")
	case errors.As(err, &perr):
		WriteErrorWithCode(w, http.StatusBadGateway, err.Error(), string(perr.Kind))
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// requestTimeout bounds handlers that call providers synchronously.
const requestTimeout = 2 * time.Minute
