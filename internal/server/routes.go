package server

import "net/http"

type route struct {
	pattern string
	handler http.HandlerFunc
}

// registerRoutes mounts every API route on mux and returns them in order.
func (s *Server) registerRoutes(mux *http.ServeMux) []route {
	routes := []route{
		{"/api/health", s.handleHealth},
		{"/api/version", s.handleVersion},
		{"/api/providers", s.handleProviders},

		{"/api/freshness", s.handleFreshness},
		{"/api/sync/", s.handleSync}, // quotes | historical | dividends

		{"/api/positions", s.handlePositions},

		{"/api/safety/", s.handleSafety},
		{"/api/portfolio/safety", s.handlePortfolioSafety},
	}
	for _, rt := range routes {
		mux.HandleFunc(rt.pattern, rt.handler)
	}
	return routes
}
