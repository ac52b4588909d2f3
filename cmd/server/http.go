package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shaowenchen/mcp-tool-forge/pkg/config"
	"github.com/shaowenchen/mcp-tool-forge/pkg/docs"
	"github.com/shaowenchen/mcp-tool-forge/pkg/metrics"
	capabilitiesModule "github.com/shaowenchen/mcp-tool-forge/pkg/modules/capabilities"
)

// newHTTPHandler routes the MCP endpoint, /mcp/docs and /metrics
func newHTTPHandler(cfg *config.Config, mcpHandler http.Handler, module *capabilitiesModule.Module) http.Handler {
	collector := docs.NewCollector(cfg, logger)
	collector.AddModule("capabilities", module.GetTools)
	docsHandler := docs.NewHandler(collector, logger)

	uri := cfg.Server.URI
	if uri == "" {
		uri = "/mcp"
	}

	mux := http.NewServeMux()
	mux.Handle(uri, authMiddleware(cfg.Auth, mcpHandler))
	mux.HandleFunc("/mcp/docs", docsHandler.HandleDocs)
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return metrics.HTTPMetricsMiddleware(mux, cfg.Server.Mode)
}

// authMiddleware checks a static bearer token when auth is enabled
func authMiddleware(auth config.AuthConfig, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.Enabled {
			metrics.RecordAuthRequest(false, true)
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		ok := auth.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(auth.Token)) == 1
		metrics.RecordAuthValidationDuration(time.Since(start))
		metrics.RecordAuthRequest(ok, false)

		if !ok {
			logger.Warn("Unauthorized request", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-tool-forge"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
