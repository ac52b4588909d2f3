package docs

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Handler handles documentation requests
type Handler struct {
	collector *Collector
	logger    *zap.Logger
}

// NewHandler creates a new docs handler
func NewHandler(collector *Collector, logger *zap.Logger) *Handler {
	return &Handler{
		collector: collector,
		logger:    logger,
	}
}

// HandleDocs handles the /mcp/docs endpoint
func (h *Handler) HandleDocs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Collect tool information from the live capability table
	toolsInfo := h.collector.CollectToolsInfo()

	data, err := json.Marshal(toolsInfo)
	if err != nil {
		h.logger.Error("Failed to encode tools info", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(data, '\n'))
}
