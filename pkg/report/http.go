package report

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dentage-research/platform/pkg/common/logger"
	"github.com/dentage-research/platform/pkg/common/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/analysis/summary", h.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/analysis/pairs", h.handlePairs).Methods(http.MethodGet)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to compute analysis summary")
		http.Error(w, "failed to compute summary", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"summary": summary})
}

func (h *Handler) handlePairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.service.Pairs(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to collect accuracy pairs")
		http.Error(w, "failed to collect pairs", http.StatusInternalServerError)
		return
	}

	if raw := r.URL.Query().Get("method"); raw != "" {
		method, ok := models.ParseMethod(raw)
		if !ok {
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}
		filtered := pairs[:0]
		for _, pair := range pairs {
			if pair.Method == method {
				filtered = append(filtered, pair)
			}
		}
		pairs = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"items": pairs})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
