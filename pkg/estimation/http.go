package estimation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

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
	r.HandleFunc("/estimates", h.handleSubmitEstimate).Methods(http.MethodPost)
	r.HandleFunc("/estimates", h.handleListEntries).Methods(http.MethodGet)
}

func (h *Handler) handleSubmitEstimate(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	result, err := h.service.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateSubmission):
			http.Error(w, "estimate already recorded for this code", http.StatusConflict)
		case errors.Is(err, ErrInvalidSubmission):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			logger.Log.WithError(err).Error("failed to submit estimate")
			http.Error(w, "failed to submit estimate", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"result": result})
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	entries, err := h.service.RecentEntries(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list estimation entries")
		http.Error(w, "failed to list entries", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
