package blinding

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dentage-research/platform/pkg/common/logger"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdmin mounts the code assignment endpoint, supervisor only.
func (h *Handler) RegisterAdmin(r *mux.Router) {
	r.HandleFunc("/codes/assign", h.handleAssignCodes).Methods(http.MethodPost)
}

// RegisterBlinded mounts the blinded worklist, readable by the PI.
func (h *Handler) RegisterBlinded(r *mux.Router) {
	r.HandleFunc("/blinded", h.handleBlindedView).Methods(http.MethodGet)
}

func (h *Handler) handleAssignCodes(w http.ResponseWriter, r *http.Request) {
	assigned, err := h.service.AssignMissingCodes(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to assign blinding codes")
		http.Error(w, "failed to assign codes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assigned": assigned})
}

func (h *Handler) handleBlindedView(w http.ResponseWriter, r *http.Request) {
	search := r.URL.Query().Get("search")
	excludeEstimated := r.URL.Query().Get("exclude_estimated") == "true"
	entries, err := h.service.BuildBlindedView(r.Context(), search, excludeEstimated)
	if err != nil {
		logger.Log.WithError(err).Error("failed to build blinded view")
		http.Error(w, "failed to build blinded view", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": entries})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
