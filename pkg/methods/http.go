package methods

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

type Handler struct {
	catalog Catalog
}

func NewHandler(catalog Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/methods", h.handleListMethods).Methods(http.MethodGet)
	r.HandleFunc("/methods/{name}", h.handleGetMethod).Methods(http.MethodGet)
	r.HandleFunc("/methods/{name}/score", h.handleScore).Methods(http.MethodPost)
}

func (h *Handler) handleListMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"methods": h.catalog.Methods})
}

func (h *Handler) handleGetMethod(w http.ResponseWriter, r *http.Request) {
	spec, ok := h.catalog.Lookup(mux.Vars(r)["name"])
	if !ok {
		http.Error(w, "unknown method", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"method": spec})
}

type scoreRequest struct {
	Stages map[string]string `json:"stages"`
	Sex    string            `json:"sex"`
}

// handleScore computes a suggested age from charted tooth stages. The value
// is advisory: the PI submits their own estimate through the estimates
// endpoint.
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := h.catalog.Lookup(name); !ok {
		http.Error(w, "unknown method", http.StatusNotFound)
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	switch name {
	case "demirjian", "Demirjian":
		result, err := CalculateDemirjian(req.Stages, req.Sex)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_score":   result.TotalScore,
			"estimated_age": result.EstimatedAge,
			"error_margin":  result.ErrorMargin,
		})
	default:
		result, err := CalculateAlQahtani(req.Stages)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"estimated_age": result.EstimatedAge,
			"error_margin":  result.ErrorMargin,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
