package tabular

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dentage-research/platform/pkg/common/logger"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/patients/import", h.handleImport).Methods(http.MethodPost)
	r.HandleFunc("/patients/export", h.handleExport).Methods(http.MethodGet)
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := strings.ToLower(header.Filename)
	var result interface{}
	switch {
	case strings.HasSuffix(name, ".csv"):
		result, err = h.service.ImportCSV(r.Context(), file)
	case strings.HasSuffix(name, ".xlsx"):
		result, err = h.service.ImportXLSX(r.Context(), file)
	default:
		http.Error(w, "unsupported file type, expected .csv or .xlsx", http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("patient import failed")
		http.Error(w, "import failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment;filename=patients.xlsx`)
	if err := h.service.Export(r.Context(), w); err != nil {
		logger.Log.WithError(err).Error("patient export failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
