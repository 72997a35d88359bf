package v1alpha1

import (
	"net/http"
	"strconv"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// (GET /api/duplicates)
func (h *ServiceHandler) ListDuplicates(w http.ResponseWriter, r *http.Request) {
	listing, err := h.reportSrv.Duplicates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, listing)
}

// (GET /api/stats)
func (h *ServiceHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reportSrv.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, stats)
}

// (GET /api/export/layouts.xlsx)
func (h *ServiceHandler) ExportLayouts(w http.ResponseWriter, r *http.Request) {
	buf, err := h.reportSrv.ExportLayouts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="layouts.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
