package v1alpha1

import (
	"net/http"

	"github.com/ocrbench/pipeline/internal/service"
)

// (POST /api/discovery/scan)
func (h *ServiceHandler) Scan(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scanner.Scan(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, summary)
}

// (GET /api/pages)
func (h *ServiceHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	missing, err := queryBool(r, "missing")
	if err != nil {
		writeError(w, r, err)
		return
	}

	listing, err := h.pageSrv.ListPages(r.Context(), service.PageFilter{
		Status:  r.URL.Query().Get("status"),
		Missing: missing,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, listing)
}

// (GET /api/pages/{id})
func (h *ServiceHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	details, err := h.pageSrv.GetPage(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, details)
}

// (GET /api/pages/{id}/image)
func (h *ServiceHandler) GetPageImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	path, err := h.pageSrv.ImagePath(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}
