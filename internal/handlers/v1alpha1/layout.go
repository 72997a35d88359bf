package v1alpha1

import (
	"net/http"

	api "github.com/ocrbench/pipeline/api/v1alpha1"
	"github.com/ocrbench/pipeline/internal/handlers/v1alpha1/mappers"
	"github.com/ocrbench/pipeline/internal/handlers/validator"
)

// (GET /api/pages/{id}/layouts)
func (h *ServiceHandler) ListLayouts(w http.ResponseWriter, r *http.Request) {
	pageID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	layouts, err := h.layoutSrv.ListLayouts(r.Context(), pageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.PageLayoutsToApi(layouts))
}

// (POST /api/pages/{id}/layouts)
func (h *ServiceHandler) CreateLayout(w http.ResponseWriter, r *http.Request) {
	pageID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var form api.LayoutCreate
	if err := decode(r, &form, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(form, validator.NewLayoutValidationRules()...); err != nil {
		writeError(w, r, err)
		return
	}

	layout, err := h.layoutSrv.CreateLayout(r.Context(), pageID, mappers.LayoutFormApi(form))
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusCreated, mappers.LayoutToApi(*layout))
}

// (PATCH /api/layouts/{id})
func (h *ServiceHandler) UpdateLayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var form api.LayoutUpdate
	if err := decode(r, &form, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(form, validator.NewLayoutValidationRules()...); err != nil {
		writeError(w, r, err)
		return
	}

	layout, err := h.layoutSrv.UpdateLayout(r.Context(), id, mappers.LayoutUpdateFormApi(form))
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, mappers.LayoutToApi(*layout))
}

// (DELETE /api/layouts/{id})
func (h *ServiceHandler) DeleteLayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.layoutSrv.DeleteLayout(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, api.LayoutDeleted{Deleted: true, LayoutID: id})
}

// (POST /api/pages/{id}/layouts/detect)
func (h *ServiceHandler) DetectLayouts(w http.ResponseWriter, r *http.Request) {
	pageID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var form api.LayoutDetect
	if err := decode(r, &form, true); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(form); err != nil {
		writeError(w, r, err)
		return
	}

	submission, err := h.pipelineSrv.Redetect(r.Context(), pageID, mappers.DetectFormApi(form))
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusAccepted, submission)
}

// (POST /api/pages/{id}/layouts/review-complete)
func (h *ServiceHandler) CompleteLayoutReview(w http.ResponseWriter, r *http.Request) {
	pageID, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.layoutSrv.MarkLayoutReviewed(r.Context(), pageID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, result)
}
