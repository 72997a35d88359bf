package v1alpha1

import (
	"net/http"
	"strconv"

	api "github.com/ocrbench/pipeline/api/v1alpha1"
	"github.com/ocrbench/pipeline/internal/handlers/validator"
	"github.com/ocrbench/pipeline/internal/service"
)

// (POST /api/pipeline/jobs)
func (h *ServiceHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var form api.JobSubmit
	if err := decode(r, &form, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(form, validator.NewPipelineValidationRules()...); err != nil {
		writeError(w, r, err)
		return
	}

	submission, err := h.pipelineSrv.Submit(r.Context(), form.Stage, form.EntityID, form.Params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusAccepted
	if !submission.Queued {
		status = http.StatusOK
	}
	reply(w, r, status, submission)
}

// (GET /api/pipeline/jobs)
func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	entityID, err := queryInt64(r, "entity_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt64(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := service.JobFilter{
		Stage:    r.URL.Query().Get("stage"),
		State:    r.URL.Query().Get("state"),
		EntityID: entityID,
	}
	if limit != nil {
		filter.Limit = int(*limit)
	}

	jobs, err := h.pipelineSrv.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, map[string]any{"count": len(jobs), "jobs": jobs})
}

// (POST /api/pipeline/run)
func (h *ServiceHandler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	result, err := h.pipelineSrv.Run(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, result)
}

// (GET /api/pipeline/execution)
func (h *ServiceHandler) GetExecution(w http.ResponseWriter, r *http.Request) {
	reply(w, r, http.StatusOK, h.pipelineSrv.Execution())
}

// (PUT /api/pipeline/execution)
func (h *ServiceHandler) SetExecution(w http.ResponseWriter, r *http.Request) {
	var form api.ExecutionUpdate
	if err := decode(r, &form, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := validate(form); err != nil {
		writeError(w, r, err)
		return
	}

	state, err := h.pipelineSrv.SetExecution(r.Context(), *form.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, state)
}

// (POST /api/admin/wipe)
func (h *ServiceHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	if err := h.pipelineSrv.Wipe(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	reply(w, r, http.StatusOK, api.WipeResult{Wiped: true})
}

func parseSinceID(r *http.Request) int64 {
	raw := r.URL.Query().Get("since_id")
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
	}
	since, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || since < 0 {
		return 0
	}
	return since
}
