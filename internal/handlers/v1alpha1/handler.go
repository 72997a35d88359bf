package v1alpha1

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/ocrbench/pipeline/internal/activity"
	"github.com/ocrbench/pipeline/internal/discovery"
	"github.com/ocrbench/pipeline/internal/handlers/validator"
	"github.com/ocrbench/pipeline/internal/service"
)

// Scanner runs one discovery pass over the source folder.
type Scanner interface {
	Scan(ctx context.Context) (discovery.ScanSummary, error)
}

type ServiceHandler struct {
	scanner     Scanner
	pageSrv     *service.PageService
	layoutSrv   *service.LayoutService
	pipelineSrv *service.PipelineService
	reportSrv   *service.ReportService
	activitySrv *activity.Service
}

func NewServiceHandler(
	scanner Scanner,
	pageService *service.PageService,
	layoutService *service.LayoutService,
	pipelineService *service.PipelineService,
	reportService *service.ReportService,
	activityService *activity.Service,
) *ServiceHandler {
	return &ServiceHandler{
		scanner:     scanner,
		pageSrv:     pageService,
		layoutSrv:   layoutService,
		pipelineSrv: pipelineService,
		reportSrv:   reportService,
		activitySrv: activityService,
	}
}

// Routes registers every endpoint on router. The api server mounts it under /api.
func (h *ServiceHandler) Routes(router chi.Router) {
	router.Post("/discovery/scan", h.Scan)

	router.Get("/pages", h.ListPages)
	router.Route("/pages/{id}", func(r chi.Router) {
		r.Get("/", h.GetPage)
		r.Get("/image", h.GetPageImage)
		r.Get("/layouts", h.ListLayouts)
		r.Post("/layouts", h.CreateLayout)
		r.Post("/layouts/detect", h.DetectLayouts)
		r.Post("/layouts/review-complete", h.CompleteLayoutReview)
	})
	router.Patch("/layouts/{id}", h.UpdateLayout)
	router.Delete("/layouts/{id}", h.DeleteLayout)

	router.Get("/duplicates", h.ListDuplicates)
	router.Get("/stats", h.GetStats)
	router.Get("/export/layouts.xlsx", h.ExportLayouts)

	router.Route("/pipeline", func(r chi.Router) {
		r.Post("/jobs", h.SubmitJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/activity", h.GetActivity)
		r.Get("/activity/stream", h.StreamActivity)
		r.Get("/activity/ws", h.ActivitySocket)
		r.Post("/run", h.RunPipeline)
		r.Get("/execution", h.GetExecution)
		r.Put("/execution", h.SetExecution)
	})

	router.Post("/admin/wipe", h.Wipe)
}

func reply(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, service.NewErrInvalidInput(fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

func queryInt64(r *http.Request, key string) (*int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, service.NewErrInvalidInput(fmt.Sprintf("invalid %s %q", key, raw))
	}
	return &v, nil
}

func queryBool(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, service.NewErrInvalidInput(fmt.Sprintf("invalid %s %q", key, raw))
	}
	return &v, nil
}

// decode reads a JSON body into form. An empty body leaves form untouched
// when allowEmpty is set.
func decode(r *http.Request, form any, allowEmpty bool) error {
	if err := render.DecodeJSON(r.Body, form); err != nil {
		if errors.Is(err, io.EOF) {
			if allowEmpty {
				return nil
			}
			return service.NewErrInvalidInput("empty body")
		}
		return service.NewErrInvalidInput(fmt.Sprintf("malformed body: %s", err))
	}
	return nil
}

func validate(form any, rules ...validator.ValidationRule) error {
	v := validator.NewValidator()
	v.Register(rules...)
	return v.Struct(form)
}
