package v1alpha1

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	api "github.com/ocrbench/pipeline/api/v1alpha1"
	"github.com/ocrbench/pipeline/internal/handlers/validator"
	"github.com/ocrbench/pipeline/internal/runtime"
	"github.com/ocrbench/pipeline/internal/service"
	"go.uber.org/zap"
)

// ErrorReply is the JSON body of every failed request.
type ErrorReply struct {
	api.Error
	status int
}

func (e *ErrorReply) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.status)
	return nil
}

func errorStatus(err error) int {
	switch err.(type) {
	case *service.ErrResourceNotFound:
		return http.StatusNotFound
	case *service.ErrInvalidInput, *validator.ErrValidation:
		return http.StatusBadRequest
	case *service.ErrStatusConflict:
		return http.StatusConflict
	}

	switch {
	case errors.Is(err, runtime.ErrUnknownStage), errors.Is(err, runtime.ErrInvalidParams):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		zap.S().Named("handlers").Errorw("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	_ = render.Render(w, r, &ErrorReply{Error: api.Error{Message: message}, status: status})
}
