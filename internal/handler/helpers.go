package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/apierror"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/middleware"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

var validate = validator.New()

// bindQuery binds query parameters and runs go-playground/validator tags.
// Returns false and writes the error response if validation fails; the
// caller should return immediately without writing another response.
func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		middleware.Abort(c, apierror.New(apierror.CodeBadRequest, "invalid query: "+err.Error()))
		return false
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			middleware.Abort(c, apierror.New(apierror.CodeBadRequest, err.Error()))
			return false
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		middleware.Abort(c, apierror.Validation(fields))
		return false
	}
	return true
}

// respondError maps domain errors to status codes. Anything unknown is
// handed to the ErrorHandler middleware as a 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEntryNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrTableNotFound),
		errors.Is(err, service.ErrCommandNotFound):
		middleware.Abort(c, apierror.New(apierror.CodeNotFound, err.Error()))
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrAlreadyLocked),
		errors.Is(err, service.ErrOrderNotOpen),
		errors.Is(err, service.ErrConcurrentModification):
		middleware.Abort(c, apierror.New(apierror.CodeConflict, err.Error()))
	case errors.Is(err, service.ErrInvalidItems):
		middleware.Abort(c, apierror.New(apierror.CodeUnprocessed, err.Error()))
	default:
		_ = c.Error(err)
	}
}
