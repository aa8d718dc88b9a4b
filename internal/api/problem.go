package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pos-service/internal/service"
)

// ContentTypeProblemJSON is the media type of error responses
const ContentTypeProblemJSON = "application/problem+json"

// Problem is an RFC 7807 problem document
type Problem struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail,omitempty"`
	Instance   string         `json:"instance,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (p Problem) with(key string, value any) Problem {
	ext := make(map[string]any, len(p.Extensions)+1)
	for k, v := range p.Extensions {
		ext[k] = v
	}
	ext[key] = value
	p.Extensions = ext
	return p
}

func (p Problem) detail(format string, args ...any) Problem {
	p.Detail = fmt.Sprintf(format, args...)
	return p
}

var (
	problemBadRequest   = Problem{Type: "/problems/bad-request", Title: "Bad Request", Status: http.StatusBadRequest}
	problemUnauthorized = Problem{Type: "/problems/unauthorized", Title: "Unauthorized", Status: http.StatusUnauthorized}
	problemValidation   = Problem{Type: "/problems/validation-error", Title: "Validation Error", Status: http.StatusUnprocessableEntity}
	problemNotFound     = Problem{Type: "/problems/not-found", Title: "Resource Not Found", Status: http.StatusNotFound}
	problemStock        = Problem{Type: "/problems/insufficient-stock", Title: "Insufficient Stock", Status: http.StatusConflict}
	problemUnavailable  = Problem{Type: "/problems/temporarily-unavailable", Title: "Temporarily Unavailable", Status: http.StatusServiceUnavailable}
	problemConsistency  = Problem{Type: "/problems/consistency-error", Title: "Consistency Error", Status: http.StatusInternalServerError}
	problemInternal     = Problem{Type: "/problems/internal-error", Title: "Internal Server Error", Status: http.StatusInternalServerError}
	problemNotEnabled   = Problem{Type: "/problems/not-enabled", Title: "Not Enabled", Status: http.StatusNotImplemented}
)

func respondProblem(c *gin.Context, p Problem) {
	if p.Instance == "" {
		p.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.AbortWithStatusJSON(p.Status, p)
}

// problemFor maps service errors to problem documents.
func problemFor(err error) Problem {
	var (
		ve *service.ValidationError
		ne *service.NotFoundError
		ie *service.InsufficientStockError
		ce *service.ConsistencyError
		pe *service.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		return problemValidation.detail("request failed validation").with("fields", ve.Fields)
	case errors.As(err, &ne):
		return problemNotFound.detail("%s %q not found", ne.Kind, ne.Key).
			with("resourceType", ne.Kind).
			with("identifier", ne.Key)
	case errors.As(err, &ie):
		return problemStock.detail("%s", ie.Error()).
			with("productId", ie.ProductID).
			with("available", ie.Available).
			with("requested", ie.Requested)
	case errors.As(err, &ce):
		return problemConsistency.detail("the sale could not be fully undone; a repair has been queued").
			with("saleId", ce.SaleID)
	case errors.Is(err, service.ErrLiveUnavailable):
		return problemNotEnabled.detail("%s", err.Error())
	case errors.As(err, &pe) && pe.Retryable, errors.Is(err, context.DeadlineExceeded):
		return problemUnavailable.detail("the store did not answer in time, retry the request").with("retryable", true)
	}
	return problemInternal.detail("unexpected error")
}

func (h *Handler) fail(c *gin.Context, err error) {
	p := problemFor(err)
	switch {
	case p.Status == http.StatusServiceUnavailable:
		c.Header("Retry-After", "1")
		h.logger.Warn("request failed, retryable", zap.String("path", c.FullPath()), zap.Error(err))
	case p.Status >= http.StatusInternalServerError:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	respondProblem(c, p)
}
