package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/craftlink/api/internal/platform/httpx"
	"github.com/craftlink/api/internal/services"
)

// writeWorkflowError maps workflow sentinel errors onto the deterministic
// status taxonomy shared by every endpoint.
func writeWorkflowError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrAgreementIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("agreement_incomplete", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "operation not allowed", http.StatusForbidden))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrUpstreamFailure):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_failure", err.Error(), http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
