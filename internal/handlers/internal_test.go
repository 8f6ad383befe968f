package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/services"
)

func newInternalRouter(service services.WorkflowService) chi.Router {
	handler := NewInternalHandlers(service)
	router := chi.NewRouter()
	router.Route("/internal", handler.Routes)
	return router
}

func TestProcessCancellationsRunsAsScheduler(t *testing.T) {
	var captured services.BatchCancellationCommand
	service := &stubWorkflowService{
		cancelBatchFn: func(ctx context.Context, cmd services.BatchCancellationCommand) (services.BatchCancellationResult, error) {
			captured = cmd
			return services.BatchCancellationResult{
				ProcessedOfferIDs: []string{"off_1", "off_2"},
				Failures: []services.BatchCancellationFailure{
					{OfferID: "off_3", Reason: "payment gateway unavailable"},
				},
			}, nil
		},
	}

	router := newInternalRouter(service)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/cancellations/process", strings.NewReader(`{"limit":10}`))
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "internal-scheduler" || !captured.Actor.HasRole(domain.RoleSystem) {
		t.Fatalf("expected scheduler principal, got %#v", captured.Actor)
	}
	if captured.Limit != 10 {
		t.Fatalf("expected limit 10, got %d", captured.Limit)
	}

	var resp processCancellationsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Processed) != 2 || resp.Processed[0] != "off_1" {
		t.Fatalf("unexpected processed list %#v", resp.Processed)
	}
	if len(resp.Failures) != 1 || resp.Failures[0].OfferID != "off_3" {
		t.Fatalf("unexpected failures %#v", resp.Failures)
	}
}

func TestProcessCancellationsEmptyBodyUsesDefaultLimit(t *testing.T) {
	var captured services.BatchCancellationCommand
	service := &stubWorkflowService{
		cancelBatchFn: func(ctx context.Context, cmd services.BatchCancellationCommand) (services.BatchCancellationResult, error) {
			captured = cmd
			return services.BatchCancellationResult{}, nil
		},
	}

	router := newInternalRouter(service)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/cancellations/process", nil)
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Limit != 0 {
		t.Fatalf("expected zero limit forwarded, got %d", captured.Limit)
	}

	var resp processCancellationsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Processed == nil {
		t.Fatalf("expected processed to serialise as an empty array")
	}
}

func TestProcessCancellationsInvalidJSON(t *testing.T) {
	router := newInternalRouter(&stubWorkflowService{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/cancellations/process", strings.NewReader(`{"limit":`))
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
