package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/notifications"
	"github.com/craftlink/api/internal/payments"
	"github.com/craftlink/api/internal/platform/config"
	"github.com/craftlink/api/internal/repositories"
	"github.com/craftlink/api/internal/services"
)

// Deps collects the externally constructed collaborators the container wires
// into services. Tests can supply in-memory registries and stub gateways.
type Deps struct {
	Registry repositories.Registry
	Health   repositories.HealthRepository
	Gateway  payments.Gateway
	Events   notifications.Publisher
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Build    services.BuildInfo
}

// Container bundles the service layer for runtime use by the HTTP handlers.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Workflow     services.WorkflowService
	System       services.SystemService
}

// NewContainer assembles the workflow and system services from configuration
// and the provided dependencies.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("di: payment gateway is required")
	}

	workflow, err := services.NewWorkflowService(services.WorkflowServiceDeps{
		JobRequests:       deps.Registry.JobRequests(),
		Offers:            deps.Registry.Offers(),
		Escrow:            deps.Registry.Escrow(),
		NegotiationEvents: deps.Registry.NegotiationEvents(),
		Categories:        deps.Registry.Categories(),
		Reviews:           deps.Registry.Reviews(),
		Gateway:           deps.Gateway,
		RefundPolicy:      refundPolicyFromConfig(cfg.Refunds),
		Clock:             time.Now,
		Events:            deps.Events,
		Logger:            deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("di: build workflow service: %w", err)
	}

	container := &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Workflow:     workflow,
	}

	if deps.Health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Health,
			Clock:            time.Now,
			Build:            deps.Build,
		})
		if err != nil {
			return nil, fmt.Errorf("di: build system service: %w", err)
		}
		container.System = system
	}

	return container, nil
}

// Close releases repository resources such as the Firestore client.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func refundPolicyFromConfig(cfg config.RefundConfig) domain.RefundPolicy {
	policy := domain.RefundPolicy{
		FullRefundWindow:  cfg.FullRefundWindow,
		LateRefundPercent: cfg.LateRefundPercent,
	}
	if policy.FullRefundWindow <= 0 {
		return domain.DefaultRefundPolicy()
	}
	return policy
}
