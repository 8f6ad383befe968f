package services

import (
	"fmt"

	domain "github.com/craftlink/api/internal/domain"
)

// Action names a workflow operation subject to authorisation.
type Action string

const (
	ActionCreateJobRequest  Action = "job_request.create"
	ActionViewJobRequest    Action = "job_request.view"
	ActionListJobRequests   Action = "job_request.list"
	ActionSubmitOffer       Action = "offer.submit"
	ActionListOffers        Action = "offer.list"
	ActionAcceptOffer       Action = "offer.accept"
	ActionRejectOffer       Action = "offer.reject"
	ActionWithdrawOffer     Action = "offer.withdraw"
	ActionUpdateNegotiation Action = "negotiation.update"
	ActionConfirmAgreement  Action = "negotiation.confirm"
	ActionResetAgreement    Action = "negotiation.reset"
	ActionViewNegotiation   Action = "negotiation.view"
	ActionProcessPayment    Action = "escrow.process_payment"
	ActionCompleteRequest   Action = "job_request.complete"
	ActionRequestCancel     Action = "cancellation.request"
	ActionProcessCancel     Action = "cancellation.process"
	ActionSubmitReview      Action = "review.submit"
	ActionViewReview        Action = "review.view"
)

// relation names the ownership link an actor must hold to the records under mutation.
type relation int

const (
	relationNone relation = iota
	relationSeeker
	relationProvider
	relationEitherParty
)

// AccessSubject carries the resolved ownership facts a policy is evaluated against.
type AccessSubject struct {
	SeekerID   string
	ProviderID string
}

type policy struct {
	roles         []string
	relation      relation
	adminOverride bool
}

// workflowPolicies is the authoritative per-action access table. Every
// workflow operation consults it exactly once before touching state.
var workflowPolicies = map[Action]policy{
	ActionCreateJobRequest:  {roles: []string{domain.RoleSeeker}},
	ActionViewJobRequest:    {relation: relationSeeker, adminOverride: true},
	ActionListJobRequests:   {relation: relationSeeker, adminOverride: true},
	ActionSubmitOffer:       {roles: []string{domain.RoleProvider}},
	ActionListOffers:        {relation: relationSeeker, adminOverride: true},
	ActionAcceptOffer:       {relation: relationSeeker, adminOverride: true},
	ActionRejectOffer:       {relation: relationSeeker},
	ActionWithdrawOffer:     {relation: relationProvider},
	ActionUpdateNegotiation: {relation: relationEitherParty},
	ActionConfirmAgreement:  {relation: relationEitherParty},
	ActionResetAgreement:    {relation: relationEitherParty},
	ActionViewNegotiation:   {relation: relationEitherParty, adminOverride: true},
	ActionProcessPayment:    {relation: relationSeeker},
	ActionCompleteRequest:   {relation: relationEitherParty},
	ActionRequestCancel:     {relation: relationSeeker, adminOverride: true},
	ActionProcessCancel:     {roles: []string{domain.RoleAdmin, domain.RoleSystem}},
	ActionSubmitReview:      {relation: relationSeeker, adminOverride: true},
	ActionViewReview:        {relation: relationEitherParty, adminOverride: true},
}

// Authorize evaluates the policy table for the given action. It returns
// ErrForbidden naming the denied action, never details about the subject.
func Authorize(actor domain.Principal, action Action, subject AccessSubject) error {
	if actor.ID == "" {
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}

	pol, ok := workflowPolicies[action]
	if !ok {
		return fmt.Errorf("%w: %s", ErrForbidden, action)
	}

	if pol.adminOverride && actor.IsAdmin() {
		return nil
	}

	if len(pol.roles) > 0 {
		allowed := false
		for _, role := range pol.roles {
			if actor.HasRole(role) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrForbidden, action)
		}
	}

	switch pol.relation {
	case relationSeeker:
		if actor.ID != subject.SeekerID {
			return fmt.Errorf("%w: %s", ErrForbidden, action)
		}
	case relationProvider:
		if actor.ID != subject.ProviderID {
			return fmt.Errorf("%w: %s", ErrForbidden, action)
		}
	case relationEitherParty:
		if actor.ID != subject.SeekerID && actor.ID != subject.ProviderID {
			return fmt.Errorf("%w: %s", ErrForbidden, action)
		}
	}

	return nil
}
