package command

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-tenancy/pkg/types"
)

var (
	// ErrTenantIDRequired indicates a tenant command lacks the tenant id.
	ErrTenantIDRequired = fmt.Errorf("%w: tenant id required", types.ErrValidation)
	// ErrSubscriptionIDRequired indicates a subscription command lacks its id.
	ErrSubscriptionIDRequired = fmt.Errorf("%w: subscription id required", types.ErrValidation)
	// ErrReasonRequired indicates suspension or cancellation without a reason.
	ErrReasonRequired = fmt.Errorf("%w: reason required", types.ErrValidation)
	// ErrPlanRequired indicates a plan change without a target plan.
	ErrPlanRequired = fmt.Errorf("%w: plan id required", types.ErrValidation)
	// ErrPlanUnchanged indicates a plan change to the current plan.
	ErrPlanUnchanged = fmt.Errorf("%w: plan unchanged", types.ErrValidation)
	// ErrPendingChangeExists indicates a second change while one is scheduled.
	ErrPendingChangeExists = fmt.Errorf("%w: a plan change is already scheduled", types.ErrInvalidTransition)
	// ErrNoPendingChange indicates there is no scheduled change to cancel.
	ErrNoPendingChange = fmt.Errorf("%w: no plan change scheduled", types.ErrInvalidTransition)
	// ErrTrialExtensionDisabled indicates the feature gate is off.
	ErrTrialExtensionDisabled = fmt.Errorf("%w: trial extension disabled", types.ErrInvalidTransition)
	// ErrActorRequired indicates an actor descriptor was not supplied.
	ErrActorRequired = types.ErrActorRequired
)

func validateActor(actor types.Actor) error {
	if err := actor.Validate(); err != nil {
		if errors.Is(err, types.ErrActorRequired) {
			return fmt.Errorf("%w: %w", types.ErrValidation, ErrActorRequired)
		}
		return err
	}
	return nil
}
