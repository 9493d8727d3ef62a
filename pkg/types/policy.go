package types

import (
	"fmt"
	"sort"
)

// TransitionPolicy validates lifecycle transitions for a status type.
type TransitionPolicy[S ~string] interface {
	Validate(current, target S) error
	AllowedTargets(current S) []S
}

// StaticTransitionPolicy enforces a fixed transition graph.
type StaticTransitionPolicy[S ~string] struct {
	graph map[S]map[S]struct{}
}

// NewStaticTransitionPolicy creates a policy from a transition graph.
func NewStaticTransitionPolicy[S ~string](graph map[S][]S) *StaticTransitionPolicy[S] {
	internal := make(map[S]map[S]struct{}, len(graph))
	for from, targets := range graph {
		targetSet := make(map[S]struct{}, len(targets))
		for _, to := range targets {
			if to == "" {
				continue
			}
			targetSet[to] = struct{}{}
		}
		internal[from] = targetSet
	}
	return &StaticTransitionPolicy[S]{graph: internal}
}

// DefaultTenantPolicy is the tenant billing status graph. Cancelled is
// terminal.
func DefaultTenantPolicy() *StaticTransitionPolicy[TenantStatus] {
	return NewStaticTransitionPolicy(map[TenantStatus][]TenantStatus{
		TenantTrial:     {TenantActive, TenantSuspended, TenantOverdue, TenantCancelled},
		TenantActive:    {TenantSuspended, TenantOverdue, TenantCancelled},
		TenantOverdue:   {TenantActive, TenantTrial, TenantSuspended, TenantCancelled},
		TenantSuspended: {TenantActive, TenantTrial, TenantCancelled},
	})
}

// DefaultProvisioningPolicy is the provisioning readiness graph. Failed
// provisioning may be retried.
func DefaultProvisioningPolicy() *StaticTransitionPolicy[ProvisioningStatus] {
	return NewStaticTransitionPolicy(map[ProvisioningStatus][]ProvisioningStatus{
		ProvisioningPending: {ProvisioningRunning, ProvisioningFailed},
		ProvisioningRunning: {ProvisioningReady, ProvisioningFailed},
		ProvisioningFailed:  {ProvisioningRunning},
	})
}

// DefaultSubscriptionPolicy is the subscription status graph.
func DefaultSubscriptionPolicy() *StaticTransitionPolicy[SubscriptionStatus] {
	return NewStaticTransitionPolicy(map[SubscriptionStatus][]SubscriptionStatus{
		SubscriptionTrial:     {SubscriptionActive, SubscriptionOverdue, SubscriptionExpired, SubscriptionCancelled},
		SubscriptionActive:    {SubscriptionOverdue, SubscriptionExpired, SubscriptionCancelled},
		SubscriptionOverdue:   {SubscriptionActive, SubscriptionExpired, SubscriptionCancelled},
		SubscriptionExpired:   {SubscriptionTrial, SubscriptionActive},
		SubscriptionCancelled: {SubscriptionTrial, SubscriptionActive},
	})
}

// Validate ensures the target is allowed from the current state.
func (p *StaticTransitionPolicy[S]) Validate(current, target S) error {
	if current == "" || target == "" {
		return fmt.Errorf("%w: missing state", ErrInvalidTransition)
	}
	targets, ok := p.graph[current]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, current)
	}
	if _, ok := targets[target]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	return nil
}

// AllowedTargets returns the valid targets from the provided state, sorted.
func (p *StaticTransitionPolicy[S]) AllowedTargets(current S) []S {
	targets := p.graph[current]
	if len(targets) == 0 {
		return nil
	}
	out := make([]S, 0, len(targets))
	for target := range targets {
		out = append(out, target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
