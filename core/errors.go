package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Typed error structs below wrap
// these so callers can branch with errors.Is and still extract diagnostics
// with errors.As.
var (
	// ErrValidation marks malformed envelopes or configs, rejected before
	// any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrRoutingDenied marks a permission-matrix rejection.
	ErrRoutingDenied = errors.New("routing denied")
	// ErrUnknownTarget marks an unregistered agent or platform id.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrGovernanceDenied marks an action blocked by the governance
	// evaluator. Distinct from ErrRoutingDenied.
	ErrGovernanceDenied = errors.New("governance denied")
	// ErrCapacityExceeded marks a spawn-limit or depth-limit rejection.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrQueueFull marks a bounded queue rejecting an enqueue. The source
	// had no bound here; rejecting on overflow is a deliberate hardening.
	ErrQueueFull = errors.New("queue full")
)

// ValidationError describes a structural defect in an envelope or config.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is makes ValidationError match ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// RoutingDeniedError carries the route key that the permission matrix
// rejected, for diagnostics.
type RoutingDeniedError struct {
	RouteKey string
}

func (e *RoutingDeniedError) Error() string {
	return fmt.Sprintf("routing denied for %s", e.RouteKey)
}

// Is makes RoutingDeniedError match ErrRoutingDenied.
func (e *RoutingDeniedError) Is(target error) bool { return target == ErrRoutingDenied }

// UnknownTargetError identifies the missing agent or platform.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target %q", e.Target)
}

// Is makes UnknownTargetError match ErrUnknownTarget.
func (e *UnknownTargetError) Is(target error) bool { return target == ErrUnknownTarget }

// GovernanceDeniedError reports which action on which agent was blocked.
type GovernanceDeniedError struct {
	AgentID string
	Action  string
}

func (e *GovernanceDeniedError) Error() string {
	return fmt.Sprintf("governance denied %s for agent %s", e.Action, e.AgentID)
}

// Is makes GovernanceDeniedError match ErrGovernanceDenied.
func (e *GovernanceDeniedError) Is(target error) bool { return target == ErrGovernanceDenied }

// CapacityExceededError reports a structural limit that was hit before any
// governance consultation.
type CapacityExceededError struct {
	AgentID string
	Limit   int
	Reason  string
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded for agent %s: %s (limit %d)", e.AgentID, e.Reason, e.Limit)
}

// Is makes CapacityExceededError match ErrCapacityExceeded.
func (e *CapacityExceededError) Is(target error) bool { return target == ErrCapacityExceeded }
