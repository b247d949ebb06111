package models

import (
	"errors"
	"fmt"
)

// ErrWritePolicy is the base error for write-policy violations. It is never
// retried; callers surface it directly.
var ErrWritePolicy = errors.New("write policy violation")

// WritePolicy governs whether asset content may be created, overwritten or
// deleted in a repository.
type WritePolicy string

const (
	// WritePolicyAllow permits create, update and delete.
	WritePolicyAllow WritePolicy = "ALLOW"
	// WritePolicyAllowOnce permits create and delete but not overwrite:
	// release repositories where an artifact is immutable once deployed.
	WritePolicyAllowOnce WritePolicy = "ALLOW_ONCE"
	// WritePolicyDeny forbids all writes.
	WritePolicyDeny WritePolicy = "DENY"
)

// PolicyViolationError reports the denied action and the asset involved.
type PolicyViolationError struct {
	Policy WritePolicy
	Action string
	Asset  string
}

func (e PolicyViolationError) Error() string {
	return fmt.Sprintf("%s not allowed by policy %s: %s", e.Action, e.Policy, e.Asset)
}

func (e PolicyViolationError) Unwrap() error {
	return ErrWritePolicy
}

// CheckCreateAllowed returns an error when the policy forbids creating
// content for the named asset.
func (p WritePolicy) CheckCreateAllowed(asset string) error {
	if p == WritePolicyDeny {
		return PolicyViolationError{Policy: p, Action: "create", Asset: asset}
	}
	return nil
}

// CheckUpdateAllowed returns an error when the policy forbids overwriting
// existing content.
func (p WritePolicy) CheckUpdateAllowed(asset string) error {
	if p == WritePolicyDeny || p == WritePolicyAllowOnce {
		return PolicyViolationError{Policy: p, Action: "update", Asset: asset}
	}
	return nil
}

// CheckDeleteAllowed returns an error when the policy forbids deletion.
func (p WritePolicy) CheckDeleteAllowed(asset string) error {
	if p == WritePolicyDeny {
		return PolicyViolationError{Policy: p, Action: "delete", Asset: asset}
	}
	return nil
}
