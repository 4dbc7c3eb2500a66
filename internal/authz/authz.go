// Package authz is the boundary to the identity/authorization layer. The core
// only ever asks one question: may this caller exercise this capability?
package authz

import (
	"context"
	"sync"

	id "trustcore/pkg/domain"
	dErrors "trustcore/pkg/domain-errors"
)

//go:generate mockgen -source=authz.go -destination=mocks/mock_authorizer.go -package=mocks Authorizer

// Capability names a privileged action family.
type Capability string

const (
	// CapabilityRegistrar may register attestors.
	CapabilityRegistrar Capability = "registrar"
	// CapabilitySubmitter may submit verification bundles.
	CapabilitySubmitter Capability = "submitter"
	// CapabilityAuthority administers policies, reviews, revocations, fees,
	// pausing, minting and attestor slashing.
	CapabilityAuthority Capability = "authority"
	// CapabilityOracle may confirm shipment progress on settlements.
	CapabilityOracle Capability = "oracle"
)

var knownCapabilities = map[Capability]bool{
	CapabilityRegistrar: true,
	CapabilitySubmitter: true,
	CapabilityAuthority: true,
	CapabilityOracle:    true,
}

// ParseCapability validates a capability name from external input.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !knownCapabilities[c] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown capability: "+s)
	}
	return c, nil
}

// ErrUnauthorized is returned by every operation whose caller lacks the
// capability the operation requires.
var ErrUnauthorized = dErrors.New(dErrors.CodeUnauthorized, "caller is not authorized for this operation")

// Authorizer answers capability checks.
type Authorizer interface {
	Authorize(ctx context.Context, caller id.AccountID, capability Capability) bool
}

// Require returns ErrUnauthorized unless caller holds capability.
func Require(ctx context.Context, a Authorizer, caller id.AccountID, capability Capability) error {
	if caller.IsNil() || a == nil || !a.Authorize(ctx, caller, capability) {
		return ErrUnauthorized
	}
	return nil
}

// RoleTable is an in-memory grant table. It backs single-node deployments and
// tests; production deployments usually layer JWT claims on top (see Any).
type RoleTable struct {
	mu     sync.RWMutex
	grants map[id.AccountID]map[Capability]struct{}
}

func NewRoleTable() *RoleTable {
	return &RoleTable{grants: make(map[id.AccountID]map[Capability]struct{})}
}

// Grant gives caller the listed capabilities.
func (t *RoleTable) Grant(caller id.AccountID, caps ...Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.grants[caller]
	if !ok {
		set = make(map[Capability]struct{}, len(caps))
		t.grants[caller] = set
	}
	for _, c := range caps {
		set[c] = struct{}{}
	}
}

// Revoke removes the listed capabilities from caller.
func (t *RoleTable) Revoke(caller id.AccountID, caps ...Capability) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.grants[caller]
	for _, c := range caps {
		delete(set, c)
	}
}

func (t *RoleTable) Authorize(_ context.Context, caller id.AccountID, capability Capability) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.grants[caller][capability]
	return ok
}

// Any authorizes when at least one of the wrapped authorizers does.
type Any []Authorizer

func (a Any) Authorize(ctx context.Context, caller id.AccountID, capability Capability) bool {
	for _, inner := range a {
		if inner != nil && inner.Authorize(ctx, caller, capability) {
			return true
		}
	}
	return false
}
