package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies protocol events by their primary consumer.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or custody significance:
	// verification outcomes, tokenization, settlement payouts.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events that indicate misbehaviour or loss of
	// trust: slashes, revocations, disputes.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine ledger activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted by the core after a state change commits. It is
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         uuid.UUID
	Type       EventType
	EntityID   string
	Actor      string
	RequestID  string
	OccurredAt time.Time
	// Attributes carries type-specific values as strings (amounts are
	// rendered as base-unit decimals).
	Attributes map[string]string
}

// Category derives the routing category from the event type.
func (e Event) Category() EventCategory {
	return e.Type.Category()
}

type EventType string

const (
	// Staking ledger
	EventStaked   EventType = "stake.staked"
	EventUnstaked EventType = "stake.unstaked"
	EventMinted   EventType = "stake.minted"
	EventBurned   EventType = "stake.burned"
	EventPaused   EventType = "stake.paused"
	EventUnpaused EventType = "stake.unpaused"

	// Attestors
	EventAttestorRegistered  EventType = "attestor.registered"
	EventAttestorSlashed     EventType = "attestor.slashed"
	EventAttestorDeactivated EventType = "attestor.deactivated"
	EventAttestorReactivated EventType = "attestor.reactivated"
	EventAttestationRecorded EventType = "attestor.attestation_recorded"

	// Policies
	EventPolicyUpdated EventType = "policy.updated"

	// Verification
	EventVerificationSubmitted EventType = "verification.submitted"
	EventVerificationReviewed  EventType = "verification.reviewed"
	EventVerificationRevoked   EventType = "verification.revoked"

	// Tokenization
	EventAssetTokenized      EventType = "asset.tokenized"
	EventTokenizationFeeSet  EventType = "asset.fee_updated"
	EventProtectionActivated EventType = "protection.activated"

	// Settlement
	EventSettlementCreated   EventType = "settlement.created"
	EventSettlementConfirmed EventType = "settlement.confirmed"
	EventSettlementDisputed  EventType = "settlement.disputed"
	EventSettlementSettled   EventType = "settlement.settled"

	// Fees
	EventFeesDistributed EventType = "fees.distributed"
	EventFeesClaimed     EventType = "fees.claimed"
)

// eventCategories maps each event type to its category. Types missing from
// the map are treated as operations.
var eventCategories = map[EventType]EventCategory{
	EventVerificationSubmitted: CategoryCompliance,
	EventVerificationReviewed:  CategoryCompliance,
	EventAssetTokenized:        CategoryCompliance,
	EventSettlementSettled:     CategoryCompliance,
	EventPolicyUpdated:         CategoryCompliance,

	EventAttestorSlashed:     CategorySecurity,
	EventAttestorDeactivated: CategorySecurity,
	EventVerificationRevoked: CategorySecurity,
	EventSettlementDisputed:  CategorySecurity,
	EventPaused:              CategorySecurity,
}

// Category returns the category for an event type.
func (t EventType) Category() EventCategory {
	if c, ok := eventCategories[t]; ok {
		return c
	}
	return CategoryOperations
}

// Store persists events for querying.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEntity(ctx context.Context, entityID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Sink receives events for delivery to external subscribers.
type Sink interface {
	Append(ctx context.Context, event Event) error
}
