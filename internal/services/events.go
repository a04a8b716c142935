package services

import (
	"context"
	"time"
)

// Domain event types emitted by this core and consumed by external collaborators
// (notifications, analytics, the platform ledger). Nothing in this core
// subscribes to them.
const (
	EventCouponCreated    = "coupon.created"
	EventCouponUpdated    = "coupon.updated"
	EventCouponApplied    = "coupon.applied"
	EventCouponUsageReset = "coupon.usage_reset"

	EventReturnCreated = "return.created"
	// EventReturnUpdated marks a document mutation that left the status
	// untouched, such as an admin review recorded as a status no-op.
	EventReturnUpdated        = "return.updated"
	EventReturnStoreResponded = "return.store.responded"
	EventReturnAdminReviewed  = "return.admin.reviewed"
	EventReturnPickedUp       = "return.picked.up"
	EventReturnInspected      = "return.inspected"
	EventReturnRefunded       = "return.refunded"
)

// DomainEvent is the envelope broadcast for every state change in this core.
type DomainEvent struct {
	Type       string
	OccurredAt time.Time
	ActorID    string
	Payload    map[string]any
}

// EventPublisher publishes domain events for downstream consumers.
// Publish failures must never fail the originating request.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

// NopEventPublisher drops all events; used when publishing is not configured.
type NopEventPublisher struct{}

// Publish implements EventPublisher.
func (NopEventPublisher) Publish(context.Context, DomainEvent) error { return nil }
