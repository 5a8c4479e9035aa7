package escrow

import (
	"strconv"

	"nftescrow/core/events"
)

const (
	EventTypeInitialized     = "escrow.initialized"
	EventTypeEscrowDeposited = "escrow.deposited"
	EventTypeEscrowWithdrawn = "escrow.withdrawn"
	EventTypeEscrowApproved  = "escrow.approved"
	EventTypeConfigUpdated   = "escrow.config_updated"
)

// NewInitializedEvent returns the canonical event payload emitted when the
// config singleton is first written.
func NewInitializedEvent(cfg *Config) *events.Event { return newConfigEvent(EventTypeInitialized, cfg) }

// NewDepositedEvent returns the canonical event payload for a newly stored
// escrow record.
func NewDepositedEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeEscrowDeposited, e) }

// NewWithdrawnEvent returns the canonical event payload emitted when an
// expired item is returned to its source.
func NewWithdrawnEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeEscrowWithdrawn, e) }

// NewApprovedEvent returns the canonical event payload emitted when an escrow
// settles in favour of the recipient.
func NewApprovedEvent(e *Escrow) *events.Event { return newEscrowEvent(EventTypeEscrowApproved, e) }

// NewConfigUpdatedEvent returns the canonical event payload for a config
// replacement.
func NewConfigUpdatedEvent(cfg *Config) *events.Event {
	return newConfigEvent(EventTypeConfigUpdated, cfg)
}

func newEscrowEvent(eventType string, e *Escrow) *events.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	attrs["collection"] = e.Collection
	attrs["token_id"] = e.TokenID
	attrs["source"] = e.Source
	attrs["recipient"] = e.Recipient
	if e.Price != nil {
		attrs["price"] = e.Price.String()
	}
	attrs["expires_at"] = strconv.FormatInt(e.Deadline, 10)
	return &events.Event{Type: eventType, Attributes: attrs}
}

func newConfigEvent(eventType string, cfg *Config) *events.Event {
	attrs := make(map[string]string)
	if cfg == nil {
		return &events.Event{Type: eventType, Attributes: attrs}
	}
	attrs["admin"] = cfg.Admin
	attrs["denom"] = cfg.Denom
	return &events.Event{Type: eventType, Attributes: attrs}
}
