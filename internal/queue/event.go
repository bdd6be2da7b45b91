// Package queue defines the reservation event payloads exchanged over the
// message broker and the background consumer that records them.
package queue

// ReservationCreatedEvent is published after an admission commits.  It
// carries enough for downstream consumers (notifications, webhooks,
// analytics) to act without querying the primary database.
type ReservationCreatedEvent struct {
	EventID        string `json:"event_id"`
	OrganizationID uint64 `json:"organization_id"`
	ReservationID  uint64 `json:"reservation_id"`
	Number         string `json:"number"`
	Kind           string `json:"kind"`
	InstanceID     uint64 `json:"instance_id"`
	ActivityName   string `json:"activity_name"`
	StartsAt       string `json:"starts_at"`
	CustomerID     uint64 `json:"customer_id"`
	CustomerEmail  string `json:"customer_email"`
	Participants   uint32 `json:"participants"`
	TotalCents     uint32 `json:"total_cents"`
	CreatedAt      string `json:"created_at"`
}

// ReservationStatusChangedEvent is published after a lifecycle mutation
// commits, covering status transitions and payment updates.
type ReservationStatusChangedEvent struct {
	EventID        string `json:"event_id"`
	OrganizationID uint64 `json:"organization_id"`
	ReservationID  uint64 `json:"reservation_id"`
	Number         string `json:"number"`
	Kind           string `json:"kind"`
	InstanceID     uint64 `json:"instance_id"`
	FromStatus     string `json:"from_status"`
	ToStatus       string `json:"to_status"`
	PaymentStatus  string `json:"payment_status"`
	PaidCents      uint32 `json:"paid_cents"`
	TotalCents     uint32 `json:"total_cents"`
	ChangedAt      string `json:"changed_at"`
}
