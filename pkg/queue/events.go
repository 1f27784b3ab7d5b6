// Package queue publishes moderation-feed events so external tooling can
// react to new content without polling the API.
package queue

import "time"

// Routing keys on the events exchange.
const (
	RouteObservationCreated  = "observation.created"
	RouteObservationDeleted  = "observation.deleted"
	RouteConfirmationCreated = "confirmation.created"
)

// ObservationEvent describes an observation lifecycle change.
type ObservationEvent struct {
	ObservationID string    `json:"observationId"`
	Title         string    `json:"title"`
	OwnerID       string    `json:"ownerId,omitempty"`
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	Tags          []string  `json:"tags,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// ConfirmationEvent describes a new confirmation.
type ConfirmationEvent struct {
	ConfirmationID string    `json:"confirmationId"`
	ObservationID  string    `json:"observationId,omitempty"`
	OwnerID        string    `json:"ownerId,omitempty"`
	Confirmed      bool      `json:"confirmed"`
	OccurredAt     time.Time `json:"occurredAt"`
}
