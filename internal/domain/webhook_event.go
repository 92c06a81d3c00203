package domain

import "time"

// WebhookOutcome records what ingestion did with a delivered event.
type WebhookOutcome string

const (
	WebhookOutcomeReceived  WebhookOutcome = "RECEIVED"
	WebhookOutcomeProcessed WebhookOutcome = "PROCESSED"
	WebhookOutcomeIgnored   WebhookOutcome = "IGNORED"
	WebhookOutcomeFailed    WebhookOutcome = "FAILED"
)

// WebhookEvent is an audit row for one delivered gateway event.
// It is never consulted to decide whether to process an event.
type WebhookEvent struct {
	Gateway    GatewayKind
	EventID    string
	Type       string
	Outcome    WebhookOutcome
	Deliveries int
	ReceivedAt time.Time
	UpdatedAt  time.Time
}
