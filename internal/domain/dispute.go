package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeStatus mirrors the gateway's dispute lifecycle.
type DisputeStatus string

const (
	DisputeStatusWarningNeedsResponse DisputeStatus = "WARNING_NEEDS_RESPONSE"
	DisputeStatusWarningUnderReview   DisputeStatus = "WARNING_UNDER_REVIEW"
	DisputeStatusWarningClosed        DisputeStatus = "WARNING_CLOSED"
	DisputeStatusNeedsResponse        DisputeStatus = "NEEDS_RESPONSE"
	DisputeStatusUnderReview          DisputeStatus = "UNDER_REVIEW"
	DisputeStatusWon                  DisputeStatus = "WON"
	DisputeStatusLost                 DisputeStatus = "LOST"
)

// Dispute is a chargeback raised by the gateway against an order's payment intent.
type Dispute struct {
	ID                string
	OrderID           string
	GatewayDisputeID  string
	GatewayIntentID   string
	Amount            decimal.Decimal
	Currency          string
	Status            DisputeStatus
	Reason            string
	EvidenceDueBy     *time.Time
	EvidenceFileIDs   []string
	EvidenceSubmitted bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsTerminal reports whether the dispute is closed.
func (d *Dispute) IsTerminal() bool {
	switch d.Status {
	case DisputeStatusWon, DisputeStatusLost, DisputeStatusWarningClosed:
		return true
	}
	return false
}

// AcceptsEvidence reports whether evidence may still be staged or submitted at now.
func (d *Dispute) AcceptsEvidence(now time.Time) bool {
	if d.Status != DisputeStatusNeedsResponse && d.Status != DisputeStatusWarningNeedsResponse {
		return false
	}
	if d.EvidenceDueBy != nil && now.After(*d.EvidenceDueBy) {
		return false
	}
	return true
}

// OrderOutcome returns the order status implied by a dispute status.
// WARNING_* statuses are informational and never move the order.
func (s DisputeStatus) OrderOutcome() (OrderStatus, bool) {
	switch s {
	case DisputeStatusWon:
		return OrderStatusPaid, true
	case DisputeStatusLost:
		return OrderStatusRefunded, true
	}
	return "", false
}

// IsWarning reports inquiry-stage statuses that do not dispute the order.
func (s DisputeStatus) IsWarning() bool {
	switch s {
	case DisputeStatusWarningNeedsResponse, DisputeStatusWarningUnderReview, DisputeStatusWarningClosed:
		return true
	}
	return false
}

// DisputeStatusFromGateway maps the gateway's lower-case vocabulary onto the enum.
// ok is false for statuses the service does not know.
func DisputeStatusFromGateway(status string) (DisputeStatus, bool) {
	switch status {
	case "warning_needs_response":
		return DisputeStatusWarningNeedsResponse, true
	case "warning_under_review":
		return DisputeStatusWarningUnderReview, true
	case "warning_closed":
		return DisputeStatusWarningClosed, true
	case "needs_response":
		return DisputeStatusNeedsResponse, true
	case "under_review":
		return DisputeStatusUnderReview, true
	case "won":
		return DisputeStatusWon, true
	case "lost":
		return DisputeStatusLost, true
	}
	return "", false
}

// DisputeEvidence is the structured evidence the gateway accepts.
// File fields carry gateway file ids returned by an evidence upload.
type DisputeEvidence struct {
	ProductDescription     string `json:"product_description,omitempty"`
	CustomerName           string `json:"customer_name,omitempty"`
	CustomerEmailAddress   string `json:"customer_email_address,omitempty"`
	BillingAddress         string `json:"billing_address,omitempty"`
	ShippingAddress        string `json:"shipping_address,omitempty"`
	ShippingCarrier        string `json:"shipping_carrier,omitempty"`
	ShippingTrackingNumber string `json:"shipping_tracking_number,omitempty"`
	ShippingDate           string `json:"shipping_date,omitempty"`
	RefundPolicyDisclosure string `json:"refund_policy_disclosure,omitempty"`
	UncategorizedText      string `json:"uncategorized_text,omitempty"`
	Receipt                string `json:"receipt,omitempty"`
	ShippingDocumentation  string `json:"shipping_documentation,omitempty"`
	CustomerCommunication  string `json:"customer_communication,omitempty"`
	UncategorizedFile      string `json:"uncategorized_file,omitempty"`
}
