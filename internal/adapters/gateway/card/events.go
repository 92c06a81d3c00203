package card

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// DecodeEvent parses a webhook payload. The object is decoded according to the event type prefix;
// unknown prefixes return an event with no object set.
func (c *Client) DecodeEvent(payload []byte) (*ports.CardEvent, error) {
	return DecodeEvent(payload)
}

// DecodeEvent is the stateless form of Client.DecodeEvent.
func DecodeEvent(payload []byte) (*ports.CardEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("event is missing id or type")
	}

	event := &ports.CardEvent{
		ID:      env.ID,
		Type:    env.Type,
		Created: time.Unix(env.Created, 0).UTC(),
	}

	switch {
	case strings.HasPrefix(env.Type, "payment_intent."):
		var obj intentResponse
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse payment intent: %w", err)
		}
		event.Intent = toIntent(&obj)
	case strings.HasPrefix(env.Type, "refund."), strings.HasPrefix(env.Type, "charge.refund."):
		var obj refundResponse
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse refund: %w", err)
		}
		event.Refund = toRefund(&obj)
	case strings.HasPrefix(env.Type, "charge.dispute."):
		var obj disputeResponse
		if err := json.Unmarshal(env.Data.Object, &obj); err != nil {
			return nil, fmt.Errorf("failed to parse dispute: %w", err)
		}
		event.Dispute = toDispute(&obj)
	}
	return event, nil
}

var _ ports.CardEventDecoder = (*Client)(nil)
