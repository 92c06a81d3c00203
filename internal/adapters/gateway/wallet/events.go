package wallet

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

type eventEnvelope struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// DecodeEvent parses a wallet webhook. Capture events carry the provider order id in
// supplementary data; order events carry it as the resource id.
func (c *Client) DecodeEvent(payload []byte) (*ports.WalletEvent, error) {
	return DecodeEvent(payload)
}

// DecodeEvent is the stateless form of Client.DecodeEvent.
func DecodeEvent(payload []byte) (*ports.WalletEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to parse wallet event: %w", err)
	}
	if env.ID == "" || env.EventType == "" {
		return nil, fmt.Errorf("wallet event is missing id or event_type")
	}

	orderID := env.Resource.ID
	if strings.HasPrefix(env.EventType, "PAYMENT.CAPTURE.") {
		orderID = env.Resource.SupplementaryData.RelatedIDs.OrderID
	}

	return &ports.WalletEvent{
		ID:              env.ID,
		EventType:       env.EventType,
		ResourceType:    env.ResourceType,
		ProviderOrderID: orderID,
	}, nil
}

var _ ports.WalletEventDecoder = (*Client)(nil)
