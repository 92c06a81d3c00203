package domain

import (
	"fmt"
	"time"
)

// CustomerPaymentMethod is a saved, non-sensitive reference to a gateway-tokenized card.
type CustomerPaymentMethod struct {
	ID                     string
	UserID                 string
	GatewayPaymentMethodID string
	Brand                  string
	Last4                  string
	ExpMonth               int
	ExpYear                int
	IsDefault              bool
	CreatedAt              time.Time
}

// IsExpired checks whether the card expiry month has passed at now.
func (pm *CustomerPaymentMethod) IsExpired(now time.Time) bool {
	if pm.ExpYear == 0 {
		return false
	}
	// Cards are valid through the last day of the expiry month.
	firstOfNext := time.Date(pm.ExpYear, time.Month(pm.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.Before(firstOfNext)
}

// DisplayName returns "visa ending in 4242".
func (pm *CustomerPaymentMethod) DisplayName() string {
	return fmt.Sprintf("%s ending in %s", pm.Brand, pm.Last4)
}
