// Package events holds the payloads published on the message bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/abgdnv/marketplace/pkg/messaging"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseCompletedEvent is emitted once a checkout transaction has committed.
type PurchaseCompletedEvent struct {
	Carrier    map[string]string  `json:"carrier,omitempty"`
	PurchaseID uuid.UUID          `json:"purchase_id"`
	BuyerID    uuid.UUID          `json:"buyer_id"`
	TotalPrice decimal.Decimal    `json:"total_price"`
	Lines      []PurchaseLineItem `json:"lines"`
	CreatedAt  time.Time          `json:"created_at"`
}

type PurchaseLineItem struct {
	StoredProductID uuid.UUID       `json:"stored_product_id"`
	Quantity        int32           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
}

func (e PurchaseCompletedEvent) Subject() string {
	return messaging.PurchasesCompletedSubject
}

func (e PurchaseCompletedEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}
