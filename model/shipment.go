package model

import (
	"time"
)

// ShipmentInfo is an immutable snapshot of one shipment as returned by a
// carrier's listShipments response.
type ShipmentInfo struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Category       string    `json:"category"` // opaque carrier-assigned code, e.g. "100002000"
	AvailableUntil time.Time `json:"available_until"`
	TransferCount  int       `json:"transfer_count"`
}

// ShipmentDocument is one binary document extracted from a shipment.
// Ownership of Content transfers to the caller; the decoder keeps no reference.
type ShipmentDocument struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// ShipmentContent is one decoded getShipment response: the documents, the
// structured metadata extracted from the SOAP body and the raw body XML.
// A shipment with zero documents is valid and represents a status notification.
type ShipmentContent struct {
	ShipmentID string             `json:"shipment_id"`
	Documents  []ShipmentDocument `json:"documents"`
	Metadata   map[string]string  `json:"metadata"`
	RawXML     []byte             `json:"-"`
}
