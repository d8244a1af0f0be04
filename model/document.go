package model

import (
	"time"
)

// Document is the tracked record of one retrieved shipment document as it
// moves through the processing pipeline.
type Document struct {
	ID            string        `json:"id"`
	Carrier       string        `json:"carrier"`
	ShipmentID    string        `json:"shipment_id"`
	Filename      string        `json:"filename"`
	ContentType   string        `json:"content_type"`
	Category      string        `json:"category,omitempty"`
	State         DocumentState `json:"state"`
	ArchiveObject string        `json:"archive_object,omitempty"`
	ErrorMsg      string        `json:"error_msg,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
