package bipro

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
)

func TestMTOMRoundTrip(t *testing.T) {
	original := &model.ShipmentContent{
		ShipmentID: "shipment-42",
		Metadata: map[string]string{
			"category":   "100002000",
			"carrier":    "Demo VU",
			"created_at": "2026-03-01T08:00:00Z",
		},
		Documents: []model.ShipmentDocument{
			{Filename: "policy.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.7 fake policy content")},
			{Filename: "invoice.pdf", ContentType: "application/pdf", Content: []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff, 0xfe}},
		},
	}

	contentType, body, err := EncodeMTOM(original)
	if err != nil {
		t.Fatalf("EncodeMTOM failed: %v", err)
	}
	if !strings.HasPrefix(contentType, "multipart/related") {
		t.Errorf("Expected multipart/related content type, got %s", contentType)
	}

	decoded, err := DecodeMTOM(contentType, body)
	if err != nil {
		t.Fatalf("DecodeMTOM failed: %v", err)
	}

	if decoded.ShipmentID != "shipment-42" {
		t.Errorf("Expected shipment-42, got %s", decoded.ShipmentID)
	}
	if len(decoded.Documents) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(decoded.Documents))
	}
	for i, doc := range decoded.Documents {
		if doc.Filename != original.Documents[i].Filename {
			t.Errorf("Document %d: expected filename %s, got %s", i, original.Documents[i].Filename, doc.Filename)
		}
		if !bytes.Equal(doc.Content, original.Documents[i].Content) {
			t.Errorf("Document %d: content bytes do not match", i)
		}
	}
	if decoded.Metadata["category"] != "100002000" {
		t.Errorf("Expected category 100002000, got %s", decoded.Metadata["category"])
	}
	if decoded.Metadata["carrier"] != "Demo VU" {
		t.Errorf("Expected carrier Demo VU, got %s", decoded.Metadata["carrier"])
	}
}

func TestDecodeMTOMZeroDocuments(t *testing.T) {
	// A shipment without documents is a status notification, not an error.
	content := &model.ShipmentContent{
		ShipmentID: "shipment-7",
		Metadata:   map[string]string{"category": "100001000"},
	}
	contentType, body, err := EncodeMTOM(content)
	if err != nil {
		t.Fatalf("EncodeMTOM failed: %v", err)
	}

	decoded, err := DecodeMTOM(contentType, body)
	if err != nil {
		t.Fatalf("DecodeMTOM failed: %v", err)
	}
	if len(decoded.Documents) != 0 {
		t.Errorf("Expected 0 documents, got %d", len(decoded.Documents))
	}
	if decoded.Metadata["category"] != "100001000" {
		t.Errorf("Expected category metadata, got %v", decoded.Metadata)
	}
}

func TestDecodeMTOMPlainXML(t *testing.T) {
	xmlBody := `<?xml version="1.0"?>
<Envelope><Body><getShipmentResponse><Shipment>
  <ID>shipment-9</ID>
  <Category>100002000</Category>
</Shipment></getShipmentResponse></Body></Envelope>`

	decoded, err := DecodeMTOM("text/xml; charset=utf-8", []byte(xmlBody))
	if err != nil {
		t.Fatalf("DecodeMTOM failed: %v", err)
	}
	if decoded.ShipmentID != "shipment-9" {
		t.Errorf("Expected shipment-9, got %s", decoded.ShipmentID)
	}
	if len(decoded.Documents) != 0 {
		t.Errorf("Expected no documents, got %d", len(decoded.Documents))
	}
}

func TestDecodeMTOMMissingBinaryPart(t *testing.T) {
	content := &model.ShipmentContent{
		ShipmentID: "shipment-11",
		Metadata:   map[string]string{"category": "100002000"},
		Documents: []model.ShipmentDocument{
			{Filename: "doc.pdf", ContentType: "application/pdf", Content: []byte("data")},
		},
	}
	contentType, body, err := EncodeMTOM(content)
	if err != nil {
		t.Fatalf("EncodeMTOM failed: %v", err)
	}

	// Point the xop:Include at a content ID that is not in the message.
	broken := bytes.Replace(body, []byte("cid:doc-0@bipro.net"), []byte("cid:missing@bipro.net"), 1)

	_, err = DecodeMTOM(contentType, broken)
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedResponseError, got %v", err)
	}
}

func TestDecodeMTOMInlineBase64(t *testing.T) {
	xmlBody := `<?xml version="1.0"?>
<Envelope><Body><getShipmentResponse><Shipment>
  <ID>shipment-13</ID>
  <Document>
    <Filename>note.txt</Filename>
    <ContentType>text/plain</ContentType>
    <Data>aGVsbG8gYmlwcm8=</Data>
  </Document>
</Shipment></getShipmentResponse></Body></Envelope>`

	decoded, err := DecodeMTOM("text/xml", []byte(xmlBody))
	if err != nil {
		t.Fatalf("DecodeMTOM failed: %v", err)
	}
	if len(decoded.Documents) != 1 {
		t.Fatalf("Expected 1 document, got %d", len(decoded.Documents))
	}
	if string(decoded.Documents[0].Content) != "hello bipro" {
		t.Errorf("Expected decoded inline content, got %q", decoded.Documents[0].Content)
	}
}

func TestDecodeMTOMInvalidContentType(t *testing.T) {
	_, err := DecodeMTOM("", []byte("irrelevant"))
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedResponseError, got %v", err)
	}
}

func TestDecodeMTOMGarbageBody(t *testing.T) {
	_, err := DecodeMTOM("text/xml", []byte("this is not xml at all <<<"))
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedResponseError, got %v", err)
	}
}

func TestDecodeMTOMMissingBoundary(t *testing.T) {
	_, err := DecodeMTOM("multipart/related", []byte("body"))
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedResponseError, got %v", err)
	}
	if !strings.Contains(malformed.Reason, "boundary") {
		t.Errorf("Expected boundary error, got %s", malformed.Reason)
	}
}

func TestTrimContentID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"<doc-0@bipro.net>", "doc-0@bipro.net"},
		{"cid:doc-0@bipro.net", "doc-0@bipro.net"},
		{" <cid:doc-0@bipro.net> ", "doc-0@bipro.net"},
		{"doc-0@bipro.net", "doc-0@bipro.net"},
	}
	for _, tt := range tests {
		if got := trimContentID(tt.input); got != tt.want {
			t.Errorf("trimContentID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEncodeMTOMContentIDs(t *testing.T) {
	content := &model.ShipmentContent{
		ShipmentID: "shipment-20",
		Documents: []model.ShipmentDocument{
			{Filename: "a.pdf", Content: []byte("a")},
			{Filename: "b.pdf", Content: []byte("b")},
			{Filename: "c.pdf", Content: []byte("c")},
		},
	}
	_, body, err := EncodeMTOM(content)
	if err != nil {
		t.Fatalf("EncodeMTOM failed: %v", err)
	}
	for i := range content.Documents {
		cid := fmt.Sprintf("doc-%d@bipro.net", i)
		if !bytes.Contains(body, []byte(cid)) {
			t.Errorf("Expected content ID %s in body", cid)
		}
	}
}
