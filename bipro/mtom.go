package bipro

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
)

// XML shape of a getShipment SOAP body. Namespace prefixes vary per carrier;
// encoding/xml matches on local names, which is what we want here.
type shipmentEnvelope struct {
	Body struct {
		Response struct {
			Shipment shipmentXML `xml:"Shipment"`
		} `xml:"getShipmentResponse"`
	} `xml:"Body"`
}

type shipmentXML struct {
	ID        string        `xml:"ID"`
	Category  string        `xml:"Category"`
	Carrier   string        `xml:"Carrier"`
	CreatedAt string        `xml:"CreatedAt"`
	Documents []documentXML `xml:"Document"`
}

type documentXML struct {
	Filename    string  `xml:"Filename"`
	ContentType string  `xml:"ContentType"`
	Data        dataXML `xml:"Data"`
}

type dataXML struct {
	Include *xopInclude `xml:"Include"`
	Inline  string      `xml:",chardata"`
}

type xopInclude struct {
	Href string `xml:"href,attr"`
}

type mimePart struct {
	contentID   string
	contentType string
	data        []byte
}

// DecodeMTOM parses a getShipment response body into a ShipmentContent.
// contentType is the HTTP Content-Type header; multipart/related bodies are
// split into their XOP parts, anything else is treated as a plain SOAP body
// without attachments.
func DecodeMTOM(contentType string, body []byte) (*model.ShipmentContent, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, &MalformedResponseError{Reason: "invalid Content-Type header", Err: err}
	}

	rootXML := body
	var parts []mimePart

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, &MalformedResponseError{Reason: "multipart response without boundary"}
		}
		parts, err = readParts(body, boundary)
		if err != nil {
			return nil, &MalformedResponseError{Reason: "unreadable multipart body", Err: err}
		}
		if len(parts) == 0 {
			return nil, &MalformedResponseError{Reason: "multipart response with no parts"}
		}

		root := findRootPart(parts, params["start"])
		if root == nil {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("root part %q not found", params["start"])}
		}
		rootXML = root.data
	}

	var envelope shipmentEnvelope
	if err := xml.Unmarshal(rootXML, &envelope); err != nil {
		return nil, &MalformedResponseError{Reason: "unparsable SOAP body", Err: err}
	}

	shipment := envelope.Body.Response.Shipment
	content := &model.ShipmentContent{
		ShipmentID: shipment.ID,
		Metadata:   map[string]string{},
		RawXML:     rootXML,
	}
	if shipment.Category != "" {
		content.Metadata["category"] = shipment.Category
	}
	if shipment.Carrier != "" {
		content.Metadata["carrier"] = shipment.Carrier
	}
	if shipment.CreatedAt != "" {
		content.Metadata["created_at"] = shipment.CreatedAt
	}

	for _, doc := range shipment.Documents {
		data, err := resolveDocumentData(doc, parts)
		if err != nil {
			return nil, err
		}
		content.Documents = append(content.Documents, model.ShipmentDocument{
			Filename:    doc.Filename,
			ContentType: doc.ContentType,
			Content:     data,
		})
	}

	return content, nil
}

func resolveDocumentData(doc documentXML, parts []mimePart) ([]byte, error) {
	if doc.Data.Include != nil {
		cid := strings.TrimPrefix(doc.Data.Include.Href, "cid:")
		for i := range parts {
			if parts[i].contentID == cid {
				return parts[i].data, nil
			}
		}
		return nil, &MalformedResponseError{
			Reason: fmt.Sprintf("xop:Include %q has no matching MIME part", doc.Data.Include.Href),
		}
	}

	inline := strings.TrimSpace(doc.Data.Inline)
	if inline == "" {
		return nil, &MalformedResponseError{
			Reason: fmt.Sprintf("document %q carries neither xop:Include nor inline data", doc.Filename),
		}
	}
	data, err := base64.StdEncoding.DecodeString(inline)
	if err != nil {
		return nil, &MalformedResponseError{
			Reason: fmt.Sprintf("document %q has invalid inline base64 data", doc.Filename),
			Err:    err,
		}
	}
	return data, nil
}

func readParts(body []byte, boundary string) ([]mimePart, error) {
	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var parts []mimePart
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, err
		}
		parts = append(parts, mimePart{
			contentID:   trimContentID(part.Header.Get("Content-ID")),
			contentType: part.Header.Get("Content-Type"),
			data:        data,
		})
	}
	return parts, nil
}

// findRootPart picks the SOAP body part: the one named by the start
// parameter, or the first part when none is declared.
func findRootPart(parts []mimePart, start string) *mimePart {
	if start == "" {
		return &parts[0]
	}
	start = trimContentID(start)
	for i := range parts {
		if parts[i].contentID == start {
			return &parts[i]
		}
	}
	return nil
}

func trimContentID(cid string) string {
	cid = strings.TrimSpace(cid)
	cid = strings.TrimPrefix(cid, "<")
	cid = strings.TrimSuffix(cid, ">")
	return strings.TrimPrefix(cid, "cid:")
}

// EncodeMTOM builds a multipart/related XOP response body for the given
// content. Used by tests and mock carriers to produce round-trip fixtures.
func EncodeMTOM(content *model.ShipmentContent) (contentType string, body []byte, err error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	rootXML := buildShipmentXML(content)

	rootHeader := textproto.MIMEHeader{}
	rootHeader.Set("Content-Type", `application/xop+xml; charset=UTF-8; type="text/xml"`)
	rootHeader.Set("Content-ID", "<root.message@bipro.net>")
	rootPart, err := writer.CreatePart(rootHeader)
	if err != nil {
		return "", nil, err
	}
	if _, err := rootPart.Write(rootXML); err != nil {
		return "", nil, err
	}

	for i, doc := range content.Documents {
		header := textproto.MIMEHeader{}
		partType := doc.ContentType
		if partType == "" {
			partType = "application/octet-stream"
		}
		header.Set("Content-Type", partType)
		header.Set("Content-ID", fmt.Sprintf("<doc-%d@bipro.net>", i))
		header.Set("Content-Transfer-Encoding", "binary")
		part, err := writer.CreatePart(header)
		if err != nil {
			return "", nil, err
		}
		if _, err := part.Write(doc.Content); err != nil {
			return "", nil, err
		}
	}

	if err := writer.Close(); err != nil {
		return "", nil, err
	}

	contentType = fmt.Sprintf(
		`multipart/related; boundary=%s; type="application/xop+xml"; start="<root.message@bipro.net>"`,
		writer.Boundary(),
	)
	return contentType, buf.Bytes(), nil
}

func buildShipmentXML(content *model.ShipmentContent) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">`)
	b.WriteString(`<soapenv:Body><tf:getShipmentResponse xmlns:tf="http://www.bipro.net/namespace/transfer">`)
	b.WriteString(`<tf:Shipment>`)
	fmt.Fprintf(&b, `<tf:ID>%s</tf:ID>`, xmlEscape(content.ShipmentID))
	if v := content.Metadata["category"]; v != "" {
		fmt.Fprintf(&b, `<tf:Category>%s</tf:Category>`, xmlEscape(v))
	}
	if v := content.Metadata["carrier"]; v != "" {
		fmt.Fprintf(&b, `<tf:Carrier>%s</tf:Carrier>`, xmlEscape(v))
	}
	if v := content.Metadata["created_at"]; v != "" {
		fmt.Fprintf(&b, `<tf:CreatedAt>%s</tf:CreatedAt>`, xmlEscape(v))
	}
	for i, doc := range content.Documents {
		b.WriteString(`<tf:Document>`)
		fmt.Fprintf(&b, `<tf:Filename>%s</tf:Filename>`, xmlEscape(doc.Filename))
		fmt.Fprintf(&b, `<tf:ContentType>%s</tf:ContentType>`, xmlEscape(doc.ContentType))
		fmt.Fprintf(&b, `<tf:Data><xop:Include xmlns:xop="http://www.w3.org/2004/08/xop/include" href="cid:doc-%d@bipro.net"/></tf:Data>`, i)
		b.WriteString(`</tf:Document>`)
	}
	b.WriteString(`</tf:Shipment></tf:getShipmentResponse></soapenv:Body></soapenv:Envelope>`)
	return []byte(b.String())
}
