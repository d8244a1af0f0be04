package bipro

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/config"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/model"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/pkg/logger"
)

// TransferClient performs BiPRO 430 operations against one carrier. All
// carrier variance (endpoint, consumer ID, acknowledgement support) comes
// from the CarrierConfig resolved at connection creation; there is no
// per-carrier branching in the call paths.
type TransferClient struct {
	carrier    *config.CarrierConfig
	tokens     *TokenManager
	limiter    *AdaptiveRateLimiter
	httpClient *http.Client

	maxAttempts int
	baseDelay   time.Duration
}

// NewTransferClient builds a transfer client. limiter may be nil; when set
// it receives every 429/503 signal observed by this client.
func NewTransferClient(carrier *config.CarrierConfig, tokens *TokenManager, limiter *AdaptiveRateLimiter, transferCfg *config.TransferConfig) (*TransferClient, error) {
	httpClient := &http.Client{Timeout: time.Duration(transferCfg.TimeoutSeconds) * time.Second}

	if carrier.UsesCertificate() {
		cert, err := tls.LoadX509KeyPair(carrier.CertFile, carrier.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		}
	}

	return &TransferClient{
		carrier:     carrier,
		tokens:      tokens,
		limiter:     limiter,
		httpClient:  httpClient,
		maxAttempts: transferCfg.RetryMaxAttempts,
		baseDelay:   time.Duration(transferCfg.RetryBaseDelayMillis) * time.Millisecond,
	}, nil
}

type listEnvelope struct {
	Body struct {
		Response struct {
			Shipments []listShipmentXML `xml:"Shipment"`
		} `xml:"listShipmentsResponse"`
	} `xml:"Body"`
}

type listShipmentXML struct {
	ID             string `xml:"ID"`
	CreatedAt      string `xml:"CreatedAt"`
	Category       string `xml:"Category"`
	AvailableUntil string `xml:"AvailableUntil"`
	TransferCount  int    `xml:"TransferCount"`
}

type ackEnvelope struct {
	Body struct {
		Response struct {
			Success bool `xml:"Success"`
		} `xml:"acknowledgeShipmentResponse"`
	} `xml:"Body"`
}

// ListShipments returns the shipments currently available from the carrier,
// in the order the carrier returns them. When the configured category filter
// is rejected server-side the listing falls back to an unfiltered call; a
// rejected filter is a schema mismatch, not a failure.
func (c *TransferClient) ListShipments(ctx context.Context) ([]model.ShipmentInfo, error) {
	shipments, err := c.listShipments(ctx, c.carrier.Categories)
	if err != nil && len(c.carrier.Categories) > 0 && isFilterRejection(err) {
		logger.Warn(ctx, "carrier rejected category filter, retrying unfiltered",
			"carrier", c.carrier.Name,
			"categories", strings.Join(c.carrier.Categories, ","),
			"error", err,
		)
		shipments, err = c.listShipments(ctx, nil)
	}
	return shipments, err
}

func (c *TransferClient) listShipments(ctx context.Context, categories []string) ([]model.ShipmentInfo, error) {
	var body strings.Builder
	body.WriteString(`<tf:listShipments xmlns:tf="http://www.bipro.net/namespace/transfer">`)
	for _, cat := range categories {
		fmt.Fprintf(&body, `<tf:Category>%s</tf:Category>`, xmlEscape(cat))
	}
	body.WriteString(`</tf:listShipments>`)

	res, err := c.call(ctx, "listShipments", body.String())
	if err != nil {
		return nil, err
	}

	var envelope listEnvelope
	if err := xml.Unmarshal(res.body, &envelope); err != nil {
		return nil, &MalformedResponseError{Reason: "unparsable listShipments response", Err: err}
	}

	shipments := make([]model.ShipmentInfo, 0, len(envelope.Body.Response.Shipments))
	for _, s := range envelope.Body.Response.Shipments {
		info := model.ShipmentInfo{
			ID:            s.ID,
			Category:      s.Category,
			TransferCount: s.TransferCount,
		}
		if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
			info.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339, s.AvailableUntil); err == nil {
			info.AvailableUntil = t
		}
		shipments = append(shipments, info)
	}
	return shipments, nil
}

// GetShipment retrieves and decodes one shipment. A shipment with zero
// documents is a valid status notification, not an error.
func (c *TransferClient) GetShipment(ctx context.Context, shipmentID string) (*model.ShipmentContent, error) {
	body := fmt.Sprintf(
		`<tf:getShipment xmlns:tf="http://www.bipro.net/namespace/transfer"><tf:ID>%s</tf:ID></tf:getShipment>`,
		xmlEscape(shipmentID),
	)

	res, err := c.call(ctx, "getShipment", body)
	if err != nil {
		var te *TransferError
		if errors.As(err, &te) && te.Status == http.StatusNotFound {
			return nil, &ShipmentNotFoundError{ShipmentID: shipmentID}
		}
		return nil, err
	}

	content, err := DecodeMTOM(res.contentType, res.body)
	if err != nil {
		return nil, err
	}
	if content.ShipmentID == "" {
		content.ShipmentID = shipmentID
	}
	return content, nil
}

// AcknowledgeShipment confirms receipt of a shipment. Carriers that do not
// implement the operation report false without an error.
func (c *TransferClient) AcknowledgeShipment(ctx context.Context, shipmentID string) (bool, error) {
	if !c.carrier.SupportsAck {
		return false, nil
	}

	body := fmt.Sprintf(
		`<tf:acknowledgeShipment xmlns:tf="http://www.bipro.net/namespace/transfer"><tf:ID>%s</tf:ID></tf:acknowledgeShipment>`,
		xmlEscape(shipmentID),
	)

	res, err := c.call(ctx, "acknowledgeShipment", body)
	if err != nil {
		return false, err
	}

	var envelope ackEnvelope
	if err := xml.Unmarshal(res.body, &envelope); err != nil {
		return false, &MalformedResponseError{Reason: "unparsable acknowledgeShipment response", Err: err}
	}
	return envelope.Body.Response.Success, nil
}

type httpResult struct {
	status      int
	contentType string
	body        []byte
}

// call runs one BiPRO 430 operation with the configured retry policy:
// transient failures (429/503, timeouts, connection errors) back off
// exponentially for a bounded number of attempts, a 401 forces exactly one
// token refresh, everything else fails the call.
func (c *TransferClient) call(ctx context.Context, op, bodyXML string) (*httpResult, error) {
	var result *httpResult

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2

	attempts := c.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	operation := func() error {
		res, err := c.attempt(ctx, op, bodyXML)
		if err == nil {
			result = res
			return nil
		}
		if IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt performs one HTTP exchange, including the single forced token
// refresh when the carrier answers 401.
func (c *TransferClient) attempt(ctx context.Context, op, bodyXML string) (*httpResult, error) {
	refreshed := false
	for {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}

		res, err := c.post(ctx, op, token, bodyXML)
		if err != nil {
			return nil, &TransferError{Op: op, Msg: "request failed", Err: err}
		}

		switch {
		case res.status == http.StatusOK:
			return res, nil
		case res.status == http.StatusUnauthorized && !refreshed:
			// Token went stale mid-session: force one refresh, retry once.
			refreshed = true
			c.tokens.Invalidate()
			logger.Debug(ctx, "carrier rejected token, forcing refresh", "carrier", c.carrier.Name, "op", op)
			continue
		case res.status == http.StatusTooManyRequests || res.status == http.StatusServiceUnavailable:
			if c.limiter != nil {
				c.limiter.Throttle()
			}
			return nil, &TransferError{Op: op, Status: res.status, Msg: "carrier throttled the request"}
		default:
			return nil, &TransferError{Op: op, Status: res.status, Msg: faultMessage(res.body)}
		}
	}
}

func (c *TransferClient) post(ctx context.Context, op string, token *SecurityToken, bodyXML string) (*httpResult, error) {
	envelope := c.buildEnvelope(token.Value, bodyXML)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.carrier.Endpoint, strings.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "urn:"+op)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &httpResult{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

// buildEnvelope wraps the operation body in a SOAP envelope carrying the
// security context token and, when the carrier requires one, the consumer ID.
func (c *TransferClient) buildEnvelope(tokenValue, bodyXML string) string {
	var header strings.Builder
	header.WriteString(`<wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">`)
	header.WriteString(`<wsc:SecurityContextToken xmlns:wsc="http://schemas.xmlsoap.org/ws/2005/02/sc">`)
	fmt.Fprintf(&header, `<wsc:Identifier>%s</wsc:Identifier>`, xmlEscape(tokenValue))
	header.WriteString(`</wsc:SecurityContextToken></wsse:Security>`)
	if c.carrier.ConsumerID != "" {
		fmt.Fprintf(&header,
			`<bipro:ConsumerID xmlns:bipro="http://www.bipro.net/namespace">%s</bipro:ConsumerID>`,
			xmlEscape(c.carrier.ConsumerID))
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Header>%s</soapenv:Header>
  <soapenv:Body>%s</soapenv:Body>
</soapenv:Envelope>`, header.String(), bodyXML)
}

// isFilterRejection reports whether err looks like the carrier rejecting the
// category filter element (schema mismatch). Carriers answer these with a
// SOAP fault, typically HTTP 400 or 500.
func isFilterRejection(err error) bool {
	var te *TransferError
	if !errors.As(err, &te) {
		return false
	}
	return te.Status == http.StatusBadRequest || te.Status == http.StatusInternalServerError
}

type soapFault struct {
	Body struct {
		Fault struct {
			FaultString string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

// faultMessage extracts the faultstring from a SOAP fault body, falling back
// to a truncated raw body.
func faultMessage(body []byte) string {
	var fault soapFault
	if err := xml.Unmarshal(body, &fault); err == nil && fault.Body.Fault.FaultString != "" {
		return fault.Body.Fault.FaultString
	}
	return truncate(bytes.TrimSpace(body), 200)
}
