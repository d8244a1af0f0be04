package bipro

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/config"
)

// defaultTokenValidity applies when a carrier's STS response declares no
// expiry and the carrier is configured with the assume_default policy.
const defaultTokenValidity = 10 * time.Minute

// SecurityToken is a short-lived BiPRO 410 security context token. It is
// owned by exactly one TokenManager and never shared across carrier
// connections. A zero ExpiresAt means the token never expires locally.
type SecurityToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SecurityTokenClient performs the BiPRO 410 STS handshake for one carrier.
// It does not retry; retry policy belongs to the caller.
type SecurityTokenClient struct {
	carrier    *config.CarrierConfig
	httpClient *http.Client
	now        func() time.Time
}

// NewSecurityTokenClient builds an STS client for the given carrier. For
// certificate-based carriers the client certificate is loaded into the TLS
// transport.
func NewSecurityTokenClient(carrier *config.CarrierConfig, timeout time.Duration) (*SecurityTokenClient, error) {
	httpClient := &http.Client{Timeout: timeout}

	if carrier.UsesCertificate() {
		cert, err := tls.LoadX509KeyPair(carrier.CertFile, carrier.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		}
	}

	return &SecurityTokenClient{
		carrier:    carrier,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Authenticate exchanges the carrier credentials for a security token.
func (c *SecurityTokenClient) Authenticate(ctx context.Context) (*SecurityToken, error) {
	envelope := c.buildRequestEnvelope()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.carrier.STSEndpoint, strings.NewReader(envelope))
	if err != nil {
		return nil, &AuthError{Reason: ReasonEndpointUnreachable, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "urn:RequestSecurityToken")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Reason: ReasonEndpointUnreachable, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AuthError{Reason: ReasonEndpointUnreachable, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Reason: ReasonInvalidCredentials, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &AuthError{Reason: ReasonEndpointUnreachable, Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 200))}
	}

	token, err := c.parseTokenResponse(body)
	if err != nil {
		return nil, &AuthError{Reason: ReasonMalformedSTSResponse, Err: err}
	}
	return token, nil
}

// buildRequestEnvelope renders the WS-Trust RequestSecurityToken envelope.
// Certificate-based carriers authenticate at the TLS layer, so their envelope
// carries no UsernameToken.
func (c *SecurityTokenClient) buildRequestEnvelope() string {
	var security string
	if !c.carrier.UsesCertificate() {
		security = fmt.Sprintf(`
    <wsse:Security xmlns:wsse="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd">
      <wsse:UsernameToken>
        <wsse:Username>%s</wsse:Username>
        <wsse:Password Type="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText">%s</wsse:Password>
      </wsse:UsernameToken>
    </wsse:Security>`, xmlEscape(c.carrier.Username), xmlEscape(c.carrier.Password))
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
                  xmlns:wst="http://docs.oasis-open.org/ws-sx/ws-trust/200512">
  <soapenv:Header>%s
  </soapenv:Header>
  <soapenv:Body>
    <wst:RequestSecurityToken>
      <wst:TokenType>http://schemas.xmlsoap.org/ws/2005/02/sc/sct</wst:TokenType>
      <wst:RequestType>http://docs.oasis-open.org/ws-sx/ws-trust/200512/Issue</wst:RequestType>
    </wst:RequestSecurityToken>
  </soapenv:Body>
</soapenv:Envelope>`, security)
}

// parseTokenResponse extracts the SecurityContextToken identifier and its
// lifetime. Element matching is namespace-agnostic because carriers disagree
// on prefixes and even namespace versions.
func (c *SecurityTokenClient) parseTokenResponse(body []byte) (*SecurityToken, error) {
	var (
		identifier string
		created    string
		expires    string
	)

	decoder := xml.NewDecoder(bytes.NewReader(body))
	var path []string
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XML: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			path = append(path, el.Name.Local)
		case xml.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		case xml.CharData:
			if len(path) == 0 {
				continue
			}
			switch path[len(path)-1] {
			case "Identifier":
				if len(path) > 1 && path[len(path)-2] == "SecurityContextToken" {
					identifier = strings.TrimSpace(string(el))
				}
			case "Created":
				created = strings.TrimSpace(string(el))
			case "Expires":
				expires = strings.TrimSpace(string(el))
			}
		}
	}

	if identifier == "" {
		return nil, fmt.Errorf("response contains no SecurityContextToken identifier")
	}

	token := &SecurityToken{Value: identifier, IssuedAt: c.now()}
	if created != "" {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			token.IssuedAt = t
		}
	}
	if expires != "" {
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return nil, fmt.Errorf("invalid token expiry %q: %w", expires, err)
		}
		token.ExpiresAt = t
	} else if c.carrier.TokenExpiryPolicy != config.TokenExpiryIndefinite {
		token.ExpiresAt = token.IssuedAt.Add(defaultTokenValidity)
	}

	return token, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
