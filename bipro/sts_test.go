package bipro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/config"
)

func stsResponse(identifier, created, expires string) string {
	var lifetime string
	if created != "" || expires != "" {
		lifetime = fmt.Sprintf(`
      <wst:Lifetime>
        <wsu:Created xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</wsu:Created>
        <wsu:Expires xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">%s</wsu:Expires>
      </wst:Lifetime>`, created, expires)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <wst:RequestSecurityTokenResponse xmlns:wst="http://docs.oasis-open.org/ws-sx/ws-trust/200512">
      <wst:RequestedSecurityToken>
        <wsc:SecurityContextToken xmlns:wsc="http://schemas.xmlsoap.org/ws/2005/02/sc">
          <wsc:Identifier>%s</wsc:Identifier>
        </wsc:SecurityContextToken>
      </wst:RequestedSecurityToken>%s
    </wst:RequestSecurityTokenResponse>
  </soapenv:Body>
</soapenv:Envelope>`, identifier, lifetime)
}

func testCarrier(stsURL string) *config.CarrierConfig {
	return &config.CarrierConfig{
		Name:              "demo-vu",
		Endpoint:          "https://transfer.demo.test/430",
		STSEndpoint:       stsURL,
		Username:          "broker-001",
		Password:          "secret",
		TokenExpiryPolicy: config.TokenExpiryAssumeDefault,
	}
}

func TestAuthenticate(t *testing.T) {
	expires := time.Now().Add(10 * time.Minute).UTC().Format(time.RFC3339)
	created := time.Now().UTC().Format(time.RFC3339)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "<wsse:Username>broker-001</wsse:Username>") {
			t.Error("Expected UsernameToken in request")
		}
		if !strings.Contains(string(body), "RequestSecurityToken") {
			t.Error("Expected RequestSecurityToken element")
		}
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, stsResponse("sct-12345", created, expires))
	}))
	defer server.Close()

	client, err := NewSecurityTokenClient(testCarrier(server.URL), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSecurityTokenClient failed: %v", err)
	}

	token, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if token.Value != "sct-12345" {
		t.Errorf("Expected token sct-12345, got %s", token.Value)
	}
	if token.ExpiresAt.IsZero() {
		t.Error("Expected carrier-declared expiry to be set")
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewSecurityTokenClient(testCarrier(server.URL), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSecurityTokenClient failed: %v", err)
	}

	_, err = client.Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %T", err)
	}
	if authErr.Reason != ReasonInvalidCredentials {
		t.Errorf("Expected reason invalid_credentials, got %s", authErr.Reason)
	}
}

func TestAuthenticateMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, "<Envelope><Body>no token here</Body></Envelope>")
	}))
	defer server.Close()

	client, err := NewSecurityTokenClient(testCarrier(server.URL), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSecurityTokenClient failed: %v", err)
	}

	_, err = client.Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %T", err)
	}
	if authErr.Reason != ReasonMalformedSTSResponse {
		t.Errorf("Expected reason malformed_response, got %s", authErr.Reason)
	}
}

func TestAuthenticateUnreachableEndpoint(t *testing.T) {
	carrier := testCarrier("http://127.0.0.1:1/sts")
	client, err := NewSecurityTokenClient(carrier, time.Second)
	if err != nil {
		t.Fatalf("NewSecurityTokenClient failed: %v", err)
	}

	_, err = client.Authenticate(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Expected AuthError, got %T", err)
	}
	if authErr.Reason != ReasonEndpointUnreachable {
		t.Errorf("Expected reason endpoint_unreachable, got %s", authErr.Reason)
	}
}

func TestAuthenticateDefaultValidity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, stsResponse("sct-no-expiry", "", ""))
	}))
	defer server.Close()

	client, err := NewSecurityTokenClient(testCarrier(server.URL), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSecurityTokenClient failed: %v", err)
	}

	before := time.Now()
	token, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	// Undeclared validity defaults to 10 minutes under assume_default.
	want := before.Add(10 * time.Minute)
	if token.ExpiresAt.Before(want.Add(-time.Minute)) || token.ExpiresAt.After(want.Add(time.Minute)) {
		t.Errorf("Expected expiry near %v, got %v", want, token.ExpiresAt)
	}
}

func TestAuthenticateIndefinitePolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		fmt.Fprint(w, stsResponse("sct-indefinite", "", ""))
	}))
	defer server.Close()

	carrier := testCarrier(server.URL)
	carrier.TokenExpiryPolicy = config.TokenExpiryIndefinite

	client, err := NewSecurityTokenClient(carrier, 5*time.Second)
	if err != nil {
		t.Fatalf("NewSecurityTokenClient failed: %v", err)
	}

	token, err := client.Authenticate(context.Background())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !token.ExpiresAt.IsZero() {
		t.Errorf("Expected zero expiry under indefinite policy, got %v", token.ExpiresAt)
	}
	if !IsValid(token, time.Now().Add(24*time.Hour)) {
		t.Error("Expected indefinite token to stay valid")
	}
}
