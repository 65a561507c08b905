package stub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer("test", "testing", "stub-secret", time.Hour).Router())
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Post(srv.URL+"/ENSEK/login", "application/json",
		strings.NewReader(`{"username":"test","password":"testing"}`))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected an access token")
	}
	return body.AccessToken
}

func authorizedGet(t *testing.T, srv *httptest.Server, token, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	return resp
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/ENSEK/login", "application/json",
		strings.NewReader(`{"username":"test","password":"nope"}`))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ENSEK/orders")
	if err != nil {
		t.Fatalf("orders request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestListingCarriesOneLegacyIdentifierKey(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	resp := authorizedGet(t, srv, token, "/ENSEK/orders")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var listing []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing) != 5 {
		t.Fatalf("expected 5 seeded orders, got %d", len(listing))
	}

	legacy := 0
	for _, entry := range listing {
		_, hasLower := entry["id"]
		_, hasUpper := entry["Id"]
		if hasLower == hasUpper {
			t.Fatalf("order must carry exactly one identifier key: %v", entry)
		}
		if hasUpper {
			legacy++
		}
	}
	if legacy != 1 {
		t.Fatalf("expected exactly one legacy-keyed order, got %d", legacy)
	}
}

func TestBuyAppendsOrderAndDecrementsStock(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/ENSEK/buy/1/10", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("buy request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode buy body: %v", err)
	}
	if !strings.HasPrefix(body.Message, "You have purchased 10 m³ at a cost") {
		t.Fatalf("unexpected confirmation message: %q", body.Message)
	}

	listResp := authorizedGet(t, srv, token, "/ENSEK/orders")
	defer listResp.Body.Close()
	var listing []json.RawMessage
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing) != 6 {
		t.Fatalf("expected 6 orders after purchase, got %d", len(listing))
	}

	energyResp := authorizedGet(t, srv, token, "/ENSEK/energy")
	defer energyResp.Body.Close()
	var energy map[string]struct {
		QuantityOfUnits int64 `json:"quantity_of_units"`
	}
	if err := json.NewDecoder(energyResp.Body).Decode(&energy); err != nil {
		t.Fatalf("decode energy body: %v", err)
	}
	if got := energy["gas"].QuantityOfUnits; got != 2990 {
		t.Fatalf("expected gas stock 2990, got %d", got)
	}
}

func TestResetRestoresSeedData(t *testing.T) {
	srv := newTestServer(t)
	token := login(t, srv)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/ENSEK/buy/4/5", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp, err := http.DefaultClient.Do(req); err != nil {
		t.Fatalf("buy request: %v", err)
	} else {
		resp.Body.Close()
	}

	resetReq, _ := http.NewRequest(http.MethodPost, srv.URL+"/ENSEK/reset", nil)
	resetReq.Header.Set("Authorization", "Bearer "+token)
	resetResp, err := http.DefaultClient.Do(resetReq)
	if err != nil {
		t.Fatalf("reset request: %v", err)
	}
	defer resetResp.Body.Close()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resetResp.Body).Decode(&body); err != nil {
		t.Fatalf("decode reset body: %v", err)
	}
	if body.Message != "Success" {
		t.Fatalf("expected Success, got %q", body.Message)
	}

	listResp := authorizedGet(t, srv, token, "/ENSEK/orders")
	defer listResp.Body.Close()
	var listing []json.RawMessage
	if err := json.NewDecoder(listResp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing) != 5 {
		t.Fatalf("expected the seeded 5 orders after reset, got %d", len(listing))
	}
}
