package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/api/handler"
	"github.com/verihealth/medledger/internal/auth"
	"github.com/verihealth/medledger/internal/ledger"
)

var ctx = context.Background()

const (
	ownerID    = ledger.Identity("owner@clinic.example")
	providerID = ledger.Identity("dr.chen@clinic.example")
)

// testAPI is a fully wired router plus the service behind it and a token
// issuer for minting request credentials.
type testAPI struct {
	router *gin.Engine
	svc    *ledger.Service
	tokens *auth.TokenIssuer
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := ledger.NewService(ledger.NewMemoryStore(), zap.NewNop())
	if err := svc.Initialize(ctx, ownerID); err != nil {
		t.Fatal(err)
	}
	if err := svc.AuthorizeProvider(ctx, ownerID, providerID); err != nil {
		t.Fatal(err)
	}

	tokens, err := auth.NewTokenIssuer([]byte("test-secret"), "http://ledger.test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	authn := handler.NewAuthenticator(tokens, nil, zap.NewNop())

	router := gin.New()
	v1 := router.Group("/api/v1")
	require := authn.Require()
	handler.NewRecordHandler(svc, zap.NewNop()).Register(v1, require)
	handler.NewAuditHandler(svc, zap.NewNop()).Register(v1, require)
	handler.NewProviderHandler(svc, zap.NewNop()).Register(v1, require)
	handler.NewStatusHandler(svc, "memory", zap.NewNop()).Register(v1)

	return &testAPI{router: router, svc: svc, tokens: tokens}
}

// do issues a request as the given identity; empty identity sends no
// credentials.
func (a *testAPI) do(t *testing.T, method, path string, as ledger.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != ledger.NoIdentity {
		token, err := a.tokens.Issue(as, "provider")
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func hexHash(s string) string {
	return ledger.DigestOf([]byte(s)).String()
}

func TestAddRecordEndpoint(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/patients/42/records", providerID, gin.H{
		"data_hash":   hexHash("visit notes"),
		"record_type": "VISIT",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["index"] != float64(0) {
		t.Errorf("index: got %v, want 0", resp["index"])
	}
	if resp["record_type"] != "VISIT" {
		t.Errorf("record_type: got %v", resp["record_type"])
	}
	if resp["created_by"] != providerID.String() {
		t.Errorf("created_by: got %v", resp["created_by"])
	}
	if resp["active"] != true {
		t.Error("new record should be active")
	}
}

func TestAddRecordEndpoint_failures(t *testing.T) {
	api := newTestAPI(t)
	body := gin.H{"data_hash": hexHash("x"), "record_type": "VISIT"}

	cases := []struct {
		name string
		path string
		as   ledger.Identity
		body any
		want int
	}{
		{"no credentials", "/api/v1/patients/1/records", ledger.NoIdentity, body, http.StatusUnauthorized},
		{"unknown identity", "/api/v1/patients/1/records", "mallory@attacker.example", body, http.StatusForbidden},
		{"bad patient id", "/api/v1/patients/zero/records", providerID, body, http.StatusBadRequest},
		{"negative patient id", "/api/v1/patients/-3/records", providerID, body, http.StatusBadRequest},
		{"missing hash", "/api/v1/patients/1/records", providerID, gin.H{"record_type": "VISIT"}, http.StatusBadRequest},
		{"malformed hash", "/api/v1/patients/1/records", providerID, gin.H{"data_hash": "xyz", "record_type": "VISIT"}, http.StatusBadRequest},
		{"missing type", "/api/v1/patients/1/records", providerID, gin.H{"data_hash": hexHash("x")}, http.StatusBadRequest},
		{"no body", "/api/v1/patients/1/records", providerID, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, tc.path, tc.as, tc.body)
			if w.Code != tc.want {
				t.Errorf("status %d, want %d; body %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestSupersedeEndpoint(t *testing.T) {
	api := newTestAPI(t)
	_, err := api.svc.AddRecord(ctx, ownerID, 7, ledger.DigestOf([]byte("v1")), ledger.TypeReport)
	if err != nil {
		t.Fatal(err)
	}

	w := api.do(t, http.MethodPost, "/api/v1/patients/7/records/0/supersede", providerID, gin.H{
		"data_hash": hexHash("v2"),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["index"] != float64(1) {
		t.Errorf("index: got %v, want 1", resp["index"])
	}
	if resp["record_type"] != "REPORT" {
		t.Errorf("record_type should carry over, got %v", resp["record_type"])
	}

	// The same index cannot be superseded twice.
	w = api.do(t, http.MethodPost, "/api/v1/patients/7/records/0/supersede", providerID, gin.H{
		"data_hash": hexHash("v3"),
	})
	if w.Code != http.StatusConflict {
		t.Errorf("re-supersede: status %d, want 409", w.Code)
	}

	// Unknown index is 404.
	w = api.do(t, http.MethodPost, "/api/v1/patients/7/records/9/supersede", providerID, gin.H{
		"data_hash": hexHash("v3"),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing index: status %d, want 404", w.Code)
	}
}

func TestVerifyEndpoint_public(t *testing.T) {
	api := newTestAPI(t)
	h := ledger.DigestOf([]byte("document"))
	_, err := api.svc.AddRecord(ctx, ownerID, 3, h, ledger.TypeBill)
	if err != nil {
		t.Fatal(err)
	}

	// No credentials at all.
	w := api.do(t, http.MethodPost, "/api/v1/patients/3/records/0/verify", ledger.NoIdentity, gin.H{
		"data_hash": h.String(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["valid"] != true {
		t.Errorf("valid: got %v, want true", resp["valid"])
	}

	w = api.do(t, http.MethodPost, "/api/v1/patients/3/records/0/verify", ledger.NoIdentity, gin.H{
		"data_hash": hexHash("tampered"),
	})
	if resp := decode(t, w); resp["valid"] != false {
		t.Errorf("tampered hash: valid=%v, want false", resp["valid"])
	}

	w = api.do(t, http.MethodPost, "/api/v1/patients/3/records/5/verify", ledger.NoIdentity, gin.H{
		"data_hash": h.String(),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing record: status %d, want 404", w.Code)
	}
}

func TestGetAndListEndpoints(t *testing.T) {
	api := newTestAPI(t)
	_, _ = api.svc.AddRecord(ctx, ownerID, 5, ledger.DigestOf([]byte("a")), ledger.TypeVisit)
	_, _ = api.svc.AddRecord(ctx, ownerID, 5, ledger.DigestOf([]byte("b")), ledger.TypeBill)
	_, _ = api.svc.UpdateRecord(ctx, ownerID, 5, 0, ledger.DigestOf([]byte("a2")))

	w := api.do(t, http.MethodGet, "/api/v1/patients/5/records", providerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	records, ok := resp["records"].([]any)
	if !ok || len(records) != 2 {
		t.Fatalf("records: got %v, want 2 active entries", resp["records"])
	}

	// Superseded entries stay retrievable by index.
	w = api.do(t, http.MethodGet, "/api/v1/patients/5/records/0", providerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if got := decode(t, w); got["active"] != false {
		t.Errorf("superseded entry active=%v, want false", got["active"])
	}

	// Reads are gated.
	w = api.do(t, http.MethodGet, "/api/v1/patients/5/records", ledger.NoIdentity, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: status %d, want 401", w.Code)
	}

	// Empty patient yields an empty list, not null.
	w = api.do(t, http.MethodGet, "/api/v1/patients/999/records", providerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var listResp struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatal(err)
	}
	if listResp.Records == nil {
		t.Error("records must decode as an empty array")
	}
}

func TestRejectedTokens(t *testing.T) {
	api := newTestAPI(t)

	other, err := auth.NewTokenIssuer([]byte("other-secret"), "http://ledger.test", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, err := other.Issue(ownerID, "owner")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/1/records", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("forged token: status %d, want 401", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	api := newTestAPI(t)
	_, _ = api.svc.AddRecord(ctx, ownerID, 1, ledger.DigestOf([]byte("a")), ledger.TypeVisit)

	w := api.do(t, http.MethodGet, "/api/v1/status", ledger.NoIdentity, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	resp := decode(t, w)
	if resp["backend"] != "memory" {
		t.Errorf("backend: got %v", resp["backend"])
	}
	if resp["initialized"] != true {
		t.Errorf("initialized: got %v", resp["initialized"])
	}
	if resp["owner"] != ownerID.String() {
		t.Errorf("owner: got %v", resp["owner"])
	}
	if resp["audit_entries"] != float64(1) {
		t.Errorf("audit_entries: got %v", resp["audit_entries"])
	}
	if fmt.Sprint(resp["audit_root"]) == ledger.GenesisHash {
		t.Error("audit_root should have moved off genesis")
	}
}
