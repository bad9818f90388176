package client_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/api/handler"
	"github.com/verihealth/medledger/internal/auth"
	"github.com/verihealth/medledger/internal/ledger"
	"github.com/verihealth/medledger/pkg/client"
)

var ctx = context.Background()

const ownerID = "owner@clinic.example"

// startServer wires a real service behind a real router and returns an
// owner-authenticated client pointed at it, plus the server's base URL.
func startServer(t *testing.T) (*client.Client, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := ledger.NewService(ledger.NewMemoryStore(), zap.NewNop())
	if err := svc.Initialize(ctx, ownerID); err != nil {
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

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, err := tokens.Issue(ownerID, "owner")
	if err != nil {
		t.Fatal(err)
	}
	return client.MustNew(srv.URL, client.WithBearerToken(token)), srv.URL
}

func TestClient_recordFlow(t *testing.T) {
	c, _ := startServer(t)
	h1 := ledger.DigestOf([]byte("visit notes")).String()
	h2 := ledger.DigestOf([]byte("visit notes, corrected")).String()

	rec, err := c.AddRecord(ctx, 42, h1, "VISIT")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Index != 0 || rec.DataHash != h1 || !rec.Active {
		t.Errorf("added record: %+v", rec)
	}

	ok, err := c.VerifyRecord(ctx, 42, 0, h1)
	if err != nil || !ok {
		t.Errorf("verify: ok=%v err=%v", ok, err)
	}

	newRec, err := c.SupersedeRecord(ctx, 42, 0, h2)
	if err != nil {
		t.Fatal(err)
	}
	if newRec.Index != 1 || newRec.RecordType != "VISIT" {
		t.Errorf("superseding record: %+v", newRec)
	}

	old, err := c.GetRecord(ctx, 42, 0)
	if err != nil {
		t.Fatal(err)
	}
	if old.Active {
		t.Error("superseded entry should be inactive")
	}

	active, err := c.ListActiveRecords(ctx, 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Index != 1 {
		t.Errorf("active records: %+v", active)
	}
}

func TestClient_auditFlow(t *testing.T) {
	c, _ := startServer(t)
	h := ledger.DigestOf([]byte("doc")).String()

	if _, err := c.AddRecord(ctx, 7, h, "REPORT"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.LogAccess(ctx, 7, "READ", ""); err != nil {
		t.Fatal(err)
	}

	ov, err := c.AuditOverview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Entries != 2 {
		t.Errorf("entries: got %d, want 2", ov.Entries)
	}
	if ov.Root == ledger.GenesisHash {
		t.Error("root should have advanced past genesis")
	}

	v, err := c.VerifyAuditChain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid || v.Error != "" {
		t.Errorf("chain verification: %+v", v)
	}

	entry, err := c.AuditEntry(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Action != "CREATE" || entry.RecordHash != h {
		t.Errorf("entry 0: %+v", entry)
	}

	trail, err := c.PatientAudit(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 2 || trail[1].Action != "READ" {
		t.Errorf("patient trail: %+v", trail)
	}
}

func TestClient_providerFlow(t *testing.T) {
	c, _ := startServer(t)
	const colleague = "dr.russo@clinic.example"

	if err := c.AuthorizeProvider(ctx, colleague); err != nil {
		t.Fatal(err)
	}
	ok, err := c.IsAuthorized(ctx, colleague)
	if err != nil || !ok {
		t.Errorf("after authorize: ok=%v err=%v", ok, err)
	}

	if err := c.RevokeProvider(ctx, colleague); err != nil {
		t.Fatal(err)
	}
	ok, err = c.IsAuthorized(ctx, colleague)
	if err != nil || ok {
		t.Errorf("after revoke: ok=%v err=%v", ok, err)
	}
}

func TestClient_status(t *testing.T) {
	c, _ := startServer(t)

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Backend != "memory" || !st.Initialized || st.Owner != ownerID {
		t.Errorf("status: %+v", st)
	}
	if st.AuditRoot != ledger.GenesisHash {
		t.Errorf("fresh ledger root: got %q", st.AuditRoot)
	}
}

func TestClient_serverErrors(t *testing.T) {
	c, baseURL := startServer(t)

	// Unknown record: the server's error body surfaces in the returned error.
	_, err := c.GetRecord(ctx, 1, 0)
	if err == nil {
		t.Fatal("expected an error for a missing record")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should carry the status code: %v", err)
	}

	// An unauthenticated client is turned away from gated routes.
	anon := client.MustNew(baseURL)
	if _, err := anon.ListActiveRecords(ctx, 1); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("anonymous list: got %v, want a 401 error", err)
	}

	// Public routes still work without credentials.
	if _, err := anon.AuditOverview(ctx); err != nil {
		t.Errorf("anonymous audit overview: %v", err)
	}
}
