package handler_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/verihealth/medledger/internal/ledger"
)

func TestAuthorizeProviderEndpoint(t *testing.T) {
	api := newTestAPI(t)
	newcomer := "dr.russo@clinic.example"

	w := api.do(t, http.MethodPost, "/api/v1/providers", ownerID, gin.H{"identity": newcomer})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["authorized"] != true || resp["identity"] != newcomer {
		t.Errorf("response: %v", resp)
	}

	// Double grant is a conflict.
	w = api.do(t, http.MethodPost, "/api/v1/providers", ownerID, gin.H{"identity": newcomer})
	if w.Code != http.StatusConflict {
		t.Errorf("re-authorize: status %d, want 409", w.Code)
	}

	// Only the owner may grant.
	w = api.do(t, http.MethodPost, "/api/v1/providers", providerID, gin.H{"identity": "x@y.example"})
	if w.Code != http.StatusForbidden {
		t.Errorf("provider grant: status %d, want 403", w.Code)
	}

	// Missing identity field fails binding.
	w = api.do(t, http.MethodPost, "/api/v1/providers", ownerID, gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body: status %d, want 400", w.Code)
	}
}

func TestRevokeProviderEndpoint(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodDelete, "/api/v1/providers/"+providerID.String(), ownerID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["authorized"] != false {
		t.Errorf("response: %v", resp)
	}

	// Second revoke: no longer listed.
	w = api.do(t, http.MethodDelete, "/api/v1/providers/"+providerID.String(), ownerID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("re-revoke: status %d, want 409", w.Code)
	}

	// The owner cannot revoke itself.
	w = api.do(t, http.MethodDelete, "/api/v1/providers/"+ownerID.String(), ownerID, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("self-revoke: status %d, want 409", w.Code)
	}
}

func TestCheckProviderEndpoint_public(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/api/v1/providers/"+providerID.String(), ledger.NoIdentity, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if resp := decode(t, w); resp["authorized"] != true {
		t.Errorf("known provider: %v", resp)
	}

	w = api.do(t, http.MethodGet, "/api/v1/providers/nobody@nowhere.example", ledger.NoIdentity, nil)
	if resp := decode(t, w); resp["authorized"] != false {
		t.Errorf("unknown identity: %v", resp)
	}
}

func TestTransferOwnershipEndpoint(t *testing.T) {
	api := newTestAPI(t)
	successor := "successor@clinic.example"

	// Non-owners cannot transfer.
	w := api.do(t, http.MethodPost, "/api/v1/owner/transfer", providerID, gin.H{"identity": successor})
	if w.Code != http.StatusForbidden {
		t.Fatalf("provider transfer: status %d, want 403", w.Code)
	}

	w = api.do(t, http.MethodPost, "/api/v1/owner/transfer", ownerID, gin.H{"identity": successor})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", w.Code, w.Body.String())
	}
	if resp := decode(t, w); resp["owner"] != successor {
		t.Errorf("response: %v", resp)
	}

	// The old owner is out; the successor is in.
	w = api.do(t, http.MethodGet, "/api/v1/providers/"+ownerID.String(), ledger.NoIdentity, nil)
	if resp := decode(t, w); resp["authorized"] != false {
		t.Errorf("old owner still authorized: %v", resp)
	}
	w = api.do(t, http.MethodPost, "/api/v1/providers", ledger.Identity(successor), gin.H{"identity": "new@clinic.example"})
	if w.Code != http.StatusCreated {
		t.Errorf("successor grant: status %d, want 201", w.Code)
	}
}
