package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/ledger"
)

type received struct {
	payload   Payload
	signature string
	body      []byte
}

// collector is a test webhook receiver.
type collector struct {
	mu   sync.Mutex
	got  []received
	done chan struct{}
}

func newCollector() *collector {
	return &collector{done: make(chan struct{}, 16)}
}

func (c *collector) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.got = append(c.got, received{
		payload:   p,
		signature: r.Header.Get("X-MedLedger-Signature"),
		body:      body,
	})
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
	c.done <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []received {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]received, len(c.got))
	copy(out, c.got)
	return out
}

func TestDispatcher_deliversSignedPayload(t *testing.T) {
	coll := newCollector()
	srv := httptest.NewServer(http.HandlerFunc(coll.handler))
	defer srv.Close()

	d := NewDispatcher([]Endpoint{{URL: srv.URL, Secret: "whsec_test"}}, zap.NewNop())
	d.OnRecordAdded(ledger.RecordEvent{
		Entry: ledger.RecordEntry{
			PatientID:  42,
			Index:      3,
			DataHash:   ledger.DigestOf([]byte("doc")),
			RecordType: ledger.TypeVisit,
		},
		Actor: "dr.chen@clinic.example",
	})

	got := coll.wait(t, 1)[0]
	if got.payload.Type != EventRecordAdded {
		t.Errorf("type: got %q", got.payload.Type)
	}
	if got.payload.Data["patient_id"] != "42" || got.payload.Data["index"] != "3" {
		t.Errorf("data: %v", got.payload.Data)
	}
	if got.payload.Data["actor"] != "dr.chen@clinic.example" {
		t.Errorf("actor: %v", got.payload.Data["actor"])
	}

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write(got.body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got.signature != want {
		t.Errorf("signature: got %q, want %q", got.signature, want)
	}
}

func TestDispatcher_eventFilter(t *testing.T) {
	coll := newCollector()
	srv := httptest.NewServer(http.HandlerFunc(coll.handler))
	defer srv.Close()

	d := NewDispatcher([]Endpoint{{
		URL:    srv.URL,
		Secret: "whsec_test",
		Events: []string{EventProviderRevoked},
	}}, zap.NewNop())

	// Filtered out: should never arrive.
	d.OnRecordAdded(ledger.RecordEvent{Entry: ledger.RecordEntry{PatientID: 1}})
	d.OnProviderRevoked(ledger.ProviderEvent{Provider: "a@b.example", Actor: "o@b.example"})

	got := coll.wait(t, 1)
	if len(got) != 1 || got[0].payload.Type != EventProviderRevoked {
		t.Fatalf("deliveries: %+v", got)
	}
	if got[0].payload.Data["provider"] != "a@b.example" {
		t.Errorf("data: %v", got[0].payload.Data)
	}
}

func TestDispatcher_retriesFailedDelivery(t *testing.T) {
	coll := newCollector()
	var mu sync.Mutex
	var hits []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, time.Now())
		n := len(hits)
		mu.Unlock()
		if n == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		coll.handler(w, r)
	}))
	defer srv.Close()

	d := NewDispatcher([]Endpoint{{URL: srv.URL, Secret: "whsec_test"}}, zap.NewNop())
	d.OnRecordAdded(ledger.RecordEvent{Entry: ledger.RecordEntry{PatientID: 7}})

	coll.wait(t, 1)
	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 2 {
		t.Fatalf("attempts: got %d, want 2", len(hits))
	}
	// The first retry follows the 1s backoff step, not a later one.
	if gap := hits[1].Sub(hits[0]); gap < time.Second || gap > 4*time.Second {
		t.Errorf("first retry waited %v, want about 1s", gap)
	}
}

func TestEndpoint_wants(t *testing.T) {
	all := Endpoint{}
	if !all.wants(EventRecordAdded) || !all.wants(EventAccessLogged) {
		t.Error("empty filter must accept every event")
	}

	only := Endpoint{Events: []string{EventRecordAdded, EventRecordUpdated}}
	if !only.wants(EventRecordUpdated) {
		t.Error("listed event rejected")
	}
	if only.wants(EventProviderRevoked) {
		t.Error("unlisted event accepted")
	}
}

func TestDispatcher_metricsRecorder(t *testing.T) {
	coll := newCollector()
	srv := httptest.NewServer(http.HandlerFunc(coll.handler))
	defer srv.Close()

	d := NewDispatcher([]Endpoint{{URL: srv.URL, Secret: "s"}}, zap.NewNop())
	outcomes := make(chan bool, 1)
	d.SetMetricsRecorder(func(success bool) { outcomes <- success })

	d.OnAccessLogged(ledger.AccessEvent{Entry: ledger.AuditEntry{Index: 5, PatientID: 2, Action: ledger.ActionRead}})

	select {
	case ok := <-outcomes:
		if !ok {
			t.Error("delivery to live server should record success")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("metrics recorder never called")
	}
	coll.wait(t, 1)
}
