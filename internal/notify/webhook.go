// Package notify delivers ledger events to external HTTP endpoints as
// HMAC-signed JSON webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/verihealth/medledger/internal/ledger"
)

// Event types carried in webhook payloads.
const (
	EventRecordAdded        = "record.added"
	EventRecordUpdated      = "record.updated"
	EventRecordDeactivated  = "record.deactivated"
	EventProviderAuthorized = "provider.authorized"
	EventProviderRevoked    = "provider.revoked"
	EventAccessLogged       = "audit.access_logged"
)

// Endpoint is a configured webhook destination. Events filters delivery;
// an empty list means all events.
type Endpoint struct {
	URL    string   `mapstructure:"url" yaml:"url"`
	Secret string   `mapstructure:"secret" yaml:"secret"`
	Events []string `mapstructure:"events" yaml:"events"`
}

// Payload is the JSON body delivered to endpoints.
type Payload struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      map[string]string `json:"data"`
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Dispatcher implements ledger.Observer by fanning ledger events out to the
// configured endpoints. Deliveries run on their own goroutines so observer
// callbacks never block the write path.
type Dispatcher struct {
	endpoints  []Endpoint
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewDispatcher creates a Dispatcher for a static endpoint list.
func NewDispatcher(endpoints []Endpoint, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

func (d *Dispatcher) OnRecordAdded(e ledger.RecordEvent) {
	d.dispatch(EventRecordAdded, recordData(e))
}

func (d *Dispatcher) OnRecordUpdated(e ledger.RecordEvent) {
	d.dispatch(EventRecordUpdated, recordData(e))
}

func (d *Dispatcher) OnRecordDeactivated(e ledger.RecordEvent) {
	d.dispatch(EventRecordDeactivated, recordData(e))
}

func (d *Dispatcher) OnProviderAuthorized(e ledger.ProviderEvent) {
	d.dispatch(EventProviderAuthorized, map[string]string{
		"provider": e.Provider.String(),
		"actor":    e.Actor.String(),
	})
}

func (d *Dispatcher) OnProviderRevoked(e ledger.ProviderEvent) {
	d.dispatch(EventProviderRevoked, map[string]string{
		"provider": e.Provider.String(),
		"actor":    e.Actor.String(),
	})
}

func (d *Dispatcher) OnAccessLogged(e ledger.AccessEvent) {
	d.dispatch(EventAccessLogged, map[string]string{
		"audit_index": fmt.Sprintf("%d", e.Entry.Index),
		"patient_id":  fmt.Sprintf("%d", e.Entry.PatientID),
		"accessor":    e.Entry.Accessor.String(),
		"action":      string(e.Entry.Action),
	})
}

func recordData(e ledger.RecordEvent) map[string]string {
	return map[string]string{
		"patient_id":  fmt.Sprintf("%d", e.Entry.PatientID),
		"index":       fmt.Sprintf("%d", e.Entry.Index),
		"data_hash":   e.Entry.DataHash.String(),
		"record_type": string(e.Entry.RecordType),
		"actor":       e.Actor.String(),
	}
}

func (d *Dispatcher) dispatch(eventType string, data map[string]string) {
	payload := Payload{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ep := range d.endpoints {
		if !ep.wants(eventType) {
			continue
		}
		go d.deliver(ep, payload)
	}
}

func (ep Endpoint) wants(eventType string) bool {
	if len(ep.Events) == 0 {
		return true
	}
	for _, e := range ep.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// deliver sends the payload to a single endpoint with retries.
func (d *Dispatcher) deliver(ep Endpoint, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("webhook: marshal payload", zap.Error(err))
		return
	}

	signature := signPayload(body, ep.Secret)

	// Three attempts, backing off 1s then 5s between them.
	backoff := []time.Duration{time.Second, 5 * time.Second}

	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff[attempt-2])
		}

		success, statusCode, errMsg := d.doDelivery(ep.URL, body, signature)

		if d.onMetrics != nil {
			d.onMetrics(success)
		}

		if success {
			d.logger.Debug("webhook: delivered",
				zap.String("url", ep.URL),
				zap.String("event", payload.Type),
				zap.Int("status", statusCode),
			)
			return
		}

		d.logger.Warn("webhook: delivery failed",
			zap.String("url", ep.URL),
			zap.String("event", payload.Type),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (d *Dispatcher) doDelivery(url string, body []byte, signature string) (bool, int, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-MedLedger-Signature", signature)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
