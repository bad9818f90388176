// Package client provides the Go SDK for the MedLedger HTTP API: committing
// record hashes, walking version chains, and verifying the audit trail.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RecordEntry mirrors the ledger's record commitment as returned by the API.
type RecordEntry struct {
	PatientID  int64     `json:"patient_id"`
	Index      int       `json:"index"`
	DataHash   string    `json:"data_hash"`
	RecordType string    `json:"record_type"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	Active     bool      `json:"active"`
}

// AuditEntry mirrors one hash-chained audit trail entry.
type AuditEntry struct {
	Index      int       `json:"index"`
	PatientID  int64     `json:"patient_id"`
	Accessor   string    `json:"accessor"`
	Action     string    `json:"action"`
	RecordHash string    `json:"record_hash"`
	Timestamp  time.Time `json:"timestamp"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// AuditOverview is the response of GET /audit.
type AuditOverview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// ChainVerification is the response of GET /audit/verify.
type ChainVerification struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Status is the response of GET /status.
type Status struct {
	Backend       string `json:"backend"`
	UptimeSeconds int    `json:"uptime_seconds"`
	Initialized   bool   `json:"initialized"`
	Owner         string `json:"owner,omitempty"`
	AuditEntries  int    `json:"audit_entries"`
	AuditRoot     string `json:"audit_root"`
}

// Client is the MedLedger SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client

	bearerToken string
	apiKey      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a JWT to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithAPIKey attaches a "keyID.secret" API key to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the service at baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(token),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// AddRecord commits a content hash for a patient. dataHash is the hex digest
// of the off-ledger document. Returns the stored entry with its index.
func (c *Client) AddRecord(ctx context.Context, patientID int64, dataHash, recordType string) (*RecordEntry, error) {
	path := fmt.Sprintf("/api/v1/patients/%d/records", patientID)
	body := map[string]string{"data_hash": dataHash, "record_type": recordType}

	var rec RecordEntry
	if err := c.post(ctx, path, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SupersedeRecord deactivates the entry at index and appends a fresh
// commitment carrying newHash. Returns the new entry.
func (c *Client) SupersedeRecord(ctx context.Context, patientID int64, index int, newHash string) (*RecordEntry, error) {
	path := fmt.Sprintf("/api/v1/patients/%d/records/%d/supersede", patientID, index)
	body := map[string]string{"data_hash": newHash}

	var rec RecordEntry
	if err := c.post(ctx, path, body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// VerifyRecord checks a digest against the stored commitment. This endpoint
// is public; no credentials are required.
func (c *Client) VerifyRecord(ctx context.Context, patientID int64, index int, dataHash string) (bool, error) {
	path := fmt.Sprintf("/api/v1/patients/%d/records/%d/verify", patientID, index)
	body := map[string]string{"data_hash": dataHash}

	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := c.post(ctx, path, body, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// GetRecord fetches the entry at index, active or superseded.
func (c *Client) GetRecord(ctx context.Context, patientID int64, index int) (*RecordEntry, error) {
	path := fmt.Sprintf("/api/v1/patients/%d/records/%d", patientID, index)

	var rec RecordEntry
	if err := c.get(ctx, path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListActiveRecords returns the patient's active entries in creation order.
func (c *Client) ListActiveRecords(ctx context.Context, patientID int64) ([]RecordEntry, error) {
	path := fmt.Sprintf("/api/v1/patients/%d/records", patientID)

	var wrapper struct {
		Records []RecordEntry `json:"records"`
	}
	if err := c.get(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Records, nil
}

// AuditOverview returns the global audit entry count and chain root.
func (c *Client) AuditOverview(ctx context.Context) (*AuditOverview, error) {
	var ov AuditOverview
	if err := c.get(ctx, "/api/v1/audit", &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// VerifyAuditChain asks the server to re-derive the full hash chain.
func (c *Client) VerifyAuditChain(ctx context.Context) (*ChainVerification, error) {
	var v ChainVerification
	if err := c.get(ctx, "/api/v1/audit/verify", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// AuditEntry fetches a single audit entry by its global index.
func (c *Client) AuditEntry(ctx context.Context, index int) (*AuditEntry, error) {
	var e AuditEntry
	if err := c.get(ctx, fmt.Sprintf("/api/v1/audit/entries/%d", index), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// PatientAudit returns the audit trail filtered to one patient.
func (c *Client) PatientAudit(ctx context.Context, patientID int64) ([]AuditEntry, error) {
	path := fmt.Sprintf("/api/v1/patients/%d/audit", patientID)

	var wrapper struct {
		Entries []AuditEntry `json:"entries"`
	}
	if err := c.get(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Entries, nil
}

// LogAccess appends an explicit access event to the audit trail.
// recordHash may be empty for events not tied to a specific commitment.
func (c *Client) LogAccess(ctx context.Context, patientID int64, action, recordHash string) (*AuditEntry, error) {
	body := map[string]any{
		"patient_id":  patientID,
		"action":      action,
		"record_hash": recordHash,
	}
	if recordHash == "" {
		delete(body, "record_hash")
	}

	var e AuditEntry
	if err := c.post(ctx, "/api/v1/audit/access", body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AuthorizeProvider grants write access to an identity. Owner-only.
func (c *Client) AuthorizeProvider(ctx context.Context, identity string) error {
	return c.post(ctx, "/api/v1/providers", map[string]string{"identity": identity}, nil)
}

// RevokeProvider removes an identity from the authorization set. Owner-only.
func (c *Client) RevokeProvider(ctx context.Context, identity string) error {
	return c.delete(ctx, "/api/v1/providers/"+identity)
}

// IsAuthorized reports whether an identity may write to the ledger.
func (c *Client) IsAuthorized(ctx context.Context, identity string) (bool, error) {
	var resp struct {
		Authorized bool `json:"authorized"`
	}
	if err := c.get(ctx, "/api/v1/providers/"+identity, &resp); err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

// TransferOwnership hands the owner role to newOwner. Owner-only.
func (c *Client) TransferOwnership(ctx context.Context, newOwner string) error {
	return c.post(ctx, "/api/v1/owner/transfer", map[string]string{"identity": newOwner}, nil)
}

// Status fetches the service's operational summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.get(ctx, "/api/v1/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, nil)
}

// do executes an HTTP request, attaching credentials if configured, and
// decodes the JSON response into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
