// cmd/seed — populates a running MedLedger server with demo data through the
// public API: a few providers, record commitments for three patients, one
// superseded record, and a handful of explicit access events.
//
// The server must be running with ledger.owner set, and the supplied token
// must belong to the owner identity.
//
// Usage:
//
//	MEDLEDGER_TOKEN=eyJ... go run ./cmd/seed
//	MEDLEDGER_URL=http://localhost:8080 MEDLEDGER_TOKEN=... go run ./cmd/seed
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/verihealth/medledger/pkg/client"
)

const defaultURL = "http://localhost:8080"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

type seedRecord struct {
	patientID  int64
	recordType string
	document   string // hashed before commit; stands in for real file content
}

var providers = []string{
	"dr.chen@medcenter.org",
	"dr.russo@medcenter.org",
	"billing@medcenter.org",
}

var records = []seedRecord{
	{101, "PATIENT_INFO", "patient 101 demographics v1"},
	{101, "VISIT", "patient 101 annual physical 2026-08-12"},
	{101, "REPORT", "patient 101 lipid panel results"},
	{102, "PATIENT_INFO", "patient 102 demographics v1"},
	{102, "VISIT", "patient 102 cardiology consult"},
	{102, "BILL", "patient 102 invoice INV-2041"},
	{103, "PATIENT_INFO", "patient 103 demographics v1"},
	{103, "REPORT", "patient 103 MRI lumbar spine"},
}

func run() error {
	baseURL := os.Getenv("MEDLEDGER_URL")
	if baseURL == "" {
		baseURL = defaultURL
	}
	token := os.Getenv("MEDLEDGER_TOKEN")
	if token == "" {
		return fmt.Errorf("MEDLEDGER_TOKEN must be set to an owner token")
	}

	ctx := context.Background()
	c := client.MustNew(baseURL, client.WithBearerToken(token))

	st, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("reach server: %w", err)
	}
	if !st.Initialized {
		return fmt.Errorf("ledger not initialized; set ledger.owner on the server")
	}
	fmt.Printf("connected to %s (backend: %s, owner: %s)\n\n", baseURL, st.Backend, st.Owner)

	for _, p := range providers {
		err := c.AuthorizeProvider(ctx, p)
		if err != nil {
			// Re-running the seed is fine; existing grants are reported and skipped.
			fmt.Printf("  provider %-28s %v\n", p, err)
			continue
		}
		fmt.Printf("  provider %-28s authorized\n", p)
	}

	fmt.Println()
	for _, r := range records {
		digest := hashDoc(r.document)
		rec, err := c.AddRecord(ctx, r.patientID, digest, r.recordType)
		if err != nil {
			return fmt.Errorf("add record for patient %d: %w", r.patientID, err)
		}
		fmt.Printf("  record  patient:%d idx:%d  %-12s  %s\n",
			rec.PatientID, rec.Index, rec.RecordType, digest[:16])
	}

	// Supersede patient 101's lipid panel with a corrected version.
	fmt.Println()
	corrected := hashDoc("patient 101 lipid panel results (corrected)")
	rec, err := c.SupersedeRecord(ctx, 101, 2, corrected)
	if err != nil {
		return fmt.Errorf("supersede record: %w", err)
	}
	fmt.Printf("  superseded patient:101 idx:2 -> new idx:%d\n", rec.Index)

	// A few explicit access events.
	for _, pid := range []int64{101, 102} {
		if _, err := c.LogAccess(ctx, pid, "READ", ""); err != nil {
			return fmt.Errorf("log access for patient %d: %w", pid, err)
		}
		fmt.Printf("  access  patient:%d READ logged\n", pid)
	}

	ov, err := c.AuditOverview(ctx)
	if err != nil {
		return fmt.Errorf("audit overview: %w", err)
	}
	fmt.Printf("\nseed complete: %d audit entries, root %s\n", ov.Entries, ov.Root)
	return nil
}

func hashDoc(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
