package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/verihealth/medledger/internal/auth"
	"github.com/verihealth/medledger/internal/ledger"
	"github.com/verihealth/medledger/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	authToken string
	apiKey    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "medledger",
	Short: "MedLedger CLI",
	Long: `medledger is the command-line interface for the MedLedger service.

It commits record hashes, walks patient version chains, verifies documents
against the ledger, and manages the provider authorization registry.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.medledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if authToken == "" {
			authToken = viper.GetString("token")
		}
		if apiKey == "" {
			apiKey = viper.GetString("api_key")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.medledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "MedLedger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "JWT bearer token")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key in keyID.secret form")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(supersedeCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(providerCmd)
	rootCmd.AddCommand(logAccessCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if authToken != "" {
		opts = append(opts, client.WithBearerToken(authToken))
	}
	if apiKey != "" {
		opts = append(opts, client.WithAPIKey(apiKey))
	}
	return client.MustNew(serverURL, opts...)
}

// hashArg interprets arg as either a 64-char hex digest or a file path to
// hash with SHA-256. "-" hashes stdin.
func hashArg(arg string) (string, error) {
	if _, err := ledger.ParseDigest(arg); err == nil {
		return arg, nil
	}

	var r io.Reader
	if arg == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(arg)
		if err != nil {
			return "", fmt.Errorf("%q is neither a hex digest nor a readable file: %w", arg, err)
		}
		defer f.Close()
		r = f
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash %q: %w", arg, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the service's operational state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().Status(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Backend:       %s\n", st.Backend)
		fmt.Printf("Uptime:        %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
		if st.Initialized {
			fmt.Printf("Owner:         %s\n", st.Owner)
		} else {
			fmt.Println("Owner:         (not initialized)")
		}
		fmt.Printf("Audit entries: %d\n", st.AuditEntries)
		fmt.Printf("Audit root:    %s\n", st.AuditRoot)
		return nil
	},
}

// ── add ──────────────────────────────────────────────────────────────────────

var addType string

var addCmd = &cobra.Command{
	Use:   "add <patient-id> <hash-or-file>",
	Short: "Commit a record hash for a patient",
	Long: `Add commits a content hash to a patient's version chain.

The second argument is a 64-character hex SHA-256 digest, a file to hash,
or "-" to hash stdin:

  medledger add 42 9f86d08...     # pre-computed digest
  medledger add 42 ./visit.pdf    # hashes the file locally
  cat visit.pdf | medledger add 42 -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePatientID(args[0])
		if err != nil {
			return err
		}
		digest, err := hashArg(args[1])
		if err != nil {
			return err
		}

		rec, err := newClient().AddRecord(context.Background(), pid, digest, addType)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Record committed\n\n")
		fmt.Printf("  Patient: %d\n", rec.PatientID)
		fmt.Printf("  Index:   %d\n", rec.Index)
		fmt.Printf("  Type:    %s\n", rec.RecordType)
		fmt.Printf("  Hash:    %s\n", rec.DataHash)
		return nil
	},
}

func init() {
	addCmd.Flags().StringVar(&addType, "type", "REPORT", "Record type (VISIT, BILL, REPORT, PATIENT_INFO)")
}

// ── supersede ────────────────────────────────────────────────────────────────

var supersedeCmd = &cobra.Command{
	Use:   "supersede <patient-id> <index> <hash-or-file>",
	Short: "Replace an active record with a corrected version",
	Long: `Supersede deactivates the entry at the given index and appends a fresh
commitment at the next index. The old entry stays readable forever.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePatientID(args[0])
		if err != nil {
			return err
		}
		idx, err := parseIndex(args[1])
		if err != nil {
			return err
		}
		digest, err := hashArg(args[2])
		if err != nil {
			return err
		}

		rec, err := newClient().SupersedeRecord(context.Background(), pid, idx, digest)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Record superseded\n\n")
		fmt.Printf("  Old index: %d (now inactive)\n", idx)
		fmt.Printf("  New index: %d\n", rec.Index)
		fmt.Printf("  Hash:      %s\n", rec.DataHash)
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <patient-id> <index> <hash-or-file>",
	Short: "Check a document against its stored commitment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePatientID(args[0])
		if err != nil {
			return err
		}
		idx, err := parseIndex(args[1])
		if err != nil {
			return err
		}
		digest, err := hashArg(args[2])
		if err != nil {
			return err
		}

		valid, err := newClient().VerifyRecord(context.Background(), pid, idx, digest)
		if err != nil {
			return err
		}
		if valid {
			fmt.Println("✓ Hash matches the ledger commitment")
			return nil
		}
		fmt.Println("✗ Hash does NOT match the ledger commitment")
		os.Exit(1)
		return nil
	},
}

// ── records ──────────────────────────────────────────────────────────────────

var recordsFormat string

var recordsCmd = &cobra.Command{
	Use:   "records <patient-id>",
	Short: "List a patient's active record commitments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePatientID(args[0])
		if err != nil {
			return err
		}

		recs, err := newClient().ListActiveRecords(context.Background(), pid)
		if err != nil {
			return err
		}

		if recordsFormat == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}

		if len(recs) == 0 {
			fmt.Printf("No active records for patient %d\n", pid)
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "IDX\tTYPE\tHASH\tCREATED BY\tCREATED AT")
		for _, r := range recs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				r.Index, r.RecordType, shortHash(r.DataHash), r.CreatedBy,
				r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	recordsCmd.Flags().StringVar(&recordsFormat, "format", "text", "Output format: text or json")
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditPatient int64

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c := newClient()

		if auditPatient > 0 {
			entries, err := c.PatientAudit(ctx, auditPatient)
			if err != nil {
				return err
			}
			return printAuditEntries(entries)
		}

		ov, err := c.AuditOverview(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Entries: %d\n", ov.Entries)
		fmt.Printf("Root:    %s\n", ov.Root)
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-derive the full audit hash chain on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := newClient().VerifyAuditChain(context.Background())
		if err != nil {
			return err
		}
		if v.Valid {
			fmt.Println("✓ Audit chain intact")
			return nil
		}
		fmt.Printf("✗ Audit chain BROKEN: %s\n", v.Error)
		os.Exit(1)
		return nil
	},
}

func init() {
	auditCmd.Flags().Int64Var(&auditPatient, "patient", 0, "Filter the trail to one patient")
	auditCmd.AddCommand(auditVerifyCmd)
}

func printAuditEntries(entries []client.AuditEntry) error {
	if len(entries) == 0 {
		fmt.Println("No audit entries")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDX\tPATIENT\tACCESSOR\tACTION\tTIMESTAMP\tHASH")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n",
			e.Index, e.PatientID, e.Accessor, e.Action,
			e.Timestamp.Format(time.RFC3339), shortHash(e.Hash))
	}
	return w.Flush()
}

// ── provider ─────────────────────────────────────────────────────────────────

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage the authorization registry",
}

var providerAuthorizeCmd = &cobra.Command{
	Use:   "authorize <identity>",
	Short: "Grant an identity write access (owner only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().AuthorizeProvider(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Provider authorized: %s\n", args[0])
		return nil
	},
}

var providerRevokeCmd = &cobra.Command{
	Use:   "revoke <identity>",
	Short: "Remove an identity from the authorization set (owner only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().RevokeProvider(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Provider revoked: %s\n", args[0])
		return nil
	},
}

var providerCheckCmd = &cobra.Command{
	Use:   "check <identity>",
	Short: "Check whether an identity is authorized",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := newClient().IsAuthorized(context.Background(), args[0])
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("%s is authorized\n", args[0])
		} else {
			fmt.Printf("%s is NOT authorized\n", args[0])
		}
		return nil
	},
}

var providerTransferCmd = &cobra.Command{
	Use:   "transfer <new-owner>",
	Short: "Transfer the owner role to another identity (owner only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().TransferOwnership(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Ownership transferred to %s\n", args[0])
		return nil
	},
}

func init() {
	providerCmd.AddCommand(providerAuthorizeCmd)
	providerCmd.AddCommand(providerRevokeCmd)
	providerCmd.AddCommand(providerCheckCmd)
	providerCmd.AddCommand(providerTransferCmd)
}

// ── log-access ───────────────────────────────────────────────────────────────

var logAccessHash string

var logAccessCmd = &cobra.Command{
	Use:   "log-access <patient-id> <action>",
	Short: "Append an explicit access event to the audit trail",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := parsePatientID(args[0])
		if err != nil {
			return err
		}

		entry, err := newClient().LogAccess(context.Background(), pid, args[1], logAccessHash)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Access logged at audit index %d\n", entry.Index)
		return nil
	},
}

func init() {
	logAccessCmd.Flags().StringVar(&logAccessHash, "hash", "", "Record hash the access refers to (optional)")
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenCmd = &cobra.Command{
	Use:   "keygen <identity>",
	Short: "Generate an API key for an identity",
	Long: `Keygen prints a fresh API key and the matching server-side config block.

The plaintext key is shown exactly once. Add the YAML block to the server's
auth.api_keys list; the server stores only the bcrypt hash.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, cfg, err := auth.GenerateAPIKey(ledger.Identity(args[0]))
		if err != nil {
			return err
		}

		fmt.Printf("API key (save it now, it is not shown again):\n\n  %s\n\n", key)
		fmt.Println("Server config block (append under auth.api_keys):")
		out, err := yaml.Marshal([]auth.APIKeyConfig{cfg})
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// ── token ────────────────────────────────────────────────────────────────────

var (
	tokenSecret string
	tokenIssuer string
	tokenRole   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <identity>",
	Short: "Mint a JWT for an identity using the shared signing secret",
	Long: `Token signs a short-lived HS256 JWT locally. The secret must match the
server's auth.token_secret; intended for operators and local development.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			tokenSecret = viper.GetString("token_secret")
		}
		if tokenSecret == "" {
			return fmt.Errorf("--secret is required (or set token_secret in config)")
		}

		issuer, err := auth.NewTokenIssuer([]byte(tokenSecret), tokenIssuer, tokenTTL)
		if err != nil {
			return err
		}
		tok, err := issuer.Issue(ledger.Identity(args[0]), tokenRole)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 signing secret (must match the server)")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "http://localhost:8080", "Issuer URL claim")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "provider", "Role claim (owner or provider)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the medledger CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("medledger %s\n", version)
	},
}

// shortHash truncates a hex digest for tabular output.
func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "…"
	}
	return h
}

func parsePatientID(s string) (int64, error) {
	var pid int64
	if _, err := fmt.Sscanf(s, "%d", &pid); err != nil || pid <= 0 {
		return 0, fmt.Errorf("patient id must be a positive integer, got %q", s)
	}
	return pid, nil
}

func parseIndex(s string) (int, error) {
	var idx int
	if _, err := fmt.Sscanf(s, "%d", &idx); err != nil || idx < 0 {
		return 0, fmt.Errorf("index must be a non-negative integer, got %q", s)
	}
	return idx, nil
}
