// Package ledger implements the record integrity and audit ledger for
// medical record commitments.
//
// The ledger never sees plaintext: callers hand it the SHA-256 digest of an
// already-encrypted payload, and the ledger stores that digest together with
// who wrote it and when. Updates never overwrite — the superseded entry is
// flagged inactive and the replacement is appended, so every historical
// version stays verifiable at its original index.
//
// Every access is recorded in a global, hash-chained audit log. The chain
// starts from the well-known GenesisHash constant; any tampering with a
// committed audit entry is detectable via Verify.
//
// Three Store implementations are provided:
//   - MemoryStore: in-process, for testing and development.
//   - LevelStore: embedded LevelDB, durable single-node deployments.
//   - PostgresStore: durable, for shared production deployments.
package ledger
