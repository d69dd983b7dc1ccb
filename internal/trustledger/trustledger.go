// Package trustledger implements the append-only governance ledger.
//
// Every entry carries the SHA-256 of its canonical form (see package
// canonical) and the cumulative Merkle root over all entry hashes up to and
// including itself, so any peer holding the ordered hash list can recompute
// every stored root. Entries are never mutated or deleted.
//
// Four implementations of the Ledger interface are provided:
//   - FileLedger: newline-delimited JSON on local disk (the default).
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, serialised with an advisory lock.
//   - SQLiteLedger: durable single-node storage without a database server.
//
// The ledger is a single-writer structure. FileLedger serialises appends
// inside one process with a mutex and across processes with an exclusive
// flock on the ledger file; any tool that writes the file without going
// through this package must provide its own serialisation.
package trustledger
