// Package ingestion turns fetched newsletters into stored passage records.
//
// Each message moves through Fetched, Normalized, Chunked, Embedded and
// Stored, or ends early as Skipped (no meaningful content) or Failed
// (unrecoverable after retries). Normalizing, chunking and embedding run
// concurrently on a bounded worker pool; writes to the record store happen
// afterwards in fetch order, in chunks sized like the embedding batches.
//
// A failure is isolated to its message and reported in the BatchSummary.
// Failed messages are recorded in the ledger and retried on the next Run.
// Messages whose content hash and embedding model match the ledger are not
// embedded again.
package ingestion
