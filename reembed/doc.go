// Package reembed migrates a record store to a new embedding model.
//
// Stores hold a single vector space, so switching models means building a
// second store: every record of the source is re-embedded from its passage
// text and written to a fresh target, and the source ledger is copied with
// the new model id so later ingestion runs see the migrated sources as
// unchanged. The source store is only read.
package reembed
