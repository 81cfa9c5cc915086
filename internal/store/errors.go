package store

import "errors"

// ErrAlreadyOpen is returned by Begin when a transaction is already open on
// this DB handle. The store is single-writer per process; nested
// transactions are a programming error, not a retryable condition.
var ErrAlreadyOpen = errors.New("store: transaction already open")

// ErrSchemaTooNew is returned by Open when the on-disk schema_version is
// newer than this binary's known migrations.
var ErrSchemaTooNew = errors.New("store: database schema is newer than this binary understands")

// ErrNoTransaction is returned when a Tx method is called after Commit or
// Rollback has already completed it.
var ErrNoTransaction = errors.New("store: transaction already closed")
