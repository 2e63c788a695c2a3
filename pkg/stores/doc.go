// Package stores provides the persistence layer for planesync.
//
// The resource ledger lives here: sync batches, the created_resources rows
// that record every remote resource a batch created, the append-only
// operation log (events) and a small fact cache for workspace metadata.
// SQLStore runs on SQLite (modernc, WAL mode) by default and on PostgreSQL
// through pgx. Migrations are embedded and applied with golang-migrate.
//
// Timestamps are stored as fixed-width UTC text so that ordering by
// created_at is chronological on both dialects.
package stores
