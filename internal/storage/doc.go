// Package storage persists per-feed scheduling state and the record of every
// entry the relay decided to publish.
//
// Two drivers are supported behind one Store: SQLite (modernc, default) and
// PostgreSQL (lib/pq). Schema changes ship as embedded golang-migrate files.
package storage
