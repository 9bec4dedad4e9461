// Package storage provides the GORM-backed persistence layer for targets,
// jobs, runs, artifacts and alert records.
//
// PostgreSQL claims rows with FOR UPDATE SKIP LOCKED. SQLite has no row
// locks, so claims fall back to conditional updates that succeed for exactly
// one contender.
package storage
