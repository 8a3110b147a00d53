// Package postgres implements the service repositories against PostgreSQL
// (lib/pq). Driver errors are wrapped as domain.TransientStoreError so the
// services can retry them; rules that must hold under concurrency (dedup,
// set-if-null, last-attach-wins, leases) are enforced by conditional SQL.
package postgres
