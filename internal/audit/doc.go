// Package audit records who registered and removed devices, and from where.
//
// Entries are written to the audit_logs table by the REST API (source "api")
// and by telemetry auto-registration (source "telemetry"), and listed newest
// first through GET /api/v1/audit.
package audit
