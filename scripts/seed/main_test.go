package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func statementFor(t *testing.T, needle string) string {
	t.Helper()
	for _, stmt := range schemaStatements {
		if strings.Contains(stmt, needle) {
			return stmt
		}
	}
	t.Fatalf("no schema statement contains %q", needle)
	return ""
}

// The repositories soft-delete admissions; the table must carry the column
// their WHERE clauses reference.
func TestAdmissionsSchemaSupportsSoftDelete(t *testing.T) {
	stmt := statementFor(t, "CREATE TABLE IF NOT EXISTS admissions")
	require.Contains(t, stmt, "deleted_at TIMESTAMPTZ")
}

// Room charges are idempotent per (admission, day, room) so a same-day room
// move bills both rooms; diet stays per (admission, day). The index names are
// what the billing repository matches on 23505.
func TestChargeIdempotencyIndexes(t *testing.T) {
	room := statementFor(t, "uq_charges_room_per_day")
	require.Contains(t, room, "(admission_id, charge_date, room_id)")
	require.Contains(t, room, "WHERE charge_type = 'ROOM'")

	diet := statementFor(t, "uq_charges_diet_per_day")
	require.Contains(t, diet, "(admission_id, charge_date)")
	require.Contains(t, diet, "WHERE charge_type = 'DIET'")
}

// The audit logger binds entity_id as a string.
func TestAuditEntityIDIsText(t *testing.T) {
	stmt := statementFor(t, "CREATE TABLE IF NOT EXISTS audit_logs")
	require.Contains(t, stmt, "entity_id TEXT")
}

func TestPricingTypeDefaultInDomain(t *testing.T) {
	stmt := statementFor(t, "CREATE TABLE IF NOT EXISTS inventory_items")
	require.Contains(t, stmt, "pricing_type TEXT NOT NULL DEFAULT 'FLAT'")
}
