package store

import (
	"fmt"
	"strings"
)

const recordColumns = "id, agent_id, agent_type, message_type, payload, status, created_at"

// compileQuery converts a Query to parameterized SQL.
//
// CRITICAL: every query ends with a seq tiebreaker so rows sharing a
// created_at value come back in a deterministic order.
// CRITICAL: all values are parameterized, never interpolated.
func compileQuery(q Query) (string, []any) {
	var (
		where  []string
		params []any
	)

	if q.MessageType != "" {
		where = append(where, "message_type = ?")
		params = append(params, q.MessageType)
	}
	if q.AgentID != "" {
		where = append(where, "agent_id = ?")
		params = append(params, q.AgentID)
	}
	if q.AgentFamily != "" {
		// instr avoids LIKE wildcard escaping for families containing '_'.
		where = append(where, "instr(agent_id, ?) > 0")
		params = append(params, q.AgentFamily)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		params = append(params, string(q.Status))
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		params = append(params, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at < ?")
		params = append(params, q.Until.UnixNano())
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(recordColumns)
	sb.WriteString(" FROM ledger")
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	switch q.Order {
	case OldestFirst:
		sb.WriteString(" ORDER BY created_at ASC, seq ASC")
	default:
		sb.WriteString(" ORDER BY created_at DESC, seq DESC")
	}

	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	return sb.String(), params
}
