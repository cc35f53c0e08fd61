// Package harness runs trigger drills: scripted ledger activity replayed
// through the real trigger table, incubator and consensus engine against a
// scratch ledger.
//
// # Scenario Format
//
// Drills are YAML files:
//
//	name: github_scan_spawns_responders
//	description: "Five new repositories wake the repo analyzers"
//	halted: false            # optional: trip the kill switch first
//	votes:
//	  - agent_id: whale_1
//	    agent_type: whale
//	    category: whale_move
//	    confidence: 0.9
//	    event: { tx: "0xabc" }
//	records:
//	  - agent_id: ghost_commit_001
//	    agent_type: scanner
//	    message_type: github_scan
//	    payload: { new_repos: 5 }
//	plans:
//	  - name: Aggressive Market Entry
//	    budget: 5000
//	assertions:
//	  - type: trace_contains
//	    kind: trigger
//	    name: github_scan
//	  - type: ledger_count
//	    message_type: repo_analysis
//	    count: 1
//
// Steps run in a fixed order: votes (then one consensus check per event),
// records, plans, then a single monitor cycle over everything written.
//
// # Assertion Types
//
//   - trace_contains: an event of kind with name appears in the trace
//   - trace_count: exactly count events of kind with name appear
//   - trace_order: the "kind:name" entries appear in the given order
//   - ledger_count: the scratch ledger holds exactly count records of message_type
//
// # Deterministic Output
//
// The clock is fake and advances one second per step; record, vote and
// agent IDs are sequential. The same drill produces a byte-identical trace,
// which tests compare against golden files.
package harness
