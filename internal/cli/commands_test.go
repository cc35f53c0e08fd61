package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeData unmarshals the data field of a JSON CLI response.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

type recordView struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	MessageType string         `json:"message_type"`
	Status      string         `json:"status"`
	Payload     map[string]any `json:"payload"`
}

func tail(t *testing.T, db string, args ...string) []recordView {
	t.Helper()
	out, _, err := execute(t, nil, append([]string{"--db", db, "--format", "json", "ledger", "tail"}, args...)...)
	require.NoError(t, err)
	var recs []recordView
	decodeData(t, out, &recs)
	return recs
}

func TestRules_Golden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))

	out, _, err := execute(t, nil, "rules")
	require.NoError(t, err)
	g.Assert(t, "rules_text", []byte(out))

	out, _, err = execute(t, nil, "--format", "json", "rules")
	require.NoError(t, err)
	g.Assert(t, "rules_json", []byte(out))
}

func TestLedger_WriteAndTail(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, nil, "--db", db, "ledger", "write",
		"--agent", "ghost_commit_001", "--agent-type", "scanner",
		"--type", "github_scan", "--payload", `{"new_repos":5}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Appended")

	_, _, err = execute(t, nil, "--db", db, "ledger", "write", "--agent", "pulse_001", "--type", "pulse_scan")
	require.NoError(t, err)

	recs := tail(t, db)
	require.Len(t, recs, 2)
	assert.Equal(t, "pulse_scan", recs[0].MessageType, "newest first")
	assert.Equal(t, float64(5), recs[1].Payload["new_repos"])

	recs = tail(t, db, "--type", "github_scan")
	require.Len(t, recs, 1)
	assert.Equal(t, "pending", recs[0].Status)

	assert.Len(t, tail(t, db, "--limit", "1"), 1)
	assert.Len(t, tail(t, db, "--agent", "ghost_commit"), 1)

	out, _, err = execute(t, nil, "--db", db, "ledger", "tail")
	require.NoError(t, err)
	assert.Contains(t, out, "CREATED")
	assert.Contains(t, out, "ghost_commit_001")
}

func TestLedger_WriteRejectsBadPayload(t *testing.T) {
	_, _, err := execute(t, nil, "--db", tempDB(t), "ledger", "write",
		"--agent", "a", "--type", "m", "--payload", "[1,2]")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVote_ReachesConsensus(t *testing.T) {
	db := tempDB(t)
	vote := func(agent, confidence, evidence string) VoteResult {
		out, _, err := execute(t, nil, "--db", db, "--format", "json", "vote",
			"--agent", agent, "--type", "whale", "--category", "whale_move",
			"--confidence", confidence, "--evidence", evidence, "--check")
		require.NoError(t, err)
		var res VoteResult
		decodeData(t, out, &res)
		return res
	}

	first := vote("whale_1", "0.8", `{"tx":"0xabc","amount":1500}`)
	require.NotNil(t, first.Consensus)
	assert.False(t, first.Consensus.Confirmed)
	assert.Equal(t, "insufficient votes: 1/3", first.Consensus.Detail)

	out, _, err := execute(t, nil, "--db", db, "consensus", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, first.EventHash)

	vote("whale_2", "0.85", `{"amount":1500,"tx":"0xabc"}`)
	last := vote("whale_3", "0.9", `{"tx":"0xabc","amount":1500}`)
	assert.Equal(t, first.EventHash, last.EventHash, "key order does not change the fingerprint")
	require.NotNil(t, last.Consensus)
	assert.True(t, last.Consensus.Confirmed)
	assert.Equal(t, "Sovereign Truth confirmed: 0.85 confidence", last.Consensus.Detail)

	out, _, err = execute(t, nil, "--db", db, "consensus", "check", first.EventHash)
	require.NoError(t, err)
	assert.Contains(t, out, "confirmed")

	out, _, err = execute(t, nil, "--db", db, "consensus", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending events.")

	truths := tail(t, db, "--type", "sovereign_truth")
	require.Len(t, truths, 1)
	assert.Equal(t, "confirmed", truths[0].Status)
}

func TestConsensus_Sweep(t *testing.T) {
	db := tempDB(t)
	for _, agent := range []string{"a1", "a2"} {
		_, _, err := execute(t, nil, "--db", db, "vote", "--agent", agent,
			"--confidence", "0.95", "--evidence", `{"tx":"0x1"}`)
		require.NoError(t, err)
	}

	env := map[string]string{"SOVEREIGN_QUORUM": "2"}
	out, _, err := execute(t, env, "--db", db, "--format", "json", "consensus", "sweep")
	require.NoError(t, err)
	var results []struct {
		Confirmed bool `json:"confirmed"`
		Votes     int  `json:"votes"`
	}
	decodeData(t, out, &results)
	require.Len(t, results, 1)
	assert.True(t, results[0].Confirmed)
	assert.Equal(t, 2, results[0].Votes)
}

func TestVote_RejectsBadEvidence(t *testing.T) {
	_, _, err := execute(t, nil, "--db", tempDB(t), "vote", "--agent", "a", "--evidence", "not json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestKillSwitch_HaltAndResume(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, nil, "--db", db, "killswitch", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "ACTIVE")

	out, _, err = execute(t, nil, "--db", db, "killswitch", "halt", "--reason", "drill")
	require.NoError(t, err)
	assert.Contains(t, out, "HALTED")

	out, _, err = execute(t, nil, "--db", db, "killswitch", "check")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "HALTED (remote: drill)")

	shutdowns := tail(t, db, "--type", "SHUTDOWN")
	require.Len(t, shutdowns, 1)
	assert.Equal(t, "VIP", shutdowns[0].AgentID)

	out, _, err = execute(t, nil, "--db", db, "killswitch", "resume")
	require.NoError(t, err)
	assert.Contains(t, out, "ACTIVE (remote: manual resume)")
}

func TestKillSwitch_EmptyOverrideHalts(t *testing.T) {
	env := map[string]string{"SOVEREIGN_OVERRIDE": ""}
	out, _, err := execute(t, env, "--db", tempDB(t), "killswitch", "check")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "HALTED (env_override")
}

func TestMode_GetAndSet(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, nil, "--db", db, "mode", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "discovery:")

	out, _, err = execute(t, nil, "--db", db, "mode", "set", "survivor", "--reason", "429 errors detected")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode: discovery -> survivor")
	assert.Contains(t, out, "Reason: 429 errors detected")

	out, _, err = execute(t, nil, "--db", db, "--format", "json", "mode", "get")
	require.NoError(t, err)
	var resp struct {
		Data ModeView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "survivor", string(resp.Data.Mode))

	// A mode switch leaves the kill switch alone.
	out, _, err = execute(t, nil, "--db", db, "killswitch", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "ACTIVE")
}

func TestMode_SetRejectsUnknownMode(t *testing.T) {
	db := tempDB(t)
	out, _, err := execute(t, nil, "--db", db, "--format", "json", "mode", "set", "stealth")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, `"E_INPUT"`)

	out, _, err = execute(t, nil, "--db", db, "mode", "get")
	require.NoError(t, err)
	assert.Contains(t, out, "discovery:")
}

func TestKillSwitch_LocalOverride(t *testing.T) {
	env := map[string]string{"SOVEREIGN_OVERRIDE": "STOP"}
	out, _, err := execute(t, env, "--db", tempDB(t), "--format", "json", "killswitch", "check")
	require.Error(t, err)

	var resp struct {
		Data struct {
			Active bool   `json:"active"`
			Source string `json:"source"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.False(t, resp.Data.Active)
	assert.Equal(t, "env_override", resp.Data.Source)
}

func TestSpawn(t *testing.T) {
	db := tempDB(t)

	out, _, err := execute(t, nil, "--db", db, "--format", "json", "spawn", "geologist",
		"--param", "resource=copper", "--param", "location=Peru")
	require.NoError(t, err)
	var res struct {
		AgentID string `json:"agent_id"`
	}
	decodeData(t, out, &res)
	assert.Regexp(t, `^temp_geologist_[0-9a-f]{8}$`, res.AgentID)

	reports := tail(t, db, "--type", "geology_report")
	require.Len(t, reports, 1)
	assert.Equal(t, res.AgentID, reports[0].AgentID)
	assert.Equal(t, "copper", reports[0].Payload["resource"])
}

func TestSpawn_Errors(t *testing.T) {
	_, _, err := execute(t, nil, "--db", tempDB(t), "spawn", "alchemist")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, nil, "--db", tempDB(t), "spawn", "geologist", "--param", "novalue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	halted := map[string]string{"SOVEREIGN_OVERRIDE": "STOP"}
	out, _, err := execute(t, halted, "--db", tempDB(t), "spawn", "geologist")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E_HALTED")
}

func TestParseParams(t *testing.T) {
	p, err := parseParams([]string{"n=3", "s=hello", `obj={"a":true}`, "empty="})
	require.NoError(t, err)
	assert.Equal(t, float64(3), p["n"])
	assert.Equal(t, "hello", p["s"])
	assert.Equal(t, map[string]any{"a": true}, p["obj"])
	assert.Equal(t, "", p["empty"])

	_, err = parseParams([]string{"=x"})
	assert.Error(t, err)
}

func TestChallenge(t *testing.T) {
	db := tempDB(t)
	plans := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(plans, []byte(`
- name: Aggressive Market Entry
  data_verified: false
  assumptions: 5
  budget: 5000
  timeframe: immediate
- name: Careful Pilot
  data_verified: true
  assumptions: 1
  budget: 200
  timeframe: 6 months
`), 0o600))

	out, _, err := execute(t, nil, "--db", db, "challenge", plans)
	require.NoError(t, err)
	assert.Contains(t, out, "Aggressive Market Entry: REJECTED")

	recs := tail(t, db, "--type", "plan_validation")
	require.Len(t, recs, 2)
	assert.Equal(t, "inquisitor_001", recs[0].AgentID)
}

func TestChallenge_MissingFile(t *testing.T) {
	_, _, err := execute(t, nil, "--db", tempDB(t), "challenge", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMonitor_RunsForDuration(t *testing.T) {
	out, _, err := execute(t, nil, "--db", tempDB(t), "--format", "json", "monitor",
		"--duration", "30ms", "--interval", "10ms")
	require.NoError(t, err)

	var summary MonitorSummary
	decodeData(t, out, &summary)
	assert.GreaterOrEqual(t, summary.Cycles, 1)
	assert.False(t, summary.Halted)
}

func TestMonitor_HaltedByOverride(t *testing.T) {
	env := map[string]string{"SOVEREIGN_OVERRIDE": "STOP"}
	out, _, err := execute(t, env, "--db", tempDB(t), "monitor", "--duration", "1s")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Monitor stopped after 0 cycle(s)")
}

func TestRun_HaltedAtStartup(t *testing.T) {
	env := map[string]string{"SOVEREIGN_OVERRIDE": "STOP"}
	_, _, err := execute(t, env, "--db", tempDB(t), "run")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestRun_BadPlansFile(t *testing.T) {
	_, _, err := execute(t, nil, "--db", tempDB(t), "run", "--plans", filepath.Join(t.TempDir(), "none.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestBlackboxLogging(t *testing.T) {
	dir := t.TempDir()
	env := map[string]string{"SOVEREIGN_BLACKBOX_DIR": dir}
	_, _, err := execute(t, env, "--db", tempDB(t), "--verbose", "consensus", "pending")
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^survivor_\d{8}\.log$`, entries[0].Name())
}
