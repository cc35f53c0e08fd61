package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleResult() *Result {
	r := NewResult()
	r.add(KindRecord, "github_scan", "ghost_commit_001", nil)
	r.add(KindTrigger, "github_scan", "", nil)
	r.add(KindSpawn, "repo_analyzer", "temp_repo_analyzer_1", nil)
	r.add(KindSpawn, "code_scanner", "temp_code_scanner_2", nil)
	r.Ledger = []LedgerEntry{
		{AgentID: "ghost_commit_001", MessageType: "github_scan", Status: "pending"},
		{AgentID: "temp_repo_analyzer_1", MessageType: "repo_analysis", Status: "pending"},
	}
	return r
}

func TestAssertTraceContains(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertTraceContains(r.Trace, Assertion{Kind: KindTrigger, Name: "github_scan"}))

	err := assertTraceContains(r.Trace, Assertion{Kind: KindTrigger, Name: "security_alert"})
	var ae *AssertionError
	assert.ErrorAs(t, err, &ae)
	assert.Contains(t, err.Error(), "trigger:security_alert")
	assert.Contains(t, err.Error(), "[3] spawn:repo_analyzer (temp_repo_analyzer_1)")
}

func TestAssertTraceCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertTraceCount(r.Trace, Assertion{Kind: KindSpawn, Name: "code_scanner", Count: 1}))
	assert.NoError(t, assertTraceCount(r.Trace, Assertion{Kind: KindSpawn, Name: "investigator", Count: 0}))
	assert.ErrorContains(t, assertTraceCount(r.Trace, Assertion{Kind: KindSpawn, Name: "code_scanner", Count: 2}), "1 occurrences")
}

func TestAssertTraceOrder(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertTraceOrder(r.Trace, Assertion{Order: []string{"record:github_scan", "spawn:code_scanner"}}))

	err := assertTraceOrder(r.Trace, Assertion{Order: []string{"spawn:code_scanner", "trigger:github_scan"}})
	assert.ErrorContains(t, err, "should be before")

	err = assertTraceOrder(r.Trace, Assertion{Order: []string{"record:github_scan", "spawn:investigator"}})
	assert.ErrorContains(t, err, "missing entry: spawn:investigator")
}

func TestAssertLedgerCount(t *testing.T) {
	r := sampleResult()
	assert.NoError(t, assertLedgerCount(r, Assertion{MessageType: "repo_analysis", Count: 1}))
	assert.NoError(t, assertLedgerCount(r, Assertion{MessageType: "code_scan_report", Count: 0}))
	assert.ErrorContains(t, assertLedgerCount(r, Assertion{MessageType: "github_scan", Count: 3}), "1 records")
}

func TestEvaluateAssertions(t *testing.T) {
	r := sampleResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertTraceContains, Kind: KindTrigger, Name: "github_scan"},
		{Type: AssertLedgerCount, MessageType: "repo_analysis", Count: 2},
		{Type: "bogus"},
	})
	assert.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertion 1")
	assert.Contains(t, errs[1], "unknown assertion type")
}

func TestResult_AddError(t *testing.T) {
	r := NewResult()
	assert.True(t, r.Pass)
	r.AddError("broken")
	assert.False(t, r.Pass)
	assert.Equal(t, []string{"broken"}, r.Errors)
}
