package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGolden_Drills(t *testing.T) {
	for _, path := range []string{
		"testdata/scenarios/github_scan.yaml",
		"testdata/scenarios/plan_rejected.yaml",
		"testdata/scenarios/consensus.yaml",
		"testdata/scenarios/halted.yaml",
	} {
		t.Run(path, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestSnapshot_IsCanonical(t *testing.T) {
	r := NewResult()
	r.add(KindTrigger, "github_scan", "", map[string]any{"reason": "r"})

	got, err := Snapshot("s", r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"ledger":[],"scenario_name":"s","trace":[{"detail":{"reason":"r"},"kind":"trigger","name":"github_scan","seq":1}]}`,
		string(got))
}
