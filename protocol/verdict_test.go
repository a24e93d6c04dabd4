package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerdictFor(t *testing.T) {
	require.Equal(t, uint64(107), ExpectedValue(100, 7))
	require.Equal(t, VerdictPass, VerdictFor(100, 7, 107))
	require.Equal(t, VerdictFail, VerdictFor(100, 7, 106))
	require.Equal(t, VerdictFail, VerdictFor(100, 7, 0))
}

func TestFormatSeedLine(t *testing.T) {
	require.Equal(t, "Coordinator @ rank   0: seed 1234\n", FormatSeedLine(1234))
}

func TestFormatVerdictLineAlignment(t *testing.T) {
	report := &WorkerReport{Identifier: "host-5", Value: 105}
	require.Equal(t,
		"   Worker at rank   5: output 105 is PASS (from host-5)\n",
		FormatVerdictLine(5, report, VerdictPass))

	report = &WorkerReport{Identifier: "host-42", Value: 9}
	require.Equal(t,
		"   Worker at rank  42: output 9 is FAIL (from host-42)\n",
		FormatVerdictLine(42, report, VerdictFail))

	// Three digits fill the field; four would push it out of alignment.
	report = &WorkerReport{Identifier: "host-999", Value: 1}
	require.Equal(t,
		"   Worker at rank 999: output 1 is FAIL (from host-999)\n",
		FormatVerdictLine(999, report, VerdictFail))
}

func TestFormatWarningLines(t *testing.T) {
	require.Equal(t,
		"WARNING: rank 3 sent a malformed gather entry (control)\n",
		FormatMalformedLine(3, ControlEnvelope(1)))
	require.Equal(t,
		"WARNING: rank 3 sent a malformed gather entry (missing)\n",
		FormatMalformedLine(3, nil))
	require.Equal(t,
		"ERROR: world has 4 ranks but gather returned 3 entries\n",
		FormatGatherMismatchLine(4, 3))
}
