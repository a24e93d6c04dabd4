package protocol

import "fmt"

// Verdict classifies one worker's reported value.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// ExpectedValue is the value a correct worker reports for the given seed.
func ExpectedValue(seed uint64, rank int) uint64 {
	return seed + uint64(rank)
}

// VerdictFor classifies a reported value against the expected one.
func VerdictFor(seed uint64, rank int, value uint64) Verdict {
	if value == ExpectedValue(seed, rank) {
		return VerdictPass
	}
	return VerdictFail
}

// FormatSeedLine renders the coordinator's seed announcement.
func FormatSeedLine(seed uint64) string {
	return fmt.Sprintf("Coordinator @ rank %3d: seed %d\n", 0, seed)
}

// FormatVerdictLine renders one per-worker report line. The rank field is
// three characters wide, right-aligned, so worlds under WideWorldSize line
// up in column output.
func FormatVerdictLine(rank int, report *WorkerReport, verdict Verdict) string {
	return fmt.Sprintf("   Worker at rank %3d: output %d is %s (from %s)\n",
		rank, report.Value, verdict, report.Identifier)
}

// FormatMalformedLine renders the warning for a gather entry that is not a
// well-formed report.
func FormatMalformedLine(rank int, entry *Envelope) string {
	return fmt.Sprintf("WARNING: rank %d sent a malformed gather entry (%s)\n", rank, entry.Describe())
}

// FormatWideWorldLine renders the formatting warning for oversized worlds.
func FormatWideWorldLine(size int) string {
	return fmt.Sprintf("WARNING: world size %d is %d or more; report columns will be misaligned\n", size, WideWorldSize)
}

// FormatGatherMismatchLine renders the fatal gather length report.
func FormatGatherMismatchLine(size, got int) string {
	return fmt.Sprintf("ERROR: world has %d ranks but gather returned %d entries\n", size, got)
}
