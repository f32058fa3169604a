package benchmark

import (
	"regexp"
	"strings"
)

// Outcome classifies a finished benchmark invocation.
type Outcome int

const (
	// Succeeded means the tool printed its success marker.
	Succeeded Outcome = iota
	// Failed means the tool reported failure or exited non-zero.
	Failed
	// Indeterminate means the output carries neither marker and the exit
	// code was clean; the run is treated as failed but flagged for a human.
	Indeterminate
)

const (
	successMarker = "SUCCESS (took"
	failureMarker = "FAILURE (took"
)

// classifyOutcome decides the run outcome from the tool output. The output
// markers are authoritative: the tool is known to exit zero after printing a
// failure banner, so the exit code is only consulted when no marker exists.
func classifyOutcome(output string, exitCode int) Outcome {
	if strings.Contains(output, successMarker) {
		return Succeeded
	}
	if strings.Contains(output, failureMarker) {
		return Failed
	}
	if exitCode != 0 {
		return Failed
	}
	return Indeterminate
}

var testExecutionIDPattern = regexp.MustCompile(
	`Test Execution ID[^0-9a-fA-F]*([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

// parseTestExecutionID extracts the uuid the tool prints at startup, which
// names the directory its result artifact is written to.
func parseTestExecutionID(output string) (string, bool) {
	match := testExecutionIDPattern.FindStringSubmatch(output)
	if match == nil {
		return "", false
	}
	return match[1], true
}
