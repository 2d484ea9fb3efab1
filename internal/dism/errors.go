package dism

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGrammarMismatch is matched by every *ParseError.
	ErrGrammarMismatch = errors.New("dism report does not match the expected grammar")

	// ErrToolInvocation is matched by every *ToolError.
	ErrToolInvocation = errors.New("dism invocation failed")
)

// ParseError is returned when a report deviates from its grammar. Raw holds
// the complete report for diagnostics.
type ParseError struct {
	Grammar Grammar
	Line    int
	Reason  string
	Raw     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s report at line %d: %s", e.Grammar, e.Line, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrGrammarMismatch
}

// ToolError is returned when the dism process could not be run or exited
// with a non-zero status.
type ToolError struct {
	Operation string
	Args      []string
	// -1 if the process did not exit on its own
	ExitCode int
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("dism %s failed (exit code %d): %v", e.Operation, e.ExitCode, e.Err)
	if out := lastLine(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolInvocation, e.Err}
}

// lastLine returns the last non-empty line of the tool output, which is
// where DISM prints its error message.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
