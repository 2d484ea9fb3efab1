package customizer

import (
	"fmt"
)

type Step string

const (
	StepLocateMedium        Step = "locate-medium"
	StepReadCatalog         Step = "read-catalog"
	StepValidateEligibility Step = "validate-eligibility"
	StepStagePackage        Step = "stage-package"
	StepCustomizeImage      Step = "customize-image"
	StepSummarize           Step = "summarize"
)

// StepError tells which step of a run failed. Index is set for failures
// inside an edition.
type StepError struct {
	Step  Step
	Index int
	Err   error
}

func (e *StepError) Error() string {
	if e.Index > 0 {
		return fmt.Sprintf("%s (image %d): %v", e.Step, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
