package costtracking

import "fmt"

const (
	CodeCostTracking    = "COST_TRACKING_ERROR"
	CodeCostCalculation = "COST_CALCULATION_ERROR"
)

// TrackingError means the counter store or the ledger was unreachable.
// Callers must fail closed: no LLM call proceeds without a budget answer.
type TrackingError struct {
	Op  string
	Err error
}

func (e *TrackingError) Error() string {
	return fmt.Sprintf("%s: %s: %v", CodeCostTracking, e.Op, e.Err)
}

func (e *TrackingError) Unwrap() error { return e.Err }
func (e *TrackingError) Code() string  { return CodeCostTracking }

// CalculationError is returned for models with no published rate.
type CalculationError struct {
	Model string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("%s: no pricing for model %q", CodeCostCalculation, e.Model)
}

func (e *CalculationError) Code() string { return CodeCostCalculation }
