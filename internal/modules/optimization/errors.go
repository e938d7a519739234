package optimization

import "fmt"

// InsufficientDataError signals too few aligned periods or instruments for
// the requested mode. It aborts only the affected scenario or request.
type InsufficientDataError struct {
	Periods     int
	Instruments int
	Reason      string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %s (periods=%d, instruments=%d)",
		e.Reason, e.Periods, e.Instruments)
}

// DegenerateInputError signals a zero-variance instrument or a covariance
// matrix that stays singular even after shrinkage.
type DegenerateInputError struct {
	Symbol string
	Reason string
}

func (e *DegenerateInputError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("degenerate input for %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("degenerate input: %s", e.Reason)
}

// SolverFailure signals that a scenario solve did not reach optimal status.
// The engine converts it into the deterministic inverse-volatility fallback
// instead of propagating it.
type SolverFailure struct {
	Method string
	Err    error
}

func (e *SolverFailure) Error() string {
	return fmt.Sprintf("solver failure in %s: %v", e.Method, e.Err)
}

func (e *SolverFailure) Unwrap() error {
	return e.Err
}
