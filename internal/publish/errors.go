package publish

import "fmt"

// Error wraps a post-auth publish failure with the stage that produced it.
// The orchestrator treats these as soft: the job still carries its report.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
