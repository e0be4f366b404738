package remediation

import "errors"

// Caller-visible error taxonomy. The HTTP layer maps these to status codes.
var (
	// ErrInvalidRequest marks a malformed submission (unknown entity type,
	// missing identifier).
	ErrInvalidRequest = errors.New("invalid remediation request")

	// ErrEntityNotFound means the referenced alert or incident does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrFeatureDisabled means remediation is not enabled for the tenant.
	ErrFeatureDisabled = errors.New("remediation not enabled for tenant")

	// ErrQuotaExceeded means the tenant's monthly remediation quota is spent.
	ErrQuotaExceeded = errors.New("remediation quota exceeded")

	// ErrJobPending accompanies the existing job returned for a duplicate
	// submission while the first run is still in flight.
	ErrJobPending = errors.New("remediation already in progress")

	// ErrJobNotFound means no job exists with the given ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal rejects state writes to an already-terminal job.
	ErrJobTerminal = errors.New("job already in terminal state")
)
