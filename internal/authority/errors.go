package authority

import (
	"errors"
	"fmt"
)

// ErrTokenMissing means the process-held authority token is not configured.
// The gateway still serves onboarding-init/status/revoke in that case;
// approval and event-driven revocation are unavailable.
var ErrTokenMissing = errors.New("authority token not configured")

// UpstreamError reports a failed authority call, carrying the authority's
// status and error detail for the caller to surface.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
