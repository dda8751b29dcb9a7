package onboarding

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidCode means no pending session matches the supplied pairing
	// code. Expired, consumed, and never-issued codes are indistinguishable.
	ErrInvalidCode = errors.New("invalid or expired code")
	// ErrMintFailed means the upstream authority refused or failed to mint a
	// credential. The session stays pending and the approval is retryable.
	ErrMintFailed = errors.New("credential mint failed")
)

// OpError is a typed operation error with a stable Op + Kind contract for
// callers and tests. Kind is one of the sentinel errors above when applicable.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// IsInvalidCode reports whether err represents ErrInvalidCode.
func IsInvalidCode(err error) bool { return errors.Is(err, ErrInvalidCode) }

// IsMintFailed reports whether err represents ErrMintFailed.
func IsMintFailed(err error) bool { return errors.Is(err, ErrMintFailed) }
