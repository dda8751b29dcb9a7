package whitelist

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidDomain means the domain does not match the hostname grammar.
	ErrInvalidDomain = errors.New("invalid domain")
	// ErrDuplicateDomain means the domain is already allow-listed.
	ErrDuplicateDomain = errors.New("domain already whitelisted")
	// ErrNotFound means no entry exists for the given id.
	ErrNotFound = errors.New("whitelist entry not found")
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

// IsInvalidDomain reports whether err represents ErrInvalidDomain.
func IsInvalidDomain(err error) bool { return errors.Is(err, ErrInvalidDomain) }

// IsDuplicate reports whether err represents ErrDuplicateDomain.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicateDomain) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
