// Package contract reports programming errors made by allocator callers:
// freeing memory the allocator does not own, double release, decommitting
// pages that are not committed, and use before initialization.
//
// A violation is returned as an error wrapping ErrViolation and logged at
// error level. In strict mode (MEMKIT_STRICT_CONTRACTS set, or SetStrict(true)
// in tests) the violation panics instead, which turns misuse into an
// immediate trap at the offending call.
package contract

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/joshuapare/memkit/internal/logger"
)

// ErrViolation is wrapped by every contract violation.
var ErrViolation = errors.New("contract violation")

var strict atomic.Bool

func init() {
	strict.Store(os.Getenv("MEMKIT_STRICT_CONTRACTS") != "")
}

// Violation describes a single misuse of an allocator API.
type Violation struct {
	Op  string // operation that detected the misuse, e.g. "heap.Free"
	Msg string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s: %s", v.Op, ErrViolation, v.Msg)
}

func (v *Violation) Unwrap() error { return ErrViolation }

// Violationf builds a Violation for op, logs it, and returns it.
// It panics with the *Violation when strict mode is enabled.
func Violationf(op, format string, args ...any) error {
	v := &Violation{Op: op, Msg: fmt.Sprintf(format, args...)}
	logger.For("contract").WithField("op", op).Error(v.Msg)
	if strict.Load() {
		panic(v)
	}
	return v
}

// SetStrict toggles strict mode and returns the previous setting so tests
// can restore it:
//
//	defer contract.SetStrict(contract.SetStrict(true))
func SetStrict(on bool) bool {
	return strict.Swap(on)
}

// Strict reports whether violations panic.
func Strict() bool { return strict.Load() }

// Is reports whether err is a contract violation.
func Is(err error) bool { return errors.Is(err, ErrViolation) }
