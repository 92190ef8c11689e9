package proxy

import "errors"

// Instance creation failure taxonomy (spec.md §4.3): resolve failure is
// ENOENT, duplicate ip:port is EBUSY, invalid port/poolsize is EINVAL.
// These are sentinels rather than raw strings so callers can errors.Is
// against them instead of matching text.
var (
	ErrResolveFailed = errors.New("vkcproxy: ENOENT: could not resolve backend address")
	ErrDuplicate     = errors.New("vkcproxy: EBUSY: instance already registered")
	ErrInvalidArgs   = errors.New("vkcproxy: EINVAL: invalid port or pool size")
)

// errNoSlotAssignments signals a CLUSTER NODES reply that parsed but
// named no slot assignments (e.g. a cluster still in bootstrap on the
// backend side); the caller retries on the next tick.
var errNoSlotAssignments = errors.New("vkcproxy: CLUSTER NODES reply named no slot assignments")

func errUnavailable(addr string) error {
	return errors.New("vkcproxy: backend " + addr + " unavailable")
}

// InstanceError wraps one of the sentinels above with the offending
// address, so logs and admin replies carry context without losing
// errors.Is compatibility.
type InstanceError struct {
	Addr string
	Err  error
}

func (e *InstanceError) Error() string {
	return e.Err.Error() + ": " + e.Addr
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}
