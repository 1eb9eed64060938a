package fabric

import "fmt"

// InconsistentError is returned when an operation is asked to act on an
// interface or pair of interfaces that do not have the relationship the
// caller assumed (attach an already-attached interface, link/detach one
// that isn't attached to this network).
type InconsistentError string

func (e InconsistentError) Error() string {
	return fmt.Sprintf("inconsistent network state: %s", string(e))
}

// BadRequest denotes the type of this error.
func (e InconsistentError) BadRequest() {}

// CapacityExceededError is returned when attaching would push a network
// past the number of interfaces its topology allows (a point-to-point
// network accepts exactly two).
type CapacityExceededError struct {
	Bridge string
	Limit  int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("bridge %s already has %d attached interfaces", e.Bridge, e.Limit)
}

// Forbidden denotes the type of this error.
func (e *CapacityExceededError) Forbidden() {}

// NameTooLongError is returned when a derived bridge or veth device name
// would exceed the kernel's IFNAMSIZ-1 byte limit.
type NameTooLongError string

func (e NameTooLongError) Error() string {
	return fmt.Sprintf("device name %q exceeds 15 bytes", string(e))
}

// BadRequest denotes the type of this error.
func (e NameTooLongError) BadRequest() {}

// ConflictError is returned when a name or identifier collides with one
// already in use.
type ConflictError string

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflicts with an existing resource: %s", string(e))
}

// Forbidden denotes the type of this error.
func (e ConflictError) Forbidden() {}

// AlreadyConfiguredError is returned by one-shot setup operations invoked
// after the state they configure has already been applied (GRE-tap keying
// or a second AddrConfig once the tap exists, control-network setters once
// Startup has assigned the bridge address).
type AlreadyConfiguredError string

func (e AlreadyConfiguredError) Error() string {
	return fmt.Sprintf("already configured: %s", string(e))
}

// Forbidden denotes the type of this error.
func (e AlreadyConfiguredError) Forbidden() {}

// UnknownPolicyError is returned when a network's filter policy is neither
// Accept nor Drop.
type UnknownPolicyError int

func (e UnknownPolicyError) Error() string {
	return fmt.Sprintf("unknown filter policy: %d", int(e))
}

// BadRequest denotes the type of this error.
func (e UnknownPolicyError) BadRequest() {}

// NotFoundError is returned when a lookup by id finds nothing.
type NotFoundError string

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", string(e))
}

// NotFound denotes the type of this error.
func (e NotFoundError) NotFound() {}
