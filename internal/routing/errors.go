package routing

import "errors"

var (
	// ErrNoAvailableArms is returned when no active, non-excluded arm
	// outside its cooldown matches the request.
	ErrNoAvailableArms = errors.New("no available arms")

	// ErrConflict is returned by Report when every compare-and-swap attempt
	// lost to a concurrent writer. Callers only log it.
	ErrConflict = errors.New("arm stats conflict")

	// ErrArmNotFound is returned by stores for an unknown arm id.
	ErrArmNotFound = errors.New("arm not found")
)
