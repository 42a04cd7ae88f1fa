package admission

import (
	"errors"
	"fmt"
	"time"
)

// ErrOverloaded is matched by every OverloadedError.
var ErrOverloaded = errors.New("gateway overloaded")

// OverloadedError reports that no permit became free within the wait budget.
type OverloadedError struct {
	TraceID string
	Limit   int64
	Waited  time.Duration
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("gateway overloaded: %d requests in flight, waited %s", e.Limit, e.Waited)
}

// Is makes errors.Is(err, ErrOverloaded) succeed.
func (e *OverloadedError) Is(target error) bool {
	return target == ErrOverloaded
}
