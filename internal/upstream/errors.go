package upstream

import (
	"errors"
	"fmt"
)

// Sentinel errors for gateway failures.
var (
	ErrNetwork        = errors.New("network error")
	ErrTimeout        = fmt.Errorf("%w: timeout", ErrNetwork)
	ErrConfiguration  = errors.New("upstream configuration error")
	ErrInvalidMethod  = errors.New("method not supported")
	ErrInvalidPayload = errors.New("upstream returned invalid payload")
)

// Error is a non-2xx response from the provider. Body holds the raw
// response text, unparsed.
type Error struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("Request failed: %s", e.Status)
}

// AsError returns the provider error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
