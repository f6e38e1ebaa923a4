package locator

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// ErrMalformedLocator is returned for queries that can never resolve.
var ErrMalformedLocator = errors.New("malformed locator")

// ErrNoMatch is returned by operations that need an element when none exists yet.
var ErrNoMatch = errors.New("no element matches locator")

// AmbiguousLocatorError is returned when an operation requiring exactly one
// element resolves to several.
type AmbiguousLocatorError struct {
	Locator string
	Count   int
}

func (e *AmbiguousLocatorError) Error() string {
	return fmt.Sprintf("locator %s resolved to %d elements, expected exactly one", e.Locator, e.Count)
}

// IsAmbiguous checks if the error is or wraps an AmbiguousLocatorError
func IsAmbiguous(err error) bool {
	var ambiguous *AmbiguousLocatorError
	return err != nil && errors.As(err, &ambiguous)
}

// Permanent reports whether polling again cannot change the outcome of err.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformedLocator) || IsAmbiguous(err) ||
		types.IsInfrastructure(err) || types.IsAssertion(err)
}
