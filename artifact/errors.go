package artifact

import "fmt"

var (
	// ErrNotFound is returned when no artifact exists for the given
	// project / id pair.
	ErrNotFound = fmt.Errorf("artifact not found")
)
