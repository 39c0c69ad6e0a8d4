package query

import (
	"fmt"

	"github.com/veridata-io/veridata-engine/pkg/driver"
)

// QueryError wraps a backend execution failure with the connection it
// came from. The driver's message is preserved verbatim.
type QueryError struct {
	Connection string
	Driver     driver.Kind
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed on %q (%s): %v", e.Connection, e.Driver, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
