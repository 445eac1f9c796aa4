package volume

import (
	"fmt"
	"strings"
)

// InvalidParameterError reports a parameter value outside its valid
// range, such as a non-positive projection slice count.
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

// ShapeError reports an array whose rank or extents do not match what
// an operation requires, such as a subvolume file that is not a single
// 3D map.
type ShapeError struct {
	Got  []int
	Want string
}

func (e *ShapeError) Error() string {
	dims := make([]string, len(e.Got))
	for i, d := range e.Got {
		dims[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("unexpected array shape (%s), want %s", strings.Join(dims, ", "), e.Want)
}
