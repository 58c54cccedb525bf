package design

import "fmt"

var (
	// ErrShapeMismatch matches any *ShapeMismatchError via errors.Is.
	ErrShapeMismatch = &ShapeMismatchError{}
	// ErrNoCriterion matches any *NoCriterionError via errors.Is.
	ErrNoCriterion = &NoCriterionError{}
	// ErrEmptyCollection matches any *EmptyCollectionError via errors.Is.
	ErrEmptyCollection = &EmptyCollectionError{}
)

// ShapeMismatchError reports a design whose shape differs from the first one.
type ShapeMismatchError struct {
	Index      int
	Rows, Cols int
	WantRows   int
	WantCols   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("design %d is %d×%d, want %d×%d", e.Index, e.Rows, e.Cols, e.WantRows, e.WantCols)
}

func (e *ShapeMismatchError) Is(target error) bool {
	_, ok := target.(*ShapeMismatchError)
	return ok
}

// NoCriterionError reports a ranking request on a collection without a criterion.
type NoCriterionError struct {
	Op string
}

func (e *NoCriterionError) Error() string {
	if e.Op == "" {
		return "collection has no criterion"
	}
	return e.Op + ": collection has no criterion"
}

func (e *NoCriterionError) Is(target error) bool {
	_, ok := target.(*NoCriterionError)
	return ok
}

// EmptyCollectionError reports a shape query on a collection without designs.
type EmptyCollectionError struct {
	Op string
}

func (e *EmptyCollectionError) Error() string {
	if e.Op == "" {
		return "collection is empty"
	}
	return e.Op + ": collection is empty"
}

func (e *EmptyCollectionError) Is(target error) bool {
	_, ok := target.(*EmptyCollectionError)
	return ok
}
