package common

// ErrVal carries the outcome of a unit of work between goroutines: a value or the error that prevented it.
type ErrVal[V any] struct {
	Err error
	Val V
}

func NewErrValE[V any](err error) ErrVal[V] {
	return ErrVal[V]{Err: err}
}

func NewErrValV[V any](val V) ErrVal[V] {
	return ErrVal[V]{Val: val}
}

// Get unpacks the outcome in the usual value, error order.
func (ev ErrVal[V]) Get() (V, error) { return ev.Val, ev.Err }
