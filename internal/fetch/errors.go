package fetch

import "fmt"

// ErrorKind classifies a terminal fetch failure.
type ErrorKind int

// Failure taxonomy. Transient failures are retried until the attempt budget
// runs out, at which point the fetch fails with KindExhausted. Permanent
// failures (4xx other than 429, unparseable URLs) are never retried.
const (
	KindTransient ErrorKind = iota
	KindPermanent
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Error is a typed fetch failure.
type Error struct {
	Kind   ErrorKind
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}
