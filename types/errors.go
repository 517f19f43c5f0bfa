package types

import "fmt"

// FetchError wraps a failure that aborted a whole window fetch, after any
// retries were exhausted.
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider %s: fetch failed: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NormalizeError marks one malformed sample. The sample is dropped and
// counted, the fetch keeps going.
type NormalizeError struct {
	Provider string
	Err      error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("provider %s: malformed sample: %v", e.Provider, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }
