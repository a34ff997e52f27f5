package arkive

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized     = errors.New("engine not initialized")
	ErrAlreadyInitialized = errors.New("engine already initialized")
	ErrEngineClosed       = errors.New("engine closed")
	ErrNetworkMismatch    = errors.New("network mismatch")
)

type DigestMismatchError struct {
	Expected string
	Actual   string
}

func (e DigestMismatchError) Error() string {
	return fmt.Sprintf("backup digest mismatch: expected %s, actual %s", e.Expected, e.Actual)
}
