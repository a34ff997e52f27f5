package types

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDuplicateWallet          = errors.New("wallet with same derivation fingerprint already exists")
	ErrUnknownWallet            = errors.New("unknown wallet")
	ErrStaleSequence            = errors.New("stale sequence")
	ErrUnknownOutput            = errors.New("unknown output")
	ErrAlreadySpent             = errors.New("output already spent")
	ErrDuplicateTransaction     = errors.New("duplicate transaction")
	ErrInvalidPassphrase        = errors.New("invalid passphrase")
	ErrUnsupportedBackupVersion = errors.New("unsupported backup version")

	ErrInvalidAddressKind = errors.New("invalid address kind")
	ErrAddressConflict    = errors.New("conflicting address for same kind and index")
	ErrMissingSpentBy     = errors.New("spent output without spending reference")
	ErrSnapshotMismatch   = errors.New("snapshot belongs to a different wallet")
)

// Source identifies one of the two remote collaborators of the sync engine.
type Source string

const (
	SourceChain      Source = "chain source"
	SourceSettlement Source = "settlement server"
)

// StaleSequenceError carries the sequences that caused the rejection.
type StaleSequenceError struct {
	WalletID string
	Expected uint64
	Got      uint64
}

func (e *StaleSequenceError) Error() string {
	return fmt.Sprintf(
		"%s for wallet %s: store is at %d, got %d",
		ErrStaleSequence, e.WalletID, e.Expected, e.Got,
	)
}

func (e *StaleSequenceError) Unwrap() error {
	return ErrStaleSequence
}

// RemoteUnavailableError is returned once the bounded retries against a
// remote collaborator are exhausted.
type RemoteUnavailableError struct {
	Source Source
	Err    error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Source, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error {
	return e.Err
}

// SyncPartialError aborts a sync cycle without applying anything. Source
// tells which collaborator failed so callers can retry selectively.
type SyncPartialError struct {
	WalletID string
	Source   Source
	Err      error
}

func (e *SyncPartialError) Error() string {
	return fmt.Sprintf("sync of wallet %s aborted, %s failed: %s", e.WalletID, e.Source, e.Err)
}

func (e *SyncPartialError) Unwrap() error {
	return e.Err
}

// IsRetryable tells whether the caller may retry the operation that failed
// with err after refetching state.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidPassphrase),
		errors.Is(err, ErrUnsupportedBackupVersion),
		errors.Is(err, ErrAlreadySpent),
		errors.Is(err, ErrDuplicateTransaction),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrStaleSequence):
		return true
	}

	var partial *SyncPartialError
	if errors.As(err, &partial) {
		return true
	}
	var unavailable *RemoteUnavailableError
	return errors.As(err, &unavailable)
}
