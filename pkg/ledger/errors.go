package ledger

import "errors"

// Errors surfaced to callers. The first five carry the exact messages existing
// clients match on.
var (
	ErrInvalidProof      = errors.New("MerkleDistributor: Invalid proof.")
	ErrNotOwner          = errors.New("Ownable: caller is not the owner")
	ErrNotMaintainer     = errors.New("onlyMaintainer: caller is not the maintainer")
	ErrInsufficientFunds = errors.New("Address: insufficient balance")
	ErrZeroOwner         = errors.New("Ownable: new owner is the zero address")

	ErrAlreadyInitialized = errors.New("ledger: already initialized")
	ErrNotInitialized     = errors.New("ledger: not initialized")
	ErrInvalidAmount      = errors.New("ledger: amount must be a non-negative integer")
	ErrAmountOverflow     = errors.New("ledger: amount overflows 256 bits")
	ErrZeroDestination    = errors.New("ledger: destination is the zero address")
	ErrConcurrentUpdate   = errors.New("ledger: state changed by another writer, retry")
)

// IsCallerError reports whether err was caused by the request rather than by the
// ledger or its storage.
func IsCallerError(err error) bool {
	for _, target := range []error{
		ErrInvalidProof,
		ErrNotOwner,
		ErrNotMaintainer,
		ErrInsufficientFunds,
		ErrZeroOwner,
		ErrAlreadyInitialized,
		ErrNotInitialized,
		ErrInvalidAmount,
		ErrAmountOverflow,
		ErrZeroDestination,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
