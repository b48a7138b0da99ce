package ledger

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-distributor-go/pkg/types"
)

// onlyOwner and onlyMaintainer are the per-operation permission checks.
// Both expect l.mu to be held.

func (l *Ledger) onlyOwner(caller common.Address) (*types.LedgerHeader, error) {
	h, err := l.requireInitialized()
	if err != nil {
		return nil, err
	}
	if caller != h.Owner {
		return nil, ErrNotOwner
	}
	return h, nil
}

func (l *Ledger) onlyMaintainer(caller common.Address) (*types.LedgerHeader, error) {
	h, err := l.requireInitialized()
	if err != nil {
		return nil, err
	}
	if caller != h.Maintainer {
		return nil, ErrNotMaintainer
	}
	return h, nil
}

func (l *Ledger) requireInitialized() (*types.LedgerHeader, error) {
	if l.header == nil || !l.header.Initialized {
		return nil, ErrNotInitialized
	}
	return l.header, nil
}
