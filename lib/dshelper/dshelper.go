package dshelper

import (
	"fmt"
	"os"

	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/dshelper/txndswrap"
	badger "github.com/textileio/go-ds-badger3"
)

// NewBadgerTxnDatastore returns a new txndswrap.TxnDatastore backed by Badger.
func NewBadgerTxnDatastore(repoPath string) (txndswrap.TxnDatastore, error) {
	if err := os.MkdirAll(repoPath, os.ModePerm); err != nil {
		return nil, fmt.Errorf("making repo directory: %v", err)
	}
	d, err := badger.NewDatastore(repoPath, &badger.DefaultOptions)
	if err != nil {
		return nil, fmt.Errorf("opening badger datastore: %v", err)
	}
	return d, nil
}
