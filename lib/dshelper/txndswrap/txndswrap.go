package txndswrap

import (
	ds "github.com/ipfs/go-datastore"
)

// TxnDatastore is a datastore that supports transactions and batching.
type TxnDatastore interface {
	ds.TxnDatastore
	ds.Batching
}
