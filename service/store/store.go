package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/dshelper/txndswrap"
	mbase "github.com/multiformats/go-multibase"
	golog "github.com/textileio/go-log/v2"
)

const (
	// defaultListLimit is the default list page size.
	defaultListLimit = 10
	// maxListLimit is the max list page size.
	maxListLimit = 1000
)

var (
	log = golog.Logger("bidledger/store")

	// ErrAuctionNotFound indicates the requested auction was not found.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrBidNotFound indicates the requested bid was not found.
	ErrBidNotFound = errors.New("bid not found")

	// ErrSettingsNotFound indicates the ledger settings were never initialized.
	ErrSettingsNotFound = errors.New("settings not found")

	// ErrReceiptNotFound indicates the requested receipt was not found.
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrSettlementNotFound indicates the auction has no settlement in progress.
	ErrSettlementNotFound = errors.New("settlement not found")

	// dsSettingsKey holds the global ledger settings.
	// Structure: /settings -> auction.Settings.
	dsSettingsKey = ds.NewKey("/settings")

	// dsAuctionsPrefix is the prefix for auctions.
	// Structure: /auctions/<padded_auction_id> -> auction.Auction.
	dsAuctionsPrefix = ds.NewKey("/auctions")

	// dsBidsPrefix is the prefix for the latest bid of each bidder.
	// Structure: /bids/<padded_auction_id>/<encoded_bidder> -> auction.Bid.
	dsBidsPrefix = ds.NewKey("/bids")

	// dsHistoryPrefix is the prefix for bid timelines.
	// Structure: /history/<padded_auction_id> -> []auction.HistoryEntry.
	dsHistoryPrefix = ds.NewKey("/history")

	// dsSellersPrefix is the prefix for the seller index.
	// Structure: /sellers/<encoded_seller>/<padded_auction_id> -> nil.
	dsSellersPrefix = ds.NewKey("/sellers")

	// dsReceiptsPrefix is the prefix for instruction receipts.
	// Structure: /receipts/<receipt_ulid> -> auction.Receipt.
	dsReceiptsPrefix = ds.NewKey("/receipts")

	// dsSettlementsPrefix is the prefix for settlements in progress.
	// Structure: /settlements/<padded_auction_id> -> auction.Settlement.
	dsSettlementsPrefix = ds.NewKey("/settlements")
)

// Store persists ledger state in a transactional datastore.
type Store struct {
	store txndswrap.TxnDatastore
}

// NewStore returns a new Store.
func NewStore(store txndswrap.TxnDatastore) *Store {
	return &Store{store: store}
}

// Txn is a ledger state transaction. Nothing written through a Txn is visible
// to other readers until Commit.
type Txn struct {
	ctx context.Context
	txn ds.Txn
}

// NewTxn opens a transaction.
func (s *Store) NewTxn(ctx context.Context, readOnly bool) (*Txn, error) {
	txn, err := s.store.NewTransaction(ctx, readOnly)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	return &Txn{ctx: ctx, txn: txn}, nil
}

// Commit the transaction.
func (t *Txn) Commit() error {
	if err := t.txn.Commit(t.ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}
	return nil
}

// Discard the transaction. It is safe to call after Commit.
func (t *Txn) Discard() {
	t.txn.Discard(t.ctx)
}

// InitSettings writes defaults if the ledger has no settings yet and returns
// the effective settings.
func (s *Store) InitSettings(ctx context.Context, defaults auction.Settings) (auction.Settings, error) {
	txn, err := s.NewTxn(ctx, false)
	if err != nil {
		return auction.Settings{}, err
	}
	defer txn.Discard()

	current, err := txn.GetSettings()
	if err == nil {
		return current, nil
	} else if !errors.Is(err, ErrSettingsNotFound) {
		return auction.Settings{}, err
	}
	if err := defaults.Validate(); err != nil {
		return auction.Settings{}, fmt.Errorf("invalid default settings: %w", err)
	}
	if err := txn.PutSettings(defaults); err != nil {
		return auction.Settings{}, err
	}
	if err := txn.Commit(); err != nil {
		return auction.Settings{}, err
	}
	log.Infof("initialized ledger settings: %+v", defaults)
	return defaults, nil
}

// GetSettings returns the ledger settings.
func (s *Store) GetSettings(ctx context.Context) (auction.Settings, error) {
	txn, err := s.NewTxn(ctx, true)
	if err != nil {
		return auction.Settings{}, err
	}
	defer txn.Discard()
	return txn.GetSettings()
}

// GetAuction returns an auction by id.
// If an auction is not found for id, ErrAuctionNotFound is returned.
func (s *Store) GetAuction(ctx context.Context, id auction.ID) (*auction.Auction, error) {
	txn, err := s.NewTxn(ctx, true)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()
	return txn.GetAuction(id)
}

// GetBid returns the latest bid of bidder in an auction.
// If there's no such bid, ErrBidNotFound is returned.
func (s *Store) GetBid(ctx context.Context, id auction.ID, bidder auction.Principal) (*auction.Bid, error) {
	txn, err := s.NewTxn(ctx, true)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()
	return txn.GetBid(id, bidder)
}

// GetHistory returns the bid timeline of an auction, oldest first.
// A missing timeline is returned as an empty slice.
func (s *Store) GetHistory(ctx context.Context, id auction.ID) ([]auction.HistoryEntry, error) {
	txn, err := s.NewTxn(ctx, true)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()
	return txn.GetHistory(id)
}

// GetSellerAuctions returns the auction ids created by seller in creation order.
func (s *Store) GetSellerAuctions(ctx context.Context, seller auction.Principal) ([]auction.ID, error) {
	txn, err := s.NewTxn(ctx, true)
	if err != nil {
		return nil, err
	}
	defer txn.Discard()
	return txn.GetSellerAuctions(seller)
}

// GetReceipt returns a receipt by id.
func (s *Store) GetReceipt(ctx context.Context, id string) (*auction.Receipt, error) {
	val, err := s.store.Get(ctx, dsReceiptsPrefix.ChildString(id))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrReceiptNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	r := &auction.Receipt{}
	if err := decode(val, r); err != nil {
		return nil, fmt.Errorf("decoding value: %v", err)
	}
	return r, nil
}

// PutSettlement saves settlement progress in its own transaction.
func (s *Store) PutSettlement(ctx context.Context, st *auction.Settlement) error {
	txn, err := s.NewTxn(ctx, false)
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := txn.PutSettlement(st); err != nil {
		return err
	}
	return txn.Commit()
}

// Query is used to page through auctions or receipts.
// Offset is the id of the last item of the previous page.
type Query struct {
	Offset string
	Order  Order
	Limit  int
}

func (q Query) setDefaults() Query {
	if q.Limit == -1 {
		q.Limit = maxListLimit
	} else if q.Limit <= 0 {
		q.Limit = defaultListLimit
	} else if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	return q
}

// Order specifies the order of list results.
// Default is descending by creation.
type Order int

const (
	// OrderDescending orders results descending.
	OrderDescending Order = iota
	// OrderAscending orders results ascending.
	OrderAscending
)

// ListAuctions lists auctions by applying a Query. Offset is a decimal auction id.
func (s *Store) ListAuctions(ctx context.Context, query Query) ([]*auction.Auction, error) {
	var offset string
	if query.Offset != "" {
		id, err := strconv.ParseUint(query.Offset, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing offset: %v", err)
		}
		offset = auctionKey(auction.ID(id)).String()
	}
	var list []*auction.Auction
	err := s.list(ctx, dsAuctionsPrefix, offset, query, func(val []byte) error {
		a := &auction.Auction{}
		if err := decode(val, a); err != nil {
			return err
		}
		list = append(list, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListReceipts lists receipts by applying a Query. Offset is a receipt id.
func (s *Store) ListReceipts(ctx context.Context, query Query) ([]*auction.Receipt, error) {
	var offset string
	if query.Offset != "" {
		offset = dsReceiptsPrefix.ChildString(query.Offset).String()
	}
	var list []*auction.Receipt
	err := s.list(ctx, dsReceiptsPrefix, offset, query, func(val []byte) error {
		r := &auction.Receipt{}
		if err := decode(val, r); err != nil {
			return err
		}
		list = append(list, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (s *Store) list(ctx context.Context, prefix ds.Key, offset string, query Query, each func([]byte) error) error {
	query = query.setDefaults()

	q := dsq.Query{
		Prefix: prefix.String(),
		Limit:  query.Limit,
	}
	switch query.Order {
	case OrderDescending:
		q.Orders = []dsq.Order{dsq.OrderByKeyDescending{}}
		if offset != "" {
			q.Filters = []dsq.Filter{dsq.FilterKeyCompare{Op: dsq.LessThan, Key: offset}}
		}
	case OrderAscending:
		q.Orders = []dsq.Order{dsq.OrderByKey{}}
		if offset != "" {
			q.Filters = []dsq.Filter{dsq.FilterKeyCompare{Op: dsq.GreaterThan, Key: offset}}
		}
	}

	results, err := s.store.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("querying %s: %v", prefix, err)
	}
	defer func() {
		if err := results.Close(); err != nil {
			log.Errorf("closing results: %v", err)
		}
	}()

	for res := range results.Next() {
		if res.Error != nil {
			return fmt.Errorf("getting next result: %v", res.Error)
		}
		if err := each(res.Value); err != nil {
			return fmt.Errorf("decoding value: %v", err)
		}
	}
	return nil
}

// GetSettings returns the ledger settings.
func (t *Txn) GetSettings() (auction.Settings, error) {
	var set auction.Settings
	val, err := t.txn.Get(t.ctx, dsSettingsKey)
	if errors.Is(err, ds.ErrNotFound) {
		return set, ErrSettingsNotFound
	} else if err != nil {
		return set, fmt.Errorf("getting key: %v", err)
	}
	if err := decode(val, &set); err != nil {
		return set, fmt.Errorf("decoding value: %v", err)
	}
	return set, nil
}

// PutSettings overwrites the ledger settings.
func (t *Txn) PutSettings(set auction.Settings) error {
	return t.put(dsSettingsKey, set)
}

// GetAuction returns an auction by id.
// If an auction is not found for id, ErrAuctionNotFound is returned.
func (t *Txn) GetAuction(id auction.ID) (*auction.Auction, error) {
	val, err := t.txn.Get(t.ctx, auctionKey(id))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrAuctionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	a := &auction.Auction{}
	if err := decode(val, a); err != nil {
		return nil, fmt.Errorf("decoding value: %v", err)
	}
	return a, nil
}

// PutAuction saves an auction.
func (t *Txn) PutAuction(a *auction.Auction) error {
	return t.put(auctionKey(a.ID), a)
}

// GetBid returns the latest bid of bidder in an auction.
// If there's no such bid, ErrBidNotFound is returned.
func (t *Txn) GetBid(id auction.ID, bidder auction.Principal) (*auction.Bid, error) {
	key, err := bidKey(id, bidder)
	if err != nil {
		return nil, err
	}
	val, err := t.txn.Get(t.ctx, key)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrBidNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	b := &auction.Bid{}
	if err := decode(val, b); err != nil {
		return nil, fmt.Errorf("decoding value: %v", err)
	}
	return b, nil
}

// PutBid overwrites the latest bid of a bidder.
func (t *Txn) PutBid(b auction.Bid) error {
	key, err := bidKey(b.AuctionID, b.Bidder)
	if err != nil {
		return err
	}
	return t.put(key, b)
}

// GetHistory returns the bid timeline of an auction, oldest first.
func (t *Txn) GetHistory(id auction.ID) ([]auction.HistoryEntry, error) {
	val, err := t.txn.Get(t.ctx, dsHistoryPrefix.Child(idKey(id)))
	if errors.Is(err, ds.ErrNotFound) {
		return []auction.HistoryEntry{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	var h []auction.HistoryEntry
	if err := decode(val, &h); err != nil {
		return nil, fmt.Errorf("decoding value: %v", err)
	}
	return h, nil
}

// AppendHistory appends an entry to the bid timeline of an auction.
func (t *Txn) AppendHistory(id auction.ID, e auction.HistoryEntry) error {
	h, err := t.GetHistory(id)
	if err != nil {
		return err
	}
	return t.put(dsHistoryPrefix.Child(idKey(id)), append(h, e))
}

// GetSellerAuctions returns the auction ids created by seller in creation order.
func (t *Txn) GetSellerAuctions(seller auction.Principal) ([]auction.ID, error) {
	prefix, err := sellerPrefix(seller)
	if err != nil {
		return nil, err
	}
	results, err := t.txn.Query(t.ctx, dsq.Query{
		Prefix:   prefix.String(),
		Orders:   []dsq.Order{dsq.OrderByKey{}},
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying seller index: %v", err)
	}
	defer func() {
		if err := results.Close(); err != nil {
			log.Errorf("closing results: %v", err)
		}
	}()

	ids := []auction.ID{}
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		id, err := strconv.ParseUint(path.Base(res.Key), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing auction id from %s: %v", res.Key, err)
		}
		ids = append(ids, auction.ID(id))
	}
	return ids, nil
}

// AddSellerAuction indexes an auction under its seller.
func (t *Txn) AddSellerAuction(seller auction.Principal, id auction.ID) error {
	prefix, err := sellerPrefix(seller)
	if err != nil {
		return err
	}
	if err := t.txn.Put(t.ctx, prefix.Child(idKey(id)), nil); err != nil {
		return fmt.Errorf("putting seller index: %v", err)
	}
	return nil
}

// PutReceipt journals a receipt.
func (t *Txn) PutReceipt(r *auction.Receipt) error {
	if r.ID == "" {
		return errors.New("receipt id is empty")
	}
	return t.put(dsReceiptsPrefix.ChildString(r.ID), r)
}

// GetSettlement returns the settlement in progress for an auction.
// If there is none, ErrSettlementNotFound is returned.
func (t *Txn) GetSettlement(id auction.ID) (*auction.Settlement, error) {
	val, err := t.txn.Get(t.ctx, dsSettlementsPrefix.Child(idKey(id)))
	if errors.Is(err, ds.ErrNotFound) {
		return nil, ErrSettlementNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting key: %v", err)
	}
	st := &auction.Settlement{}
	if err := decode(val, st); err != nil {
		return nil, fmt.Errorf("decoding value: %v", err)
	}
	return st, nil
}

// PutSettlement saves the settlement progress of an auction.
func (t *Txn) PutSettlement(st *auction.Settlement) error {
	return t.put(dsSettlementsPrefix.Child(idKey(st.AuctionID)), st)
}

// DeleteSettlement forgets the settlement progress of an auction.
func (t *Txn) DeleteSettlement(id auction.ID) error {
	if err := t.txn.Delete(t.ctx, dsSettlementsPrefix.Child(idKey(id))); err != nil {
		return fmt.Errorf("deleting settlement: %v", err)
	}
	return nil
}

func (t *Txn) put(key ds.Key, v interface{}) error {
	val, err := encode(v)
	if err != nil {
		return fmt.Errorf("encoding value: %v", err)
	}
	if err := t.txn.Put(t.ctx, key, val); err != nil {
		return fmt.Errorf("putting value: %v", err)
	}
	return nil
}

// idKey pads ids so lexicographic key order matches numeric order.
func idKey(id auction.ID) ds.Key {
	return ds.NewKey(fmt.Sprintf("%020d", uint64(id)))
}

func auctionKey(id auction.ID) ds.Key {
	return dsAuctionsPrefix.Child(idKey(id))
}

func bidKey(id auction.ID, bidder auction.Principal) (ds.Key, error) {
	enc, err := encodePrincipal(bidder)
	if err != nil {
		return ds.Key{}, err
	}
	return dsBidsPrefix.Child(idKey(id)).ChildString(enc), nil
}

func sellerPrefix(seller auction.Principal) (ds.Key, error) {
	enc, err := encodePrincipal(seller)
	if err != nil {
		return ds.Key{}, err
	}
	return dsSellersPrefix.ChildString(enc), nil
}

// encodePrincipal makes a principal safe to use as a key segment.
func encodePrincipal(p auction.Principal) (string, error) {
	if p == "" {
		return "", errors.New("principal is empty")
	}
	enc, err := mbase.Encode(mbase.Base32, []byte(p))
	if err != nil {
		return "", fmt.Errorf("encoding principal: %v", err)
	}
	return strings.ToLower(enc), nil
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(v []byte, out interface{}) error {
	return gob.NewDecoder(bytes.NewReader(v)).Decode(out)
}
