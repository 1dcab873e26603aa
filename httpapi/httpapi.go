package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/buildinfo"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/ledger"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/store"
	"github.com/textileio/go-libp2p-pubsub-rpc/peer"
	golog "github.com/textileio/go-log/v2"
)

var (
	log = golog.Logger("bidledger/api")
)

const (
	// PrincipalHeader carries the acting principal of a request.
	PrincipalHeader = "X-Principal"
	// RequestIDHeader carries the request id. One is generated if missing.
	RequestIDHeader = "X-Request-Id"
)

// Service provides scoped access to the ledger service.
type Service interface {
	PeerInfo() (*peer.Info, error)
	Height(ctx context.Context) (uint64, error)
	Admin() auction.Principal
	Settings(ctx context.Context) (auction.Settings, error)
	AuctionCount(ctx context.Context) (uint64, error)

	SetEscrowContract(ctx context.Context, caller, contract auction.Principal) error
	SetOracleContract(ctx context.Context, caller, contract auction.Principal) error
	SetPlatformFeeRate(ctx context.Context, caller auction.Principal, rate uint64) error
	SetAntiSnipingDuration(ctx context.Context, caller auction.Principal, duration uint64) error

	CreateAuction(ctx context.Context, caller auction.Principal, params ledger.CreateParams) (auction.ID, error)
	PlaceBid(ctx context.Context, caller auction.Principal, id auction.ID, amount uint64) error
	EndAuction(ctx context.Context, caller auction.Principal, id auction.ID) (auction.Principal, error)

	GetAuction(ctx context.Context, id auction.ID) (*auction.Auction, error)
	GetBid(ctx context.Context, id auction.ID, bidder auction.Principal) (*auction.Bid, error)
	GetHistory(ctx context.Context, id auction.ID) ([]auction.HistoryEntry, error)
	GetSellerAuctions(ctx context.Context, seller auction.Principal) ([]auction.ID, error)
	IsAuctionActive(ctx context.Context, id auction.ID) (bool, error)
	ListAuctions(ctx context.Context, query store.Query) ([]*auction.Auction, error)
	GetReceipt(ctx context.Context, id string) (*auction.Receipt, error)
	ListReceipts(ctx context.Context, query store.Query) ([]*auction.Receipt, error)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code  auction.Code `json:"code,omitempty"`
	Error string       `json:"error"`
}

// ConfigResponse is the body of GET /config.
type ConfigResponse struct {
	auction.Settings
	Admin auction.Principal `json:"admin"`
}

// CountResponse is the body of GET /count.
type CountResponse struct {
	Count uint64 `json:"count"`
}

// HeightResponse is the body of GET /height.
type HeightResponse struct {
	Height uint64 `json:"height"`
}

// ActiveResponse is the body of GET /auctions/{id}/active.
type ActiveResponse struct {
	Active bool `json:"active"`
}

// CreatedResponse is the body of POST /auctions.
type CreatedResponse struct {
	ID auction.ID `json:"id"`
}

// BidRequest is the body of POST /auctions/{id}/bids.
type BidRequest struct {
	Amount uint64 `json:"amount"`
}

// EndResponse is the body of POST /auctions/{id}/end. Winner is empty when
// the auction closed without bids.
type EndResponse struct {
	Winner auction.Principal `json:"winner"`
}

// ContractRequest is the body of PUT /admin/escrow and PUT /admin/oracle.
type ContractRequest struct {
	Contract auction.Principal `json:"contract"`
}

// ValueRequest is the body of PUT /admin/fee-rate and PUT /admin/anti-sniping.
type ValueRequest struct {
	Value uint64 `json:"value"`
}

// NewServer returns a new http server for ledger commands.
func NewServer(listenAddr string, service Service) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: withRequestID(createMux(service)),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(service Service) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(healthHandler))
	mux.HandleFunc("/version", getOnly(versionHandler))
	mux.HandleFunc("/id", getOnly(idHandler(service)))
	mux.HandleFunc("/config", getOnly(configHandler(service)))
	mux.HandleFunc("/count", getOnly(countHandler(service)))
	mux.HandleFunc("/height", getOnly(heightHandler(service)))
	// allow both with and without trailing slash
	auctions := auctionsHandler(service)
	mux.HandleFunc("/auctions", auctions)
	mux.HandleFunc("/auctions/", auctions)
	mux.HandleFunc("/admin/", putOnly(adminHandler(service)))
	receipts := getOnly(receiptsHandler(service))
	mux.HandleFunc("/receipts", receipts)
	mux.HandleFunc("/receipts/", receipts)
	return mux
}

func withRequestID(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		log.Debugf("%s %s %s (%s)", id, r.Method, r.URL.Path, r.Header.Get(PrincipalHeader))
		h.ServeHTTP(w, r)
	})
}

func getOnly(f http.HandlerFunc) http.HandlerFunc {
	return methodOnly(http.MethodGet, f)
}

func putOnly(f http.HandlerFunc) http.HandlerFunc {
	return methodOnly(http.MethodPut, f)
}

func methodOnly(method string, f http.HandlerFunc) http.HandlerFunc {
	msg := fmt.Sprintf("only %s method is allowed", method)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			httpError(w, msg, http.StatusMethodNotAllowed)
			return
		}
		f(w, r)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(buildinfo.Summary()))
}

func idHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := service.PeerInfo()
		if err != nil {
			httpError(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func configHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		set, err := service.Settings(r.Context())
		if err != nil {
			writeError(w, fmt.Errorf("getting settings: %w", err))
			return
		}
		writeJSON(w, http.StatusOK, ConfigResponse{Settings: set, Admin: service.Admin()})
	}
}

func countHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := service.AuctionCount(r.Context())
		if err != nil {
			writeError(w, fmt.Errorf("getting auction count: %w", err))
			return
		}
		writeJSON(w, http.StatusOK, CountResponse{Count: n})
	}
}

func heightHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := service.Height(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, HeightResponse{Height: h})
	}
}

// auctionsHandler routes everything under /auctions:
//   GET  /auctions
//   POST /auctions
//   GET  /auctions/{id}
//   GET  /auctions/{id}/active
//   GET  /auctions/{id}/history
//   GET  /auctions/{id}/bids/{bidder}
//   POST /auctions/{id}/bids
//   POST /auctions/{id}/end
func auctionsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r.URL.Path)[1:]
		if len(parts) == 0 {
			switch r.Method {
			case http.MethodGet:
				listAuctions(w, r, service)
			case http.MethodPost:
				createAuction(w, r, service)
			default:
				httpError(w, "only GET and POST methods are allowed", http.StatusMethodNotAllowed)
			}
			return
		}

		id, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			httpError(w, fmt.Sprintf("parsing auction id: %s", err), http.StatusBadRequest)
			return
		}
		aid := auction.ID(id)
		route := strings.Join(parts[1:], "/")
		switch {
		case route == "" && r.Method == http.MethodGet:
			getAuction(w, r, service, aid)
		case route == "active" && r.Method == http.MethodGet:
			active, err := service.IsAuctionActive(r.Context(), aid)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, ActiveResponse{Active: active})
		case route == "history" && r.Method == http.MethodGet:
			history, err := service.GetHistory(r.Context(), aid)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, history)
		case len(parts) == 3 && parts[1] == "bids" && r.Method == http.MethodGet:
			getBid(w, r, service, aid, auction.Principal(parts[2]))
		case route == "bids" && r.Method == http.MethodPost:
			placeBid(w, r, service, aid)
		case route == "end" && r.Method == http.MethodPost:
			winner, err := service.EndAuction(r.Context(), caller(r), aid)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, EndResponse{Winner: winner})
		default:
			httpError(w, fmt.Sprintf("%s %s not found", r.Method, r.URL.Path), http.StatusNotFound)
		}
	}
}

func listAuctions(w http.ResponseWriter, r *http.Request, service Service) {
	q := r.URL.Query()
	if seller := q.Get("seller"); seller != "" {
		ids, err := service.GetSellerAuctions(r.Context(), auction.Principal(seller))
		if err != nil {
			writeError(w, fmt.Errorf("getting seller auctions: %w", err))
			return
		}
		list := make([]*auction.Auction, 0, len(ids))
		for _, id := range ids {
			a, err := service.GetAuction(r.Context(), id)
			if err != nil {
				writeError(w, fmt.Errorf("getting auction %d: %w", id, err))
				return
			}
			if a != nil {
				list = append(list, a)
			}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}

	query, err := parseQuery(r)
	if err != nil {
		httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if query.Offset != "" {
		if _, err := strconv.ParseUint(query.Offset, 10, 64); err != nil {
			httpError(w, fmt.Sprintf("parsing offset: %s", err), http.StatusBadRequest)
			return
		}
	}
	list, err := service.ListAuctions(r.Context(), query)
	if err != nil {
		writeError(w, fmt.Errorf("listing auctions: %w", err))
		return
	}
	if list == nil {
		list = []*auction.Auction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// createFieldCodes maps create request fields to the code of their validation
// failure, for values that don't even decode (e.g. negative heights).
var createFieldCodes = map[string]auction.Code{
	"startTime":       auction.ErrInvalidStartTime,
	"endTime":         auction.ErrInvalidEndTime,
	"reservePrice":    auction.ErrInvalidReservePrice,
	"minIncrement":    auction.ErrInvalidMinIncrement,
	"itemDescription": auction.ErrInvalidItemDescription,
	"tokenType":       auction.ErrInvalidToken,
	"location":        auction.ErrInvalidLocation,
	"currency":        auction.ErrInvalidCurrency,
}

func createAuction(w http.ResponseWriter, r *http.Request, service Service) {
	var params ledger.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			if code, ok := createFieldCodes[typeErr.Field]; ok {
				writeError(w, fmt.Errorf("%w: %v", code, err))
				return
			}
		}
		httpError(w, fmt.Sprintf("decoding auction: %s", err), http.StatusBadRequest)
		return
	}
	id, err := service.CreateAuction(r.Context(), caller(r), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreatedResponse{ID: id})
}

func getAuction(w http.ResponseWriter, r *http.Request, service Service, id auction.ID) {
	a, err := service.GetAuction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if a == nil {
		writeError(w, auction.ErrAuctionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func getBid(w http.ResponseWriter, r *http.Request, service Service, id auction.ID, bidder auction.Principal) {
	b, err := service.GetBid(r.Context(), id, bidder)
	if err != nil {
		writeError(w, err)
		return
	}
	if b == nil {
		httpError(w, "bid not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func placeBid(w http.ResponseWriter, r *http.Request, service Service, id auction.ID) {
	var req BidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", auction.ErrInvalidBidAmount, err))
		return
	}
	if err := service.PlaceBid(r.Context(), caller(r), id, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	getAuction(w, r, service, id)
}

func adminHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r.URL.Path)
		if len(parts) != 2 {
			httpError(w, fmt.Sprintf("%s not found", r.URL.Path), http.StatusNotFound)
			return
		}
		ctx := r.Context()
		var err error
		switch parts[1] {
		case "escrow", "oracle":
			var req ContractRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
				return
			}
			if parts[1] == "escrow" {
				err = service.SetEscrowContract(ctx, caller(r), req.Contract)
			} else {
				err = service.SetOracleContract(ctx, caller(r), req.Contract)
			}
		case "fee-rate", "anti-sniping":
			var req ValueRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpError(w, fmt.Sprintf("decoding request: %s", err), http.StatusBadRequest)
				return
			}
			if parts[1] == "fee-rate" {
				err = service.SetPlatformFeeRate(ctx, caller(r), req.Value)
			} else {
				err = service.SetAntiSnipingDuration(ctx, caller(r), req.Value)
			}
		default:
			httpError(w, fmt.Sprintf("%s not found", r.URL.Path), http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		configHandler(service)(w, r)
	}
}

// receiptsHandler routes everything under /receipts:
//   GET /receipts
//   GET /receipts/{id}
func receiptsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		parts := pathParts(r.URL.Path)[1:]
		switch len(parts) {
		case 0:
		case 1:
			getReceipt(w, r, service, parts[0])
			return
		default:
			httpError(w, fmt.Sprintf("%s not found", r.URL.Path), http.StatusNotFound)
			return
		}
		query, err := parseQuery(r)
		if err != nil {
			httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		list, err := service.ListReceipts(r.Context(), query)
		if err != nil {
			writeError(w, fmt.Errorf("listing receipts: %w", err))
			return
		}
		if list == nil {
			list = []*auction.Receipt{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func getReceipt(w http.ResponseWriter, r *http.Request, service Service, id string) {
	rec, err := service.GetReceipt(r.Context(), id)
	if err != nil {
		writeError(w, fmt.Errorf("getting receipt: %w", err))
		return
	}
	if rec == nil {
		httpError(w, "receipt not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func parseQuery(r *http.Request) (store.Query, error) {
	q := r.URL.Query()
	query := store.Query{Offset: q.Get("offset")}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil {
			return store.Query{}, fmt.Errorf("parsing limit: %s", err)
		}
		query.Limit = limit
	}
	switch q.Get("order") {
	case "", "desc":
		query.Order = store.OrderDescending
	case "asc":
		query.Order = store.OrderAscending
	default:
		return store.Query{}, fmt.Errorf("invalid order %q", q.Get("order"))
	}
	return query, nil
}

func caller(r *http.Request) auction.Principal {
	return auction.Principal(strings.TrimSpace(r.Header.Get(PrincipalHeader)))
}

func pathParts(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// StatusOf maps a ledger error code to an HTTP status.
func StatusOf(code auction.Code) int {
	switch code {
	case auction.ErrNotAuthorized:
		return http.StatusForbidden
	case auction.ErrAuctionNotFound:
		return http.StatusNotFound
	case auction.ErrAuctionAlreadyExists,
		auction.ErrAuctionNotActive,
		auction.ErrAuctionEnded,
		auction.ErrAuctionNotEnded,
		auction.ErrInvalidStatus,
		auction.ErrMaxAuctionsExceeded:
		return http.StatusConflict
	case auction.ErrEscrowRejected, auction.ErrOracleRejected:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, err error) {
	if code, ok := auction.CodeOf(err); ok {
		log.Debugf("request rejected: %s", err)
		writeJSON(w, StatusOf(code), ErrorResponse{Code: code, Error: err.Error()})
		return
	}
	if errors.Is(err, context.Canceled) {
		httpError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	log.Errorf("request failed: %s", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, fmt.Sprintf("json encoding: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(data); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Debugf("request error: %s", err)
	writeJSON(w, status, ErrorResponse{Error: err})
}
