package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	_ "net/http/pprof"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/buildinfo"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/httpapi"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/auction"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/chainclock"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/dshelper"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/logging"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/lib/peerflags"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service"
	"github.com/mhyholla-dot/Transparent-Bidding-Platform-for-Auctions/service/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/cli"
	"github.com/textileio/go-libp2p-pubsub-rpc/finalizer"
	golog "github.com/textileio/go-log/v2"
)

var (
	cliName           = "bidledger"
	defaultConfigPath = filepath.Join(os.Getenv("HOME"), "."+cliName)
	log               = golog.Logger(cliName)
	v                 = viper.New()

	auctionsListFields = []string{"ID", "Seller", "StartTime", "EndTime", "ReservePrice", "HighestBid",
		"HighestBidder", "Status", "ExtensionCount", "Winner"}
	receiptsListFields = []string{"ID", "Operation", "AuctionID", "Caller", "BlockHeight", "CreatedAt"}
)

func init() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(repoPath(), ".env"))

	rootCmd.AddCommand(initCmd, daemonCmd, idCmd, versionCmd, heightCmd, adminCmd, auctionsCmd, bidsCmd, receiptsCmd)
	adminCmd.AddCommand(adminConfigCmd, adminEscrowCmd, adminOracleCmd, adminFeeRateCmd, adminAntiSnipingCmd)
	auctionsCmd.AddCommand(auctionsListCmd, auctionsShowCmd, auctionsCreateCmd, auctionsBidCmd,
		auctionsEndCmd, auctionsHistoryCmd, auctionsActiveCmd, auctionsCountCmd)
	bidsCmd.AddCommand(bidsShowCmd)
	receiptsCmd.AddCommand(receiptsListCmd, receiptsShowCmd)

	commonFlags := []cli.Flag{
		{
			Name:        "http-port",
			DefValue:    "8810",
			Description: "HTTP API listen address",
		},
		{
			Name:        "as",
			DefValue:    "",
			Description: "Acting principal of client commands",
		},
		{
			Name:        "json",
			DefValue:    false,
			Description: "output in json format instead of tabular print",
		},
	}
	daemonFlags := []cli.Flag{
		{
			Name:        "admin",
			DefValue:    "",
			Description: "Principal allowed to change the fee rate and anti-sniping duration; required",
		},
		{
			Name:        "max-auctions",
			DefValue:    auction.DefaultMaxAuctions,
			Description: "Maximum number of auctions ever created",
		},
		{
			Name:        "platform-fee-rate",
			DefValue:    auction.DefaultPlatformFeeRate,
			Description: "Initial platform fee in percent; only applies to a fresh ledger",
		},
		{
			Name:        "anti-sniping-duration",
			DefValue:    auction.DefaultAntiSnipingDuration,
			Description: "Initial anti-sniping window in blocks; only applies to a fresh ledger",
		},
		{
			Name:        "clock",
			DefValue:    "interval",
			Description: "Block height source: lotus or interval",
		},
		{Name: "lotus-gateway-url", DefValue: "https://api.node.glif.io", Description: "Lotus gateway URL"},
		{
			Name:        "genesis",
			DefValue:    "2024-01-01T00:00:00Z",
			Description: "Genesis time of the interval clock in RFC3339",
		},
		{
			Name:        "block-time",
			DefValue:    chainclock.DefaultBlockTime,
			Description: "Block time of the interval clock",
		},
		{
			Name:        "collaborators",
			DefValue:    string(service.CollaboratorsLog),
			Description: "How escrow and oracle instructions are delivered: libp2p or log",
		},
		{
			Name:        "ack-timeout",
			DefValue:    30 * time.Second,
			Description: "Time to wait for an escrow or oracle acknowledgement",
		},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level log"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
	}
	daemonFlags = append(daemonFlags, peerflags.Flags...)
	listFlags := []cli.Flag{
		{Name: "limit", DefValue: 10, Description: "Max number of results; -1 returns the max page size"},
		{Name: "offset", DefValue: "", Description: "Id of the last item of the previous page"},
		{Name: "order", DefValue: "desc", Description: "Result order: asc or desc"},
		{Name: "seller", DefValue: "", Description: "List only the auctions of this seller"},
	}
	createFlags := []cli.Flag{
		{Name: "start", DefValue: uint64(0), Description: "Start block height; required"},
		{Name: "end", DefValue: uint64(0), Description: "End block height; required"},
		{Name: "reserve", DefValue: uint64(0), Description: "Reserve price; required"},
		{Name: "increment", DefValue: uint64(0), Description: "Minimum bid increment; required"},
		{Name: "description", DefValue: "", Description: "Item description; required"},
		{Name: "token", DefValue: string(auction.TokenNFT), Description: "Token type: STX, SIP10 or NFT"},
		{Name: "location", DefValue: "", Description: "Item location; required"},
		{Name: "currency", DefValue: string(auction.CurrencySTX), Description: "Currency: STX, USD or BTC"},
	}

	cobra.OnInitialize(func() {
		v.SetConfigType("json")
		v.SetConfigName("config")
		v.AddConfigPath(os.Getenv("BIDLEDGER_PATH"))
		v.AddConfigPath(defaultConfigPath)
		_ = v.ReadInConfig()
	})

	cli.ConfigureCLI(v, "BIDLEDGER", commonFlags, rootCmd.PersistentFlags())
	cli.ConfigureCLI(v, "BIDLEDGER", peerflags.Flags, initCmd.PersistentFlags())
	cli.ConfigureCLI(v, "BIDLEDGER", daemonFlags, daemonCmd.PersistentFlags())
	cli.ConfigureCLI(v, "BIDLEDGER", listFlags, rootCmd.PersistentFlags())
	cli.ConfigureCLI(v, "BIDLEDGER", createFlags, auctionsCreateCmd.PersistentFlags())
}

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "Bidledger runs an English auction ledger with escrow custody",
	Long: `Bidledger runs an English auction ledger with escrow custody.

bidledger keeps auctions, bids and settings in a local datastore. Bids lock
funds in an escrow contract, settlement releases funds to the seller and the
platform, and bids landing close to the end extend the auction.

To get started, run 'bidledger init' and then 'bidledger daemon --admin <principal>'.
`,
	Args: cobra.ExactArgs(0),
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initializes bidledger configuration files",
	Long: `Initializes bidledger configuration files and generates a new keypair.

bidledger uses a repository in the local file system. By default, the repo is
located at ~/.bidledger. To change the repo location, set the $BIDLEDGER_PATH
environment variable:

    export BIDLEDGER_PATH=/path/to/bidledgerrepo

The keypair identifies the ledger peer when escrow and oracle contracts are
reached over libp2p (--collaborators libp2p).
`,
	Args: cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		path, err := peerflags.WriteConfig(v, repoPath())
		cli.CheckErrf("writing config: %v", err)
		fmt.Printf("Initialized configuration file: %s\n", path)
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the auction ledger",
	Long:  "Run the auction ledger and serve it over the HTTP API.",
	Args:  cobra.ExactArgs(0),
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cli.ExpandEnvVars(v, v.AllSettings())
		systems := append(append([]string{}, logging.Subsystems...), "psrpc/peer")
		err := cli.ConfigureLogging(v, systems)
		cli.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		if v.GetString("admin") == "" {
			cli.CheckErr(errors.New("--admin is required"))
		}

		settings, err := cli.MarshalConfig(v, !v.GetBool("log-json"), "private-key")
		cli.CheckErrf("marshaling config: %v", err)
		log.Infof("loaded config: %s", string(settings))
		log.Info(buildinfo.Summary())

		config := service.Config{
			Ledger: ledger.Config{
				Admin:               auction.Principal(v.GetString("admin")),
				MaxAuctions:         v.GetUint64("max-auctions"),
				PlatformFeeRate:     v.GetUint64("platform-fee-rate"),
				AntiSnipingDuration: v.GetUint64("anti-sniping-duration"),
			},
			Collaborators: service.CollaboratorsMode(v.GetString("collaborators")),
			AckTimeout:    v.GetDuration("ack-timeout"),
			Bootstrap:     true,
		}
		if config.Collaborators == service.CollaboratorsLibp2p {
			config.Peer, err = peerflags.GetConfig(v, repoPath(), false)
			cli.CheckErrf("getting peer config: %v", err)
		}

		fin := finalizer.NewFinalizer()
		store, err := dshelper.NewBadgerTxnDatastore(filepath.Join(repoPath(), "ledgerstore"))
		cli.CheckErrf("creating datastore: %v", err)
		fin.Add(store)

		err = cli.SetupInstrumentation(v.GetString("metrics-addr"))
		cli.CheckErrf("booting instrumentation: %v", err)

		clock, err := newClock()
		cli.CheckErrf("creating block clock: %v", err)
		fin.Add(clock)

		serv, err := service.New(config, store, clock)
		cli.CheckErrf("starting service: %v", err)
		fin.Add(serv)

		api, err := httpapi.NewServer(":"+v.GetString("http-port"), serv)
		cli.CheckErrf("creating http API server: %v", err)
		fin.Add(api)

		cli.HandleInterrupt(func() {
			cli.CheckErr(fin.Cleanupf("closing service: %v", nil))
		})
	},
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "shows the id, public key and addresses of the ledger peer",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		fmt.Println(string(call(http.MethodGet, urlFor("id"), nil)))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "shows the version of the running daemon and of this binary",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		fmt.Printf("daemon: %s\n", string(call(http.MethodGet, urlFor("version"), nil)))
		fmt.Printf("client: %s\n", buildinfo.Summary())
	},
}

var heightCmd = &cobra.Command{
	Use:   "height",
	Short: "shows the current block height of the ledger",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		var res httpapi.HeightResponse
		decode(call(http.MethodGet, urlFor("height"), nil), &res)
		fmt.Println(res.Height)
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Inspect and change ledger settings",
	Long: `Inspect and change ledger settings.

Escrow and oracle contracts can be set once by anyone. The fee rate and the
anti-sniping duration can only be changed by the admin, use --as to act as it.`,
	Args: cobra.ExactArgs(0),
}

var adminConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show ledger settings",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		printConfig(call(http.MethodGet, urlFor("config"), nil))
	},
}

var adminEscrowCmd = &cobra.Command{
	Use:   "escrow <contract>",
	Short: "Set the escrow contract",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		req := httpapi.ContractRequest{Contract: auction.Principal(args[0])}
		printConfig(call(http.MethodPut, urlFor("admin", "escrow"), req))
	},
}

var adminOracleCmd = &cobra.Command{
	Use:   "oracle <contract>",
	Short: "Set the oracle contract",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		req := httpapi.ContractRequest{Contract: auction.Principal(args[0])}
		printConfig(call(http.MethodPut, urlFor("admin", "oracle"), req))
	},
}

var adminFeeRateCmd = &cobra.Command{
	Use:   "fee-rate <percent>",
	Short: "Set the platform fee rate",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		req := httpapi.ValueRequest{Value: parseUint(args[0], "fee rate")}
		printConfig(call(http.MethodPut, urlFor("admin", "fee-rate"), req))
	},
}

var adminAntiSnipingCmd = &cobra.Command{
	Use:   "anti-sniping <blocks>",
	Short: "Set the anti-sniping window",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		req := httpapi.ValueRequest{Value: parseUint(args[0], "duration")}
		printConfig(call(http.MethodPut, urlFor("admin", "anti-sniping"), req))
	},
}

var auctionsCmd = &cobra.Command{
	Use: "auctions",
	Aliases: []string{
		"auction",
	},
	Short: "Interact with auctions",
	Long:  "Interact with auctions.",
	Args:  cobra.ExactArgs(0),
}

var auctionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List auctions, optionally of one seller",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		var auctions []auction.Auction
		decode(call(http.MethodGet, urlFor("auctions")+listQuery(true), nil), &auctions)
		if v.GetBool("json") {
			printJSON(auctions)
			return
		}
		printTable(auctions, auctionsListFields)
	},
}

var auctionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of one auction",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		printAuction(call(http.MethodGet, urlFor("auctions", args[0]), nil))
	},
}

var auctionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an auction sold by the acting principal",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		params := ledger.CreateParams{
			StartTime:       v.GetUint64("start"),
			EndTime:         v.GetUint64("end"),
			ReservePrice:    v.GetUint64("reserve"),
			MinIncrement:    v.GetUint64("increment"),
			ItemDescription: v.GetString("description"),
			TokenType:       auction.TokenType(v.GetString("token")),
			Location:        v.GetString("location"),
			Currency:        auction.Currency(v.GetString("currency")),
		}
		var res httpapi.CreatedResponse
		decode(call(http.MethodPost, urlFor("auctions"), params), &res)
		if v.GetBool("json") {
			printJSON(res)
			return
		}
		fmt.Printf("Created auction %d\n", res.ID)
	},
}

var auctionsBidCmd = &cobra.Command{
	Use:   "bid <id> <amount>",
	Short: "Place a bid as the acting principal",
	Args:  cobra.ExactArgs(2),
	Run: func(c *cobra.Command, args []string) {
		req := httpapi.BidRequest{Amount: parseUint(args[1], "amount")}
		printAuction(call(http.MethodPost, urlFor("auctions", args[0], "bids"), req))
	},
}

var auctionsEndCmd = &cobra.Command{
	Use:   "end <id>",
	Short: "Settle an auction after its end height",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		var res httpapi.EndResponse
		decode(call(http.MethodPost, urlFor("auctions", args[0], "end"), nil), &res)
		if v.GetBool("json") {
			printJSON(res)
			return
		}
		if res.Winner == "" {
			fmt.Println("Auction ended without bids")
			return
		}
		fmt.Printf("Auction won by %s\n", res.Winner)
	},
}

var auctionsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show the accepted bids of an auction",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		var history []auction.HistoryEntry
		decode(call(http.MethodGet, urlFor("auctions", args[0], "history"), nil), &history)
		if v.GetBool("json") {
			printJSON(history)
			return
		}
		printTable(history, []string{"Bidder", "Amount", "Time"})
	},
}

var auctionsActiveCmd = &cobra.Command{
	Use:   "active <id>",
	Short: "Show whether an auction is open",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		var res httpapi.ActiveResponse
		decode(call(http.MethodGet, urlFor("auctions", args[0], "active"), nil), &res)
		fmt.Println(res.Active)
	},
}

var auctionsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the number of auctions ever created",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		var res httpapi.CountResponse
		decode(call(http.MethodGet, urlFor("count"), nil), &res)
		fmt.Println(humanize.Comma(int64(res.Count)))
	},
}

var bidsCmd = &cobra.Command{
	Use: "bids",
	Aliases: []string{
		"bid",
	},
	Short: "Inspect bids",
	Args:  cobra.ExactArgs(0),
}

var bidsShowCmd = &cobra.Command{
	Use:   "show <auction-id> <bidder>",
	Short: "Show the latest bid of a bidder in an auction",
	Args:  cobra.ExactArgs(2),
	Run: func(c *cobra.Command, args []string) {
		var bid auction.Bid
		decode(call(http.MethodGet, urlFor("auctions", args[0], "bids", args[1]), nil), &bid)
		if v.GetBool("json") {
			printJSON(bid)
			return
		}
		printStruct(bid)
	},
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Inspect the escrow and oracle instruction journal",
	Args:  cobra.ExactArgs(0),
}

var receiptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instruction receipts",
	Args:  cobra.ExactArgs(0),
	Run: func(c *cobra.Command, args []string) {
		var receipts []auction.Receipt
		decode(call(http.MethodGet, urlFor("receipts")+listQuery(false), nil), &receipts)
		if v.GetBool("json") {
			printJSON(receipts)
			return
		}
		printTable(receipts, receiptsListFields)
	},
}

var receiptsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one instruction receipt",
	Args:  cobra.ExactArgs(1),
	Run: func(c *cobra.Command, args []string) {
		var r auction.Receipt
		decode(call(http.MethodGet, urlFor("receipts", args[0]), nil), &r)
		if v.GetBool("json") {
			printJSON(r)
			return
		}
		printStruct(r)
		for n, i := range r.Instructions {
			fmt.Printf("  %d. %s -> %s\n", n+1, i, i.Contract)
		}
	},
}

func main() {
	cli.CheckErr(rootCmd.Execute())
}

func repoPath() string {
	if p := os.Getenv("BIDLEDGER_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

func newClock() (chainclock.Clock, error) {
	switch v.GetString("clock") {
	case "lotus":
		return chainclock.NewLotusClock(v.GetString("lotus-gateway-url"))
	case "interval":
		genesis, err := time.Parse(time.RFC3339, v.GetString("genesis"))
		if err != nil {
			return nil, fmt.Errorf("parsing genesis: %v", err)
		}
		return chainclock.NewIntervalClock(genesis, v.GetDuration("block-time"))
	default:
		return nil, fmt.Errorf("unknown clock %q", v.GetString("clock"))
	}
}

func urlFor(parts ...string) string {
	u := "http://127.0.0.1:" + v.GetString("http-port")
	if len(parts) > 0 {
		u += "/" + path.Join(parts...)
	}
	return u
}

func listQuery(withSeller bool) string {
	params := url.Values{}
	if withSeller {
		if seller := v.GetString("seller"); seller != "" {
			params.Set("seller", seller)
			return "?" + params.Encode()
		}
	}
	params.Set("limit", strconv.Itoa(v.GetInt("limit")))
	params.Set("order", v.GetString("order"))
	if offset := v.GetString("offset"); offset != "" {
		params.Set("offset", offset)
	}
	return "?" + params.Encode()
}

// call sends a request to the daemon on behalf of --as and returns the response body.
// Any non 2xx response is fatal.
func call(method, u string, body interface{}) []byte {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		cli.CheckErr(err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, u, reader)
	cli.CheckErr(err)
	if as := v.GetString("as"); as != "" {
		req.Header.Set(httpapi.PrincipalHeader, as)
	}
	res, err := http.DefaultClient.Do(req)
	cli.CheckErr(err)
	defer func() {
		err := res.Body.Close()
		cli.CheckErr(err)
	}()
	b, err := ioutil.ReadAll(res.Body)
	cli.CheckErr(err)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e httpapi.ErrorResponse
		if err := json.Unmarshal(b, &e); err == nil && e.Error != "" {
			log.Fatalf("%s: %s", res.Status, e.Error)
		}
		log.Fatalf("%s: %s", res.Status, string(b))
	}
	return b
}

func decode(b []byte, out interface{}) {
	cli.CheckErrf("decoding response: %v", json.Unmarshal(b, out))
}

func parseUint(s, name string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	cli.CheckErrf(fmt.Sprintf("parsing %s: %%v", name), err)
	return n
}

func printJSON(i interface{}) {
	b, err := json.MarshalIndent(i, "", "\t")
	cli.CheckErr(err)
	fmt.Println(string(b))
}

func printConfig(b []byte) {
	var conf httpapi.ConfigResponse
	decode(b, &conf)
	if v.GetBool("json") {
		printJSON(conf)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	_, _ = fmt.Fprintf(w, "Admin:\t%s\n", conf.Admin)
	_, _ = fmt.Fprintf(w, "EscrowContract:\t%s\n", conf.EscrowContract)
	_, _ = fmt.Fprintf(w, "OracleContract:\t%s\n", conf.OracleContract)
	_, _ = fmt.Fprintf(w, "PlatformFeeRate:\t%d%%\n", conf.PlatformFeeRate)
	_, _ = fmt.Fprintf(w, "AntiSnipingDuration:\t%d blocks\n", conf.AntiSnipingDuration)
	_, _ = fmt.Fprintf(w, "Auctions:\t%s / %s\n",
		humanize.Comma(int64(conf.NextAuctionID)), humanize.Comma(int64(conf.MaxAuctions)))
	_ = w.Flush()
}

func printAuction(b []byte) {
	var a auction.Auction
	decode(b, &a)
	if v.GetBool("json") {
		printJSON(a)
		return
	}
	printStruct(a)
}

func printStruct(s interface{}) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	typ := reflect.TypeOf(s)
	value := reflect.ValueOf(s)
	for i := 0; i < typ.NumField(); i++ {
		_, err := fmt.Fprintf(w, "%s:\t%s\n", typ.Field(i).Name, formatValue(value.Field(i)))
		cli.CheckErr(err)
	}
	_ = w.Flush()
}

// printTable prints a slice of structs, one row per item and one column per field.
func printTable(list interface{}, fields []string) {
	items := reflect.ValueOf(list)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', tabwriter.DiscardEmptyColumns)
	for i := 0; i < items.Len(); i++ {
		if i == 0 {
			for _, field := range fields {
				_, err := fmt.Fprintf(w, "%s\t", field)
				cli.CheckErr(err)
			}
			_, err := fmt.Fprintln(w, "")
			cli.CheckErr(err)
		}
		value := items.Index(i)
		for _, field := range fields {
			_, err := fmt.Fprintf(w, "%s\t", formatValue(value.FieldByName(field)))
			cli.CheckErr(err)
		}
		_, err := fmt.Fprintln(w, "")
		cli.CheckErr(err)
	}
	_ = w.Flush()
}

func formatValue(value reflect.Value) string {
	switch val := value.Interface().(type) {
	case time.Time:
		return humanize.Time(val)
	case []auction.Instruction:
		return fmt.Sprintf("%d instructions", len(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}
