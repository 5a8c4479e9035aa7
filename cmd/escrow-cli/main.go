package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"nftescrow/config"
	"nftescrow/core/events"
	"nftescrow/native/escrow"
	"nftescrow/observability/logging"
	"nftescrow/storage"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage() string {
	return strings.TrimSpace(`
Usage: escrow-cli [-config path] <command> [flags]

Commands:
  init          write the config singleton (admin/denom from the config file or flags)
  deposit       store a new escrow from a transfer-in notification
  withdraw      return an expired item to its source
  approve       settle an escrow by paying the asked price
  set-config    replace the admin/denom configuration
  get-config    print the current configuration
  get           print a single escrow by collection and token id
  list          page escrows of a collection in ascending token-id order
  list-reverse  page escrows of a collection in descending token-id order
  count         count escrows in a collection
  by-source     page escrows deposited by a source identity
  by-recipient  page escrows payable by a recipient identity
`)
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("escrow-cli", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "escrow.toml", "path to the TOML config file")
	if err := global.Parse(args); err != nil {
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	logger := logging.Setup("escrow-cli", "")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		return 1
	}
	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open database", "err", err, "backend", cfg.Backend)
		return 1
	}
	defer db.Close()

	store := escrow.NewStore(db)
	engine := escrow.NewEngine(store)
	collector := &events.Collector{}
	engine.SetEmitter(collector)
	queries := escrow.NewQueries(store)

	app := &cli{
		cfg:       cfg,
		engine:    engine,
		queries:   queries,
		collector: collector,
		stdout:    stdout,
		stderr:    stderr,
	}

	switch rest[0] {
	case "init":
		return app.runInit(rest[1:])
	case "deposit":
		return app.runDeposit(rest[1:])
	case "withdraw":
		return app.runWithdraw(rest[1:])
	case "approve":
		return app.runApprove(rest[1:])
	case "set-config":
		return app.runSetConfig(rest[1:])
	case "get-config":
		return app.runGetConfig(rest[1:])
	case "get":
		return app.runGet(rest[1:])
	case "list":
		return app.runList(rest[1:], false)
	case "list-reverse":
		return app.runList(rest[1:], true)
	case "count":
		return app.runCount(rest[1:])
	case "by-source":
		return app.runByDimension(rest[1:], "source")
	case "by-recipient":
		return app.runByDimension(rest[1:], "recipient")
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", rest[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(filepath.Join(cfg.DataDir, "escrow.db"))
	default:
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "leveldb"))
	}
}

type cli struct {
	cfg       *config.Config
	engine    *escrow.Engine
	queries   *escrow.Queries
	collector *events.Collector
	stdout    io.Writer
	stderr    io.Writer
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) printResult(result *escrow.Result) int {
	out := struct {
		Result *escrow.Result  `json:"result"`
		Events []*events.Event `json:"events,omitempty"`
	}{Result: result, Events: c.collector.Events}
	return c.printJSON(out)
}

func (c *cli) printJSON(v any) int {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, string(encoded))
	return 0
}

func (c *cli) runInit(args []string) int {
	fs := c.newFlagSet("init")
	admin := fs.String("admin", c.cfg.Admin, "administrator identity")
	denom := fs.String("denom", c.cfg.Denom, "settlement denomination")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	msg := escrow.InitializeMsg{Admin: *admin, Denom: *denom}
	result, err := c.engine.Initialize(msg.Admin, msg.Denom)
	if err != nil {
		return c.fail(err)
	}
	return c.printResult(result)
}

func (c *cli) runDeposit(args []string) int {
	fs := c.newFlagSet("deposit")
	collection := fs.String("collection", "", "collection identifier (the notifying registry)")
	source := fs.String("source", "", "depositing identity")
	tokenID := fs.String("token-id", "", "item identifier")
	recipient := fs.String("recipient", "", "identity allowed to pay")
	priceStr := fs.String("price", "", "asked price (integer)")
	expiration := fs.Int64("expires-at", 0, "expiry unix timestamp")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	price, ok := new(big.Int).SetString(*priceStr, 10)
	if !ok {
		return c.fail(fmt.Errorf("invalid --price %q", *priceStr))
	}
	payload, err := json.Marshal(escrow.DepositPayload{
		Recipient:  *recipient,
		Price:      price,
		Expiration: *expiration,
	})
	if err != nil {
		return c.fail(err)
	}
	note := escrow.DepositNotification{Source: *source, TokenID: *tokenID, Payload: payload}
	result, err := c.engine.ReceiveDeposit(*collection, note)
	if err != nil {
		return c.fail(err)
	}
	return c.printResult(result)
}

func (c *cli) runWithdraw(args []string) int {
	fs := c.newFlagSet("withdraw")
	collection := fs.String("collection", "", "collection identifier")
	tokenID := fs.String("token-id", "", "item identifier")
	caller := fs.String("caller", "", "caller identity (must be the source)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	msg := escrow.WithdrawMsg{Collection: *collection, TokenID: *tokenID}
	result, err := c.engine.Withdraw(msg.Collection, msg.TokenID, *caller, nil)
	if err != nil {
		return c.fail(err)
	}
	return c.printResult(result)
}

func (c *cli) runApprove(args []string) int {
	fs := c.newFlagSet("approve")
	collection := fs.String("collection", "", "collection identifier")
	tokenID := fs.String("token-id", "", "item identifier")
	caller := fs.String("caller", "", "caller identity (must be the recipient)")
	amountStr := fs.String("amount", "", "payment amount (integer)")
	denom := fs.String("denom", "", "payment denomination")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	amount, ok := new(big.Int).SetString(*amountStr, 10)
	if !ok {
		return c.fail(fmt.Errorf("invalid --amount %q", *amountStr))
	}
	msg := escrow.ApproveMsg{Collection: *collection, TokenID: *tokenID}
	payment := []escrow.Coin{{Denom: *denom, Amount: amount}}
	result, err := c.engine.Approve(msg.Collection, msg.TokenID, *caller, payment)
	if err != nil {
		return c.fail(err)
	}
	return c.printResult(result)
}

func (c *cli) runSetConfig(args []string) int {
	fs := c.newFlagSet("set-config")
	admin := fs.String("admin", "", "new administrator identity")
	denom := fs.String("denom", "", "new settlement denomination")
	caller := fs.String("caller", "", "caller identity (must be the current admin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	msg := escrow.ChangeConfigMsg{Admin: *admin, Denom: *denom}
	result, err := c.engine.ChangeConfig(escrow.Config{Admin: msg.Admin, Denom: msg.Denom}, *caller)
	if err != nil {
		return c.fail(err)
	}
	return c.printResult(result)
}

func (c *cli) runGetConfig(args []string) int {
	fs := c.newFlagSet("get-config")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	cfg, err := c.queries.Config()
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(cfg)
}

func (c *cli) runGet(args []string) int {
	fs := c.newFlagSet("get")
	collection := fs.String("collection", "", "collection identifier")
	tokenID := fs.String("token-id", "", "item identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	esc, found, err := c.queries.Escrow(*collection, *tokenID)
	if err != nil {
		return c.fail(err)
	}
	if !found {
		return c.printJSON(nil)
	}
	return c.printJSON(esc)
}

func (c *cli) runList(args []string, reverse bool) int {
	name := "list"
	if reverse {
		name = "list-reverse"
	}
	fs := c.newFlagSet(name)
	collection := fs.String("collection", "", "collection identifier")
	cursor := fs.String("cursor", "", "exclusive token-id cursor")
	limit := fs.Int("limit", 0, "page size (default 10, max 30)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var (
		escrows []*escrow.Escrow
		err     error
	)
	if reverse {
		escrows, err = c.queries.ReverseEscrows(*collection, *cursor, *limit)
	} else {
		escrows, err = c.queries.Escrows(*collection, *cursor, *limit)
	}
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(escrows)
}

func (c *cli) runCount(args []string) int {
	fs := c.newFlagSet("count")
	collection := fs.String("collection", "", "collection identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	count, err := c.queries.EscrowsCount(*collection)
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(map[string]int{"count": count})
}

func (c *cli) runByDimension(args []string, dimension string) int {
	fs := c.newFlagSet("by-" + dimension)
	identity := fs.String(dimension, "", dimension+" identity")
	afterCollection := fs.String("after-collection", "", "cursor collection")
	afterToken := fs.String("after-token-id", "", "cursor token id")
	limit := fs.Int("limit", 0, "page size (default 10, max 30)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var cursor *escrow.CollectionOffset
	if *afterCollection != "" || *afterToken != "" {
		cursor = &escrow.CollectionOffset{Collection: *afterCollection, TokenID: *afterToken}
	}
	var (
		escrows []*escrow.Escrow
		err     error
	)
	if dimension == "source" {
		escrows, err = c.queries.EscrowsBySource(*identity, cursor, *limit)
	} else {
		escrows, err = c.queries.EscrowsByRecipient(*identity, cursor, *limit)
	}
	if err != nil {
		return c.fail(err)
	}
	return c.printJSON(escrows)
}
