// veilvault-cli is a command-line client for the VeilVault confidential
// UTXO engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/veilvault/veilvault/config"
	"github.com/veilvault/veilvault/internal/attest"
	"github.com/veilvault/veilvault/internal/chainrpc"
	"github.com/veilvault/veilvault/internal/commitment"
	"github.com/veilvault/veilvault/internal/keystore"
	"github.com/veilvault/veilvault/internal/ledger"
	"github.com/veilvault/veilvault/internal/log"
	"github.com/veilvault/veilvault/internal/storage"
	"github.com/veilvault/veilvault/internal/vault"
	"github.com/veilvault/veilvault/pkg/types"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.DefaultMainnet()

	// Scan global flags that appear before the subcommand.
	args := os.Args[1:]
	network := ""
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			cfg.Chain.Endpoint = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			cfg.Chain.Endpoint = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--attest" && len(args) > 1:
			cfg.Attest.Endpoint = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--attest="):
			cfg.Attest.Endpoint = args[0][len("--attest="):]
			args = args[1:]
		case args[0] == "--datadir" && len(args) > 1:
			cfg.DataDir = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--datadir="):
			cfg.DataDir = args[0][len("--datadir="):]
			args = args[1:]
		case args[0] == "--network" && len(args) > 1:
			network = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--network="):
			network = args[0][len("--network="):]
			args = args[1:]
		case args[0] == "--scheme" && len(args) > 1:
			cfg.Scheme = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--scheme="):
			cfg.Scheme = args[0][len("--scheme="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if network == "testnet" {
		// Swap in testnet defaults for anything a flag did not override.
		mainnet := config.DefaultMainnet()
		testnet := config.DefaultTestnet()
		if cfg.Chain.Endpoint == mainnet.Chain.Endpoint {
			cfg.Chain.Endpoint = testnet.Chain.Endpoint
		}
		if cfg.Attest.Endpoint == mainnet.Attest.Endpoint {
			cfg.Attest.Endpoint = testnet.Attest.Endpoint
		}
		cfg.Network = config.Testnet
	}

	// Config file values fill anything the flags did not touch.
	if values, err := config.LoadFile(cfg.ConfigFile()); err == nil {
		_ = config.ApplyFileConfig(cfg, values)
	}
	if err := cfg.Validate(); err != nil {
		fatal("config: %v", err)
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "init":
		cmdInit(cfg, cmdArgs)
	case "keys":
		cmdKeys(cfg, cmdArgs)
	case "deposit":
		cmdDeposit(cfg, cmdArgs)
	case "split":
		cmdSplit(cfg, cmdArgs)
	case "transfer":
		cmdTransfer(cfg, cmdArgs)
	case "withdraw":
		cmdWithdraw(cfg, cmdArgs)
	case "balance":
		cmdBalance(cfg, cmdArgs)
	case "list":
		cmdList(cfg, cmdArgs)
	case "reconcile":
		cmdReconcile(cfg, cmdArgs)
	case "tokens":
		cmdTokens(cfg)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: veilvault-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         Gateway RPC endpoint (default: http://127.0.0.1:8545/)
  --attest <url>      Attestation backend endpoint
  --datadir <path>    Data directory (default: ~/.veilvault)
  --network <net>     mainnet (default) or testnet
  --scheme <s>        Curve scheme: secp256k1 (default) or bn254

Commands:
  init [--mnemonic "..."]         Create the key file (new or imported mnemonic)
  keys list                       List derived owner addresses
  keys new                        Derive the next owner address

  deposit --owner <addr> --token <addr> --amount <n>
                                  Deposit tokens into a new private record
  split --owner <addr> --input <id> --outputs <n,n,...>
                                  Split a record into smaller ones
  transfer --owner <addr> --to <addr> --input <id> --amount <n>
                                  Pay a recipient, change returns to you
  withdraw --owner <addr> --input <id> --amount <n>
                                  Redeem a record back to a public balance

  balance --owner <addr>          Show unspent value per token
  list --owner <addr> [--all]     List records (unspent, or all with --all)
  reconcile --owner <addr>        Merge persisted state and confirm pending records
  tokens                          List tokens the vault accepts
`)
}

// openEngine wires the orchestrator from the configuration. The returned
// closer releases the ledger database.
func openEngine(cfg *config.Config) (*vault.Engine, func()) {
	db, err := storage.NewBadger(cfg.LedgerDir())
	if err != nil {
		fatal("open ledger db: %v", err)
	}

	rpc := chainrpc.NewWithTimeout(cfg.Chain.Endpoint, cfg.Chain.Timeout)
	verifier := chainrpc.NewVault(rpc)

	eng, err := vault.NewEngine(vault.Options{
		Scheme:              commitment.SchemeID(cfg.Scheme),
		Verifier:            verifier,
		Approver:            verifier,
		Signer:              attest.NewHTTPSigner(cfg.Attest.Endpoint),
		Ledger:              ledger.New(db),
		ReceiptPollInterval: cfg.Chain.ReceiptPollInterval,
		ReceiptPollAttempts: cfg.Chain.ReceiptPollAttempts,
	})
	if err != nil {
		db.Close()
		fatal("create engine: %v", err)
	}

	return eng, func() { db.Close() }
}

// reconcileOwner merges persisted records before operating on them.
func reconcileOwner(eng *vault.Engine, owner types.Address) {
	if err := eng.Ledger().Reconcile(context.Background(), owner, eng.Verifier()); err != nil {
		fatal("reconcile: %v", err)
	}
}

// ── init / keys ─────────────────────────────────────────────────────────

const keyFileName = "main"

func cmdInit(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	mnemonic := fs.String("mnemonic", "", "import an existing 24-word mnemonic")
	fs.Parse(args)

	ks, err := keystore.New(cfg.KeystoreDir())
	if err != nil {
		fatal("open keystore: %v", err)
	}

	fresh := *mnemonic == ""
	phrase := *mnemonic
	if fresh {
		phrase, err = keystore.GenerateMnemonic()
		if err != nil {
			fatal("generate mnemonic: %v", err)
		}
	} else if !keystore.ValidateMnemonic(phrase) {
		fatal("invalid mnemonic")
	}

	password, err := readPassword("New password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}

	seed, err := keystore.SeedFromMnemonic(phrase, "")
	if err != nil {
		fatal("derive seed: %v", err)
	}

	if err := ks.Create(keyFileName, seed, password, keystore.DefaultParams()); err != nil {
		fatal("create key file: %v", err)
	}

	addr := deriveAndRecordOwner(ks, seed, 0)

	if fresh {
		fmt.Println("Write down your recovery mnemonic and keep it offline:")
		fmt.Println()
		fmt.Printf("  %s\n", phrase)
		fmt.Println()
	}
	fmt.Printf("Owner address: %s\n", addr)
}

func cmdKeys(cfg *config.Config, args []string) {
	if len(args) < 1 {
		fatal("Usage: veilvault-cli keys <list|new>")
	}

	ks, err := keystore.New(cfg.KeystoreDir())
	if err != nil {
		fatal("open keystore: %v", err)
	}

	switch args[0] {
	case "list":
		owners, err := ks.ListOwners(keyFileName)
		if err != nil {
			fatal("list owners: %v", err)
		}
		for _, o := range owners {
			fmt.Printf("%d\t%s\n", o.Index, o.Address)
		}
	case "new":
		password, err := readPassword("Password: ")
		if err != nil {
			fatal("read password: %v", err)
		}
		seed, err := ks.Load(keyFileName, password)
		if err != nil {
			fatal("unlock key file: %v", err)
		}
		index, err := ks.NextIndex(keyFileName)
		if err != nil {
			fatal("next index: %v", err)
		}
		addr := deriveAndRecordOwner(ks, seed, index)
		fmt.Printf("Owner address: %s\n", addr)
	default:
		fatal("Usage: veilvault-cli keys <list|new>")
	}
}

func deriveAndRecordOwner(ks *keystore.Keystore, seed []byte, index uint32) types.Address {
	master, err := keystore.NewMasterKey(seed)
	if err != nil {
		fatal("master key: %v", err)
	}
	key, err := master.DeriveOwner(0, index)
	if err != nil {
		fatal("derive owner: %v", err)
	}
	addr, err := key.Address()
	if err != nil {
		fatal("derive address: %v", err)
	}
	err = ks.AddOwner(keyFileName, keystore.OwnerEntry{
		Index:   index,
		Address: addr.String(),
		KeyID:   key.KeyID().String(),
	})
	if err != nil {
		fatal("record owner: %v", err)
	}
	return addr
}

// ── operations ──────────────────────────────────────────────────────────

func cmdDeposit(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("deposit", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "owner address")
	tokenStr := fs.String("token", "", "token address")
	amount := fs.Uint64("amount", 0, "amount to deposit")
	fs.Parse(args)

	eng, closeFn := openEngine(cfg)
	defer closeFn()

	res, err := eng.Deposit(context.Background(), vault.DepositRequest{
		Token:  parseAddr("token", *tokenStr),
		Owner:  parseAddr("owner", *ownerStr),
		Amount: *amount,
	})
	printResult(res, err)
}

func cmdSplit(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("split", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "owner address")
	inputStr := fs.String("input", "", "input record id")
	outputsStr := fs.String("outputs", "", "comma-separated output values")
	fs.Parse(args)

	owner := parseAddr("owner", *ownerStr)
	eng, closeFn := openEngine(cfg)
	defer closeFn()
	reconcileOwner(eng, owner)

	res, err := eng.Split(context.Background(), vault.SplitRequest{
		Owner:   owner,
		InputID: parseID("input", *inputStr),
		Outputs: parseValues(*outputsStr),
	})
	printResult(res, err)
}

func cmdTransfer(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "owner address")
	toStr := fs.String("to", "", "recipient address")
	inputStr := fs.String("input", "", "input record id")
	amount := fs.Uint64("amount", 0, "amount for the recipient")
	fs.Parse(args)

	owner := parseAddr("owner", *ownerStr)
	eng, closeFn := openEngine(cfg)
	defer closeFn()
	reconcileOwner(eng, owner)

	res, err := eng.Transfer(context.Background(), vault.TransferRequest{
		Owner:     owner,
		Recipient: parseAddr("to", *toStr),
		InputID:   parseID("input", *inputStr),
		Amount:    *amount,
	})
	printResult(res, err)
}

func cmdWithdraw(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("withdraw", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "owner address")
	inputStr := fs.String("input", "", "input record id")
	amount := fs.Uint64("amount", 0, "amount to withdraw")
	fs.Parse(args)

	owner := parseAddr("owner", *ownerStr)
	eng, closeFn := openEngine(cfg)
	defer closeFn()
	reconcileOwner(eng, owner)

	res, err := eng.Withdraw(context.Background(), vault.WithdrawRequest{
		Owner:   owner,
		InputID: parseID("input", *inputStr),
		Amount:  *amount,
	})
	printResult(res, err)
}

// ── views ───────────────────────────────────────────────────────────────

func cmdBalance(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "owner address")
	fs.Parse(args)

	owner := parseAddr("owner", *ownerStr)
	eng, closeFn := openEngine(cfg)
	defer closeFn()
	reconcileOwner(eng, owner)

	balances := eng.Ledger().Balances(owner)
	if len(balances) == 0 {
		fmt.Println("No unspent records.")
		return
	}
	for token, value := range balances {
		fmt.Printf("%s\t%d\n", token, value)
	}
}

func cmdList(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "owner address")
	all := fs.Bool("all", false, "include spent records")
	fs.Parse(args)

	owner := parseAddr("owner", *ownerStr)
	eng, closeFn := openEngine(cfg)
	defer closeFn()
	reconcileOwner(eng, owner)

	records := eng.Ledger().Unspent(owner)
	if *all {
		records = eng.Ledger().All(owner)
	}
	if len(records) == 0 {
		fmt.Println("No records.")
		return
	}
	for _, rec := range records {
		state := "unspent"
		if rec.Spent {
			state = "spent"
		}
		confirmed := "pending"
		if rec.Confirmed {
			confirmed = "confirmed"
		}
		fmt.Printf("%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.ID, rec.Token, rec.Value, rec.Op, state, confirmed)
	}
}

func cmdReconcile(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	ownerStr := fs.String("owner", "", "owner address")
	fs.Parse(args)

	owner := parseAddr("owner", *ownerStr)
	eng, closeFn := openEngine(cfg)
	defer closeFn()

	reconcileOwner(eng, owner)
	stats := eng.Ledger().OwnerStats(owner)
	fmt.Printf("Records:    %d\n", stats.Total)
	fmt.Printf("Unspent:    %d\n", stats.Unspent)
	fmt.Printf("Spent:      %d\n", stats.Spent)
	fmt.Printf("Confirmed:  %d\n", stats.Confirmed)
	fmt.Printf("Pending:    %d\n", stats.Pending)
}

func cmdTokens(cfg *config.Config) {
	rpc := chainrpc.NewWithTimeout(cfg.Chain.Endpoint, cfg.Chain.Timeout)
	verifier := chainrpc.NewVault(rpc)

	tokens, err := verifier.RegisteredTokens(context.Background())
	if err != nil {
		fatal("vault_getRegisteredTokens: %v", err)
	}
	for _, token := range tokens {
		fmt.Println(token)
	}
}

// ── helpers ─────────────────────────────────────────────────────────────

func printResult(res *vault.OperationResult, err error) {
	if err != nil {
		if res != nil && res.ErrorCode != "" {
			fatal("%s failed [%s]: %s", strings.ToLower(res.Operation), res.ErrorCode, res.ErrorMessage)
		}
		fatal("%v", err)
	}

	fmt.Printf("%s confirmed.\n", res.Operation)
	fmt.Printf("  Tx:     %s\n", res.TxHash)
	fmt.Printf("  Block:  %d\n", res.BlockNumber)
	for _, id := range res.SpentIDs {
		fmt.Printf("  Spent:  %s\n", id)
	}
	for _, id := range res.CreatedIDs {
		fmt.Printf("  Created: %s\n", id)
	}
}

func parseAddr(name, value string) types.Address {
	if value == "" {
		fatal("--%s is required", name)
	}
	addr, err := types.ParseAddress(value)
	if err != nil {
		fatal("--%s: %v", name, err)
	}
	return addr
}

func parseID(name, value string) types.Hash {
	if value == "" {
		fatal("--%s is required", name)
	}
	id, err := types.ParseHash(value)
	if err != nil {
		fatal("--%s: %v", name, err)
	}
	return id
}

func parseValues(s string) []uint64 {
	if s == "" {
		fatal("--outputs is required")
	}
	parts := strings.Split(s, ",")
	values := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			fatal("--outputs: %q is not a number", p)
		}
		values = append(values, v)
	}
	return values
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
