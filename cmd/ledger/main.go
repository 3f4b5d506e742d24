package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/eigerco/transfersol/internal/config"
	"github.com/eigerco/transfersol/internal/crypto"
	"github.com/eigerco/transfersol/internal/ledger"
	"github.com/eigerco/transfersol/internal/runtime"
	"github.com/eigerco/transfersol/pkg/db"
	"github.com/eigerco/transfersol/pkg/db/pebble"
	"github.com/eigerco/transfersol/pkg/log"
)

const usage = `usage: ledger [-config file] <command> [arguments]

commands:
  keygen   -out file                         write a new hex encoded ed25519 seed
  init                                       fund the genesis accounts from the config
  balance  <pubkey>                          print the lamports held by pubkey
  accounts                                   list every stored account
  transfer -key file -to pubkey -amount n    move lamports with transfer_sol
  batch    -file transfers.yaml              run a list of transfers
`

// go run ./cmd/ledger -config ledger.yaml transfer -key alice.key -to <pubkey> -amount 500000
func main() {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(*configPath, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, command string, args []string) error {
	if command == "keygen" {
		return keygen(args)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}

	metrics, err := serveMetrics(cfg.MetricsAddr)
	if err != nil {
		return err
	}
	l, err := openLedger(cfg, metrics)
	if err != nil {
		return err
	}
	defer l.Close() //nolint:errcheck

	switch command {
	case "init":
		return initGenesis(cfg, l)
	case "balance":
		return balance(l, args)
	case "accounts":
		return listAccounts(l)
	case "transfer":
		return transferCmd(l, args)
	case "batch":
		return batch(l, args, cfg.MetricsAddr != "")
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", command)
}

func initLogger(cfg config.Config) error {
	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	loggerType, err := log.ParseLoggerType(cfg.LogType)
	if err != nil {
		return err
	}
	log.Init(log.Options{LogLevel: level, Type: loggerType, Output: os.Stderr})
	return nil
}

func openLedger(cfg config.Config, metrics *runtime.Metrics) (*ledger.Ledger, error) {
	var (
		kv  db.KVStore
		err error
	)
	if cfg.DBPath == "" {
		log.Root.Warn().Msg("no db_path configured, using an in-memory store")
		kv, err = pebble.NewMemKVStore()
	} else {
		kv, err = pebble.NewKVStore(cfg.DBPath)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return ledger.New(kv, runtime.WithRent(cfg.Rent), runtime.WithMetrics(metrics))
}

// serveMetrics exposes /metrics on addr. It returns nil metrics when addr is empty.
func serveMetrics(addr string) (*runtime.Metrics, error) {
	if addr == "" {
		return nil, nil
	}
	reg := prometheus.NewRegistry()
	metrics, err := runtime.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Root.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Root.Info().Str("addr", addr).Msg("serving metrics")
	return metrics, nil
}

func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "File to write the seed to")
	_ = fs.Parse(args)
	if *out == "" {
		return errors.New("keygen: -out is required")
	}

	kp, err := crypto.GenerateKeypair(rand.Reader)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, []byte(hex.EncodeToString(kp.Seed())+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	fmt.Println(kp.Pubkey)
	return nil
}

func loadKeypair(path string) (crypto.Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crypto.Keypair{}, fmt.Errorf("read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return crypto.Keypair{}, fmt.Errorf("decode key file %s: %w", path, err)
	}
	return crypto.NewKeypairFromSeed(seed)
}

func initGenesis(cfg config.Config, l *ledger.Ledger) error {
	balances, err := cfg.GenesisAccounts()
	if err != nil {
		return err
	}
	if err := l.Genesis(balances); err != nil {
		return err
	}
	fmt.Printf("funded %d genesis accounts\n", len(balances))
	return nil
}

func balance(l *ledger.Ledger, args []string) error {
	if len(args) != 1 {
		return errors.New("balance: expected exactly one pubkey")
	}
	pk, err := crypto.ParsePubkey(args[0])
	if err != nil {
		return err
	}
	lamports, err := l.Balance(pk)
	if err != nil {
		return err
	}
	fmt.Println(lamports)
	return nil
}

func listAccounts(l *ledger.Ledger) error {
	accounts, err := l.Accounts()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(accounts))
	byKey := make(map[string]uint64, len(accounts))
	for pk, acc := range accounts {
		keys = append(keys, pk.String())
		byKey[pk.String()] = acc.Lamports
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s %d\n", k, byKey[k])
	}
	return nil
}

func transferCmd(l *ledger.Ledger, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	keyFile := fs.String("key", "", "Sender key file")
	to := fs.String("to", "", "Receiver pubkey")
	amount := fs.String("amount", "", "Lamports to move")
	_ = fs.Parse(args)

	if *keyFile == "" || *to == "" || *amount == "" {
		return errors.New("transfer: -key, -to and -amount are required")
	}
	t := batchTransfer{Key: *keyFile, To: *to}
	var err error
	if t.Amount, err = strconv.ParseUint(*amount, 10, 64); err != nil {
		return fmt.Errorf("transfer: amount: %w", err)
	}
	return submit(context.Background(), l, t)
}

type batchTransfer struct {
	Key    string `yaml:"key"`
	To     string `yaml:"to"`
	Amount uint64 `yaml:"amount"`
}

// batch runs every transfer in the file in order. A failed transfer is
// reported and the remaining ones still run.
func batch(l *ledger.Ledger, args []string, wait bool) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	file := fs.String("file", "", "YAML list of transfers")
	_ = fs.Parse(args)
	if *file == "" {
		return errors.New("batch: -file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	var transfers []batchTransfer
	if err := yaml.Unmarshal(data, &transfers); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failed int
	for i, t := range transfers {
		if err := submit(ctx, l, t); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "transfer %d: %v\n", i, err)
		}
	}
	fmt.Printf("%d transfers, %d failed\n", len(transfers), failed)

	if wait {
		log.Root.Info().Msg("batch done, serving metrics until interrupted")
		<-ctx.Done()
	}
	return nil
}

func submit(ctx context.Context, l *ledger.Ledger, t batchTransfer) error {
	sender, err := loadKeypair(t.Key)
	if err != nil {
		return err
	}
	receiver, err := crypto.ParsePubkey(t.To)
	if err != nil {
		return err
	}
	id, err := l.Transfer(ctx, sender, receiver, t.Amount)
	if err != nil {
		return fmt.Errorf("%s: %w", runtime.Classify(err), err)
	}
	fmt.Printf("%s %s -> %s %d\n", id, sender.Pubkey, receiver, t.Amount)
	return nil
}
