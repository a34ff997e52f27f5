package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/ledger"
	"github.com/arkade-os/arkive/store"
	"github.com/arkade-os/arkive/types"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

const (
	DatadirEnvVar  = "ARKIVE_DATADIR"
	StoreEnvVar    = "ARKIVE_STORE"
	PasswordEnvVar = "ARKIVE_PASSWORD"
)

var (
	Version string
	engine  *arkive.Engine
	svc     types.Store
)

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "arkive"
	app.Usage = "self-custodial bitcoin and ark wallet engine"
	app.Commands = append(
		app.Commands,
		&initCommand,
		&configCommand,
		&createCommand,
		&restoreCommand,
		&walletsCommand,
		&deleteCommand,
		&addressCommand,
		&balanceCommand,
		&historyCommand,
		&syncCommand,
		&watchCommand,
		&exportCommand,
		&importCommand,
		&expiringCommand,
		&versionCommand,
	)
	app.Flags = []cli.Flag{datadirFlag, storeFlag, verboseFlag}
	app.Before = func(ctx *cli.Context) error {
		switch ctx.Args().First() {
		case "init", "version", "help", "h", "":
			return nil
		}
		e, err := openEngine(ctx)
		if err != nil {
			return fmt.Errorf("error initializing engine: %v", err)
		}
		engine = e
		return nil
	}
	app.After = func(_ *cli.Context) error {
		if engine != nil {
			engine.Close()
		}
		if svc != nil {
			svc.Close()
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

var (
	datadirFlag = &cli.StringFlag{
		Name:    "datadir",
		Usage:   "Specify the data directory",
		Value:   arklib.AppDataDir("arkive", false),
		EnvVars: []string{DatadirEnvVar},
	}
	storeFlag = &cli.StringFlag{
		Name:    "store",
		Usage:   "wallet store backend, kv or sql",
		Value:   types.KVStore,
		EnvVars: []string{StoreEnvVar},
	}
	verboseFlag = &cli.BoolFlag{
		Name:        "verbose",
		Usage:       "enable debug logs",
		Value:       false,
		DefaultText: "false",
	}
	networkFlag = &cli.StringFlag{
		Name:  "network",
		Usage: "bitcoin network: bitcoin, testnet, signet, mutinynet or regtest",
		Value: arklib.Bitcoin.Name,
	}
	urlFlag = &cli.StringFlag{
		Name:  "server-url",
		Usage: "the url of the Ark server to connect to",
	}
	explorerFlag = &cli.StringFlag{
		Name:  "explorer",
		Usage: "the url of the explorer to use",
	}
	restFlag = &cli.BoolFlag{
		Name:        "rest",
		Usage:       "use REST client instead of gRPC",
		Value:       true,
		DefaultText: "true",
	}
	boardingPolicyFlag = &cli.StringFlag{
		Name:  "boarding-policy",
		Usage: "authority for boarding status once settled: settlement or chain",
		Value: string(types.BoardingPreferSettlement),
	}
	blockFeedFlag = &cli.BoolFlag{
		Name:  "block-feed",
		Usage: "sync on every new block when watching",
	}
	passwordFlag = &cli.StringFlag{
		Name:    "password",
		Usage:   "password encrypting the wallet seed",
		EnvVars: []string{PasswordEnvVar},
	}
	walletFlag = &cli.StringFlag{
		Name:  "wallet",
		Usage: "wallet id, optional if the store holds a single wallet",
	}
	mnemonicFlag = &cli.StringFlag{
		Name:     "mnemonic",
		Usage:    "space separated aezeed mnemonic",
		Required: true,
	}
	kindFlag = &cli.StringFlag{
		Name:  "kind",
		Usage: "address kind: onchain, offchain or boarding",
		Value: types.AddressOffchain.String(),
	}
	domainFlag = &cli.StringFlag{
		Name:  "domain",
		Usage: "only show onchain or offchain records",
	}
	pageFlag = &cli.IntFlag{
		Name:  "page",
		Usage: "page index, 0 returns everything",
	}
	pageSizeFlag = &cli.IntFlag{
		Name:  "page-size",
		Usage: "number of records per page",
		Value: 25,
	}
	descFlag = &cli.BoolFlag{
		Name:  "desc",
		Usage: "newest records first",
	}
	dryRunFlag = &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "compute the changes without applying them",
	}
	passphraseFlag = &cli.StringFlag{
		Name:  "passphrase",
		Usage: "passphrase encrypting the backup",
	}
	outFlag = &cli.StringFlag{
		Name:     "out",
		Usage:    "path of the backup file to write",
		Required: true,
	}
	inFlag = &cli.StringFlag{
		Name:     "in",
		Usage:    "path of the backup file to read",
		Required: true,
	}
	digestFlag = &cli.StringFlag{
		Name:  "digest",
		Usage: "expected digest of the backup content",
	}
)

var (
	initCommand = cli.Command{
		Name:  "init",
		Usage: "Initialize the engine with network and remote endpoints",
		Action: func(ctx *cli.Context) error {
			return initEngine(ctx)
		},
		Flags: []cli.Flag{
			networkFlag, urlFlag, explorerFlag, restFlag, boardingPolicyFlag, blockFeedFlag,
		},
	}
	configCommand = cli.Command{
		Name:  "config",
		Usage: "Shows the engine configuration",
		Action: func(ctx *cli.Context) error {
			return config(ctx)
		},
	}
	createCommand = cli.Command{
		Name:  "create",
		Usage: "Create a new wallet and print its mnemonic",
		Action: func(ctx *cli.Context) error {
			return createWallet(ctx)
		},
		Flags: []cli.Flag{passwordFlag},
	}
	restoreCommand = cli.Command{
		Name:  "restore",
		Usage: "Restore a wallet from its mnemonic",
		Action: func(ctx *cli.Context) error {
			return restoreWallet(ctx)
		},
		Flags: []cli.Flag{mnemonicFlag, passwordFlag},
	}
	walletsCommand = cli.Command{
		Name:  "wallets",
		Usage: "List the tracked wallets",
		Action: func(ctx *cli.Context) error {
			return listWallets(ctx)
		},
	}
	deleteCommand = cli.Command{
		Name:  "delete",
		Usage: "Delete a wallet and everything tracked for it",
		Action: func(ctx *cli.Context) error {
			return deleteWallet(ctx)
		},
		Flags: []cli.Flag{walletFlag, passwordFlag},
	}
	addressCommand = cli.Command{
		Name:  "address",
		Usage: "Allocate a new receiving address",
		Action: func(ctx *cli.Context) error {
			return newAddress(ctx)
		},
		Flags: []cli.Flag{walletFlag, kindFlag},
	}
	balanceCommand = cli.Command{
		Name:  "balance",
		Usage: "Shows the wallet balance",
		Action: func(ctx *cli.Context) error {
			return balance(ctx)
		},
		Flags: []cli.Flag{walletFlag},
	}
	historyCommand = cli.Command{
		Name:  "history",
		Usage: "Shows the wallet transaction history",
		Action: func(ctx *cli.Context) error {
			return history(ctx)
		},
		Flags: []cli.Flag{walletFlag, domainFlag, pageFlag, pageSizeFlag, descFlag},
	}
	syncCommand = cli.Command{
		Name:  "sync",
		Usage: "Reconcile the wallet with the chain and the Ark server",
		Action: func(ctx *cli.Context) error {
			return sync(ctx)
		},
		Flags: []cli.Flag{walletFlag, dryRunFlag},
	}
	watchCommand = cli.Command{
		Name:  "watch",
		Usage: "Keep every wallet in sync and print wallet events",
		Action: func(ctx *cli.Context) error {
			return watch(ctx)
		},
	}
	exportCommand = cli.Command{
		Name:  "export",
		Usage: "Write an encrypted backup of the wallet",
		Action: func(ctx *cli.Context) error {
			return exportBackup(ctx)
		},
		Flags: []cli.Flag{walletFlag, passphraseFlag, outFlag},
	}
	importCommand = cli.Command{
		Name:  "import",
		Usage: "Merge an encrypted backup into the store",
		Action: func(ctx *cli.Context) error {
			return importBackup(ctx)
		},
		Flags: []cli.Flag{inFlag, passphraseFlag, digestFlag},
	}
	expiringCommand = cli.Command{
		Name:  "expiring",
		Usage: "List the vtxos that must be renewed soon",
		Action: func(ctx *cli.Context) error {
			return expiring(ctx)
		},
		Flags: []cli.Flag{walletFlag},
	}
	versionCommand = cli.Command{
		Name:  "version",
		Usage: "Display version",
		Action: func(ctx *cli.Context) error {
			fmt.Println(Version)
			return nil
		},
	}
)

func initEngine(ctx *cli.Context) error {
	network := utils.NetworkFromString(ctx.String(networkFlag.Name))
	if network.Name != ctx.String(networkFlag.Name) {
		return fmt.Errorf("unknown network %q", ctx.String(networkFlag.Name))
	}

	cfg := types.NewConfig(network)
	if url := ctx.String(urlFlag.Name); len(url) > 0 {
		cfg.ServerUrl = url
	}
	if url := ctx.String(explorerFlag.Name); len(url) > 0 {
		cfg.ExplorerURL = url
	}
	cfg.ServerTransport = types.TransportGRPC
	if ctx.Bool(restFlag.Name) {
		cfg.ServerTransport = types.TransportREST
	}
	cfg.BoardingPolicy = types.BoardingPolicy(ctx.String(boardingPolicyFlag.Name))
	cfg.WithBlockFeed = ctx.Bool(blockFeedFlag.Name)

	s, err := newStore(ctx)
	if err != nil {
		return err
	}
	svc = s

	current, err := s.ConfigStore().GetData(ctx.Context)
	if err != nil {
		return err
	}
	if current != nil {
		return arkive.ErrAlreadyInitialized
	}

	e, err := arkive.NewEngine(s, arkive.WithConfig(cfg), arkive.WithVerbose(ctx.Bool(verboseFlag.Name)))
	if err != nil {
		return err
	}
	engine = e
	return config(ctx)
}

func config(_ *cli.Context) error {
	cfg := engine.GetConfig()
	return printJSON(map[string]any{
		"network":           cfg.Network.Name,
		"server_url":        cfg.ServerUrl,
		"server_transport":  cfg.ServerTransport,
		"explorer_url":      cfg.ExplorerURL,
		"device_id":         cfg.DeviceID,
		"sync_interval":     cfg.SyncInterval.String(),
		"remote_timeout":    cfg.RemoteTimeout.String(),
		"max_retries":       cfg.MaxRetries,
		"boarding_policy":   cfg.BoardingPolicy,
		"renewal_threshold": cfg.RenewalThreshold.String(),
		"block_feed":        cfg.WithBlockFeed,
	})
}

func createWallet(ctx *cli.Context) error {
	password, err := readPassword(ctx, true)
	if err != nil {
		return err
	}
	wallet, mnemonic, err := engine.CreateWallet(ctx.Context, string(password))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"wallet_id": wallet.ID,
		"mnemonic":  strings.Join(mnemonic, " "),
	})
}

func restoreWallet(ctx *cli.Context) error {
	password, err := readPassword(ctx, true)
	if err != nil {
		return err
	}
	mnemonic := strings.Fields(ctx.String(mnemonicFlag.Name))
	wallet, err := engine.RestoreWallet(ctx.Context, mnemonic, string(password))
	if err != nil {
		return err
	}
	return printJSON(map[string]any{"wallet_id": wallet.ID})
}

func listWallets(ctx *cli.Context) error {
	wallets, err := engine.ListWallets(ctx.Context)
	if err != nil {
		return err
	}
	res := make([]map[string]any, 0, len(wallets))
	for _, w := range wallets {
		res = append(res, map[string]any{
			"wallet_id":   w.ID,
			"fingerprint": w.Fingerprint,
			"network":     w.Network.Name,
			"created_at":  w.CreatedAt,
		})
	}
	return printJSON(res)
}

func deleteWallet(ctx *cli.Context) error {
	walletID, err := resolveWallet(ctx)
	if err != nil {
		return err
	}
	password, err := readPassword(ctx, false)
	if err != nil {
		return err
	}
	if err := engine.DeleteWallet(ctx.Context, walletID, string(password)); err != nil {
		return err
	}
	return printJSON(map[string]any{"deleted": walletID})
}

func newAddress(ctx *cli.Context) error {
	walletID, err := resolveWallet(ctx)
	if err != nil {
		return err
	}
	kind, err := types.ParseAddressKind(ctx.String(kindFlag.Name))
	if err != nil {
		return err
	}
	addr, err := engine.NewAddress(ctx.Context, walletID, kind)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"kind":    addr.Kind.String(),
		"index":   addr.Index,
		"address": addr.Address,
		"path":    addr.DerivationPath,
	})
}

func balance(ctx *cli.Context) error {
	walletID, err := resolveWallet(ctx)
	if err != nil {
		return err
	}
	total, err := engine.Balance(ctx.Context, walletID)
	if err != nil {
		return err
	}
	breakdown, err := engine.Breakdown(ctx.Context, walletID)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"total": total,
		"onchain": map[string]uint64{
			"confirmed": breakdown.OnchainConfirmed,
			"pending":   breakdown.OnchainPending,
		},
		"offchain": map[string]uint64{
			"settled":      breakdown.OffchainSettled,
			"preconfirmed": breakdown.OffchainPreconfirmed,
		},
		"requiring_exit": breakdown.RequiringExit,
	})
}

func history(ctx *cli.Context) error {
	walletID, err := resolveWallet(ctx)
	if err != nil {
		return err
	}
	filter := ledger.HistoryFilter{}
	if d := ctx.String(domainFlag.Name); len(d) > 0 {
		domain, err := types.ParseDomain(d)
		if err != nil {
			return err
		}
		filter.Domains = []types.Domain{domain}
	}
	if ctx.Bool(descFlag.Name) {
		filter.Order = ledger.OrderDescending
	}
	if page := ctx.Int(pageFlag.Name); page > 0 {
		filter.Page = &ledger.PageRequest{Index: page, Size: ctx.Int(pageSizeFlag.Name)}
	}

	txs, page, err := engine.History(ctx.Context, walletID, filter)
	if err != nil {
		return err
	}
	records := make([]map[string]any, 0, len(txs))
	for _, tx := range txs {
		records = append(records, map[string]any{
			"id":        tx.ID,
			"direction": tx.Direction.String(),
			"domain":    tx.Domain.String(),
			"amount":    tx.Delta,
			"status":    tx.Status.String(),
			"timestamp": tx.Timestamp,
		})
	}
	res := map[string]any{"transactions": records}
	if page != nil {
		res["page"] = page
	}
	return printJSON(res)
}

func sync(ctx *cli.Context) error {
	opts := make([]arkive.Option, 0)
	if ctx.Bool(dryRunFlag.Name) {
		opts = append(opts, arkive.WithDryRun)
	}
	walletID, err := resolveWallet(ctx)
	if err != nil {
		return err
	}
	result, err := engine.Sync(ctx.Context, walletID, opts...)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func watch(ctx *cli.Context) error {
	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := engine.SubscribeEvents(runCtx)
	if err := engine.StartAutoSync(runCtx); err != nil {
		return err
	}
	for {
		select {
		case <-runCtx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := printJSON(map[string]any{
				"type":         event.Type.String(),
				"wallet_id":    event.WalletID,
				"sequence":     event.Sequence,
				"outputs":      len(event.Outputs),
				"transactions": len(event.Transactions),
			}); err != nil {
				return err
			}
		}
	}
}

func exportBackup(ctx *cli.Context) error {
	walletID, err := resolveWallet(ctx)
	if err != nil {
		return err
	}
	passphrase, err := readPassphrase(ctx, true)
	if err != nil {
		return err
	}
	path := ctx.String(outFlag.Name)
	digest, err := engine.ExportBackupFile(ctx.Context, walletID, string(passphrase), path)
	if err != nil {
		return err
	}
	return printJSON(map[string]string{"path": path, "digest": digest})
}

func importBackup(ctx *cli.Context) error {
	passphrase, err := readPassphrase(ctx, false)
	if err != nil {
		return err
	}
	opts := make([]arkive.Option, 0)
	if digest := ctx.String(digestFlag.Name); len(digest) > 0 {
		opts = append(opts, arkive.WithExpectedDigest(digest))
	}
	report, err := engine.ImportBackupFile(
		ctx.Context, ctx.String(inFlag.Name), string(passphrase), opts...,
	)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func expiring(ctx *cli.Context) error {
	walletID, err := resolveWallet(ctx)
	if err != nil {
		return err
	}
	vtxos, err := engine.ExpiringVtxos(ctx.Context, walletID)
	if err != nil {
		return err
	}
	res := make([]map[string]any, 0, len(vtxos))
	for _, v := range vtxos {
		res = append(res, map[string]any{
			"outpoint": v.Outpoint.String(),
			"amount":   v.Amount,
			"expiry":   v.Expiry.String(),
		})
	}
	return printJSON(res)
}

func newStore(ctx *cli.Context) (types.Store, error) {
	return store.NewStore(store.Config{
		ConfigStoreType:  types.FileStore,
		AppDataStoreType: ctx.String(storeFlag.Name),
		BaseDir:          ctx.String(datadirFlag.Name),
	})
}

func openEngine(ctx *cli.Context) (*arkive.Engine, error) {
	s, err := newStore(ctx)
	if err != nil {
		return nil, err
	}
	svc = s

	e, err := arkive.NewEngine(s, arkive.WithVerbose(ctx.Bool(verboseFlag.Name)))
	if err != nil {
		if errors.Is(err, arkive.ErrNotInitialized) {
			return nil, fmt.Errorf("engine not initialized, run 'init' cmd to initialize")
		}
		return nil, err
	}
	return e, nil
}

// resolveWallet returns the wallet given with --wallet, defaulting to the
// only one in the store.
func resolveWallet(ctx *cli.Context) (string, error) {
	if id := ctx.String(walletFlag.Name); len(id) > 0 {
		return id, nil
	}
	wallets, err := engine.ListWallets(ctx.Context)
	if err != nil {
		return "", err
	}
	switch len(wallets) {
	case 0:
		return "", fmt.Errorf("no wallet found, run 'create' or 'restore' first")
	case 1:
		return wallets[0].ID, nil
	default:
		return "", fmt.Errorf("multiple wallets found, select one with --wallet")
	}
}

func readPassword(ctx *cli.Context, confirm bool) ([]byte, error) {
	password := []byte(ctx.String(passwordFlag.Name))
	if len(password) > 0 {
		return password, nil
	}
	return prompt("wallet password", confirm)
}

func readPassphrase(ctx *cli.Context, confirm bool) ([]byte, error) {
	passphrase := []byte(ctx.String(passphraseFlag.Name))
	if len(passphrase) > 0 {
		return passphrase, nil
	}
	return prompt("backup passphrase", confirm)
}

func prompt(what string, confirm bool) ([]byte, error) {
	fmt.Printf("%s: ", what)
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if !confirm {
		return secret, nil
	}

	fmt.Printf("confirm %s: ", what)
	again, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if string(secret) != string(again) {
		return nil, fmt.Errorf("%s mismatch", what)
	}
	return secret, nil
}

func printJSON(resp any) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
