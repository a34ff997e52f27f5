package arkive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arkade-os/arkive/backup"
	"github.com/arkade-os/arkive/client"
	grpcclient "github.com/arkade-os/arkive/client/grpc"
	restclient "github.com/arkade-os/arkive/client/rest"
	"github.com/arkade-os/arkive/explorer"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/ledger"
	"github.com/arkade-os/arkive/types"
	"github.com/arkade-os/arkive/wallet"
	log "github.com/sirupsen/logrus"
)

var Version string

const eventBufferSize = 64

// Engine is the wallet engine facade. It owns no state of its own: every
// wallet entity lives in the store, the engine reconciles it against the
// chain source and the settlement server.
type Engine struct {
	cfg       types.Config
	initCfg   *types.Config
	store     types.Store
	explorer  explorer.Explorer
	server    client.SettlementServer
	allocator *wallet.Allocator
	ledger    *ledger.Ledger

	kdfParams     backup.KDFParams
	retryInterval time.Duration
	now           func() time.Time

	syncLocks *utils.KeyedMutex
	events    *utils.Broadcaster[types.WalletEvent]

	mu     sync.Mutex
	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewEngine loads the engine config from the store, initializing it with
// the one given via WithConfig the first time.
func NewEngine(store types.Store, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("missing store")
	}

	e := &Engine{
		store:     store,
		kdfParams: backup.DefaultKDFParams,
		now:       time.Now,
		syncLocks: utils.NewKeyedMutex(),
		events:    utils.NewBroadcaster[types.WalletEvent](),
	}
	for _, opt := range opts {
		opt(e)
	}

	ctx := context.Background()
	cfg, err := store.ConfigStore().GetData(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		if e.initCfg == nil {
			return nil, ErrNotInitialized
		}
		if err := e.initCfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		if err := store.ConfigStore().AddData(ctx, *e.initCfg); err != nil {
			return nil, err
		}
		if cfg, err = store.ConfigStore().GetData(ctx); err != nil {
			return nil, err
		}
	} else if e.initCfg != nil {
		log.Debug("engine already initialized, ignoring given config")
	}
	e.cfg = *cfg
	if e.cfg.RemoteTimeout <= 0 {
		e.cfg.RemoteTimeout = types.DefaultRemoteTimeout
	}
	if e.cfg.SyncInterval <= 0 {
		e.cfg.SyncInterval = types.DefaultSyncInterval
	}

	if e.explorer == nil {
		e.explorer, err = explorer.NewExplorer(e.cfg.ExplorerURL, e.cfg.Network)
		if err != nil {
			return nil, fmt.Errorf("failed to setup explorer: %s", err)
		}
	}
	if e.server == nil {
		e.server, err = getClient(e.cfg.ServerTransport, e.cfg.ServerUrl)
		if err != nil {
			return nil, fmt.Errorf("failed to setup transport client: %s", err)
		}
	}
	if e.allocator == nil {
		e.allocator = wallet.NewAllocator(nil)
	}
	e.ledger = ledger.New(store.WalletStore())

	e.bgCtx, e.cancel = context.WithCancel(context.Background())
	e.wg.Add(1)
	go e.forwardEvents(e.bgCtx)

	return e, nil
}

func (e *Engine) GetConfig() types.Config {
	return e.cfg
}

// Close stops the background tasks and the remote clients. The store is
// left open, it belongs to the caller.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.events.Close()
	e.server.Close()
}

// SubscribeEvents returns the wallet events committed by the store until ctx
// is done or the engine is closed.
func (e *Engine) SubscribeEvents(ctx context.Context) <-chan types.WalletEvent {
	return e.events.Subscribe(ctx, eventBufferSize)
}

// CreateWallet generates a new seed, stores it encrypted with password and
// returns the wallet together with its mnemonic.
func (e *Engine) CreateWallet(
	ctx context.Context, password string,
) (*types.Wallet, []string, error) {
	if len(password) <= 0 {
		return nil, nil, fmt.Errorf("missing password")
	}
	mnemonic, seed, err := wallet.NewSeed(nil)
	if err != nil {
		return nil, nil, err
	}
	defer utils.Zero(seed)

	w, err := e.addWallet(ctx, seed, password)
	if err != nil {
		return nil, nil, err
	}
	return w, mnemonic, nil
}

// RestoreWallet recreates the wallet of a mnemonic. The wallet record is the
// same on every device, state comes back with the first sync or a backup.
func (e *Engine) RestoreWallet(
	ctx context.Context, mnemonic []string, password string,
) (*types.Wallet, error) {
	if len(password) <= 0 {
		return nil, fmt.Errorf("missing password")
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, nil)
	if err != nil {
		return nil, err
	}
	defer utils.Zero(seed)

	return e.addWallet(ctx, seed, password)
}

func (e *Engine) GetWallet(ctx context.Context, walletID string) (*types.Wallet, error) {
	return e.walletStore().GetWallet(ctx, walletID)
}

func (e *Engine) ListWallets(ctx context.Context) ([]types.Wallet, error) {
	return e.walletStore().ListWallets(ctx)
}

// DeleteWallet erases the wallet and everything tracked for it. The password
// must open its seed.
func (e *Engine) DeleteWallet(ctx context.Context, walletID, password string) error {
	if err := e.CheckPassword(ctx, walletID, password); err != nil {
		return err
	}
	unlock := e.syncLocks.Lock(walletID)
	defer unlock()
	return e.walletStore().DeleteWallet(ctx, walletID)
}

// CheckPassword fails with ErrInvalidPassphrase if password does not open the
// seed of the wallet.
func (e *Engine) CheckPassword(ctx context.Context, walletID, password string) error {
	w, err := e.walletStore().GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	return wallet.VerifyPassword(*w, []byte(password))
}

// NewAddress allocates the next address of the given kind.
func (e *Engine) NewAddress(
	ctx context.Context, walletID string, kind types.AddressKind,
) (*types.Address, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidAddressKind, kind)
	}
	w, err := e.walletStore().GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	addr, err := e.walletStore().AllocateAddress(
		ctx, walletID, kind, e.allocator.DeriveFunc(*w, kind),
	)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"wallet": walletID,
		"kind":   kind.String(),
		"index":  addr.Index,
	}).Debug("allocated address")
	return addr, nil
}

func (e *Engine) GetAddresses(
	ctx context.Context, walletID string, kinds ...types.AddressKind,
) ([]types.Address, error) {
	return e.walletStore().GetAddresses(ctx, walletID, kinds...)
}

// Balance returns the wallet balance, failing if the transaction records
// disagree with the unspent outputs.
func (e *Engine) Balance(ctx context.Context, walletID string) (uint64, error) {
	return e.ledger.Balance(ctx, walletID)
}

// Breakdown splits the balance by domain and settlement status.
func (e *Engine) Breakdown(ctx context.Context, walletID string) (*ledger.Breakdown, error) {
	return e.ledger.Breakdown(ctx, walletID)
}

// History returns the transaction records matching filter, one page at a
// time.
func (e *Engine) History(
	ctx context.Context, walletID string, filter ledger.HistoryFilter,
) ([]types.Transaction, *ledger.PageResponse, error) {
	return e.ledger.History(ctx, walletID, filter)
}

// ListOutputs returns the unspent and spent outputs of the wallet.
func (e *Engine) ListOutputs(
	ctx context.Context, walletID string,
) (unspent, spent []types.Output, err error) {
	return e.walletStore().GetOutputs(ctx, walletID)
}

// ExpiringVtxos returns the spendable vtxos closing within the configured
// renewal threshold from the current chain tip.
func (e *Engine) ExpiringVtxos(ctx context.Context, walletID string) ([]types.Output, error) {
	tip, err := e.tipHeight(ctx)
	if err != nil {
		return nil, err
	}
	return e.ledger.ExpiringVtxos(ctx, walletID, e.cfg.RenewalThreshold, tip, e.now())
}

// Broadcast publishes a signed transaction through the chain source.
func (e *Engine) Broadcast(ctx context.Context, rawTx string) (string, error) {
	return utils.Retry(ctx, e.retryConfig(types.SourceChain),
		func(ctx context.Context) (string, error) {
			return e.explorer.Broadcast(ctx, rawTx)
		},
	)
}

func (e *Engine) EstimateFee(ctx context.Context, targetBlocks uint32) (float64, error) {
	return utils.Retry(ctx, e.retryConfig(types.SourceChain),
		func(ctx context.Context) (float64, error) {
			return e.explorer.EstimateFee(ctx, targetBlocks)
		},
	)
}

// SubmitRoundParticipation forwards an already signed intent to the
// settlement server. It is not retried, an intent is registered at most once.
func (e *Engine) SubmitRoundParticipation(
	ctx context.Context, intent client.RoundIntent,
) (*client.RoundOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	defer cancel()
	outcome, err := e.server.SubmitRoundParticipation(ctx, intent)
	if err != nil {
		if retry, _ := utils.ShouldRetry(err); retry {
			return nil, &types.RemoteUnavailableError{Source: types.SourceSettlement, Err: err}
		}
		return nil, err
	}
	return outcome, nil
}

func (e *Engine) addWallet(
	ctx context.Context, seed []byte, password string,
) (*types.Wallet, error) {
	keys, err := wallet.NewKeyMaterial(seed, e.cfg.Network)
	if err != nil {
		return nil, err
	}

	info, err := utils.Retry(ctx, e.retryConfig(types.SourceSettlement),
		func(ctx context.Context) (*client.Info, error) {
			return e.server.GetInfo(ctx)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get server info: %w", err)
	}
	if len(info.Network) > 0 && utils.NetworkFromString(info.Network).Name != e.cfg.Network.Name {
		return nil, fmt.Errorf(
			"%w: server is on %s, engine on %s", ErrNetworkMismatch, info.Network, e.cfg.Network.Name,
		)
	}
	unilateralExitDelay, boardingExitDelay, err := info.ExitDelays()
	if err != nil {
		return nil, err
	}

	encryptedSeed, err := wallet.EncryptSeed(seed, []byte(password))
	if err != nil {
		return nil, err
	}

	w := types.Wallet{
		ID:                  keys.ID,
		Fingerprint:         keys.Fingerprint,
		Network:             e.cfg.Network,
		CreatedAt:           types.NormalizeTime(e.now()),
		EncryptedSeed:       encryptedSeed,
		AccountXpub:         keys.AccountXpub,
		SignerPubKey:        info.SignerPubKey,
		UnilateralExitDelay: unilateralExitDelay,
		BoardingExitDelay:   boardingExitDelay,
	}
	if _, err := e.walletStore().CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	log.WithField("wallet", w.ID).Info("wallet created")
	return &w, nil
}

func (e *Engine) tipHeight(ctx context.Context) (uint32, error) {
	return utils.Retry(ctx, e.retryConfig(types.SourceChain),
		func(ctx context.Context) (uint32, error) {
			return e.explorer.GetTipHeight(ctx)
		},
	)
}

func (e *Engine) retryConfig(source types.Source) utils.RetryConfig {
	return utils.RetryConfig{
		Source:          source,
		Timeout:         e.cfg.RemoteTimeout,
		MaxRetries:      e.cfg.MaxRetries,
		InitialInterval: e.retryInterval,
	}
}

func (e *Engine) walletStore() types.WalletStore {
	return e.store.WalletStore()
}

func (e *Engine) forwardEvents(ctx context.Context) {
	defer e.wg.Done()

	ch := e.walletStore().GetEventChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if dropped := e.events.Publish(event); dropped > 0 {
				log.Debugf("%d subscribers missed %s event", dropped, event.Type)
			}
		}
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func getClient(transport, serverUrl string) (client.SettlementServer, error) {
	switch transport {
	case types.TransportGRPC:
		return grpcclient.NewClient(serverUrl)
	case types.TransportREST, "":
		return restclient.NewClient(serverUrl)
	default:
		return nil, fmt.Errorf("unsupported server transport %q", transport)
	}
}

func isUnknownWallet(err error) bool {
	return errors.Is(err, types.ErrUnknownWallet)
}
