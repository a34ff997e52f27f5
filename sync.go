package arkive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arkade-os/arkive/backup"
	"github.com/arkade-os/arkive/client"
	"github.com/arkade-os/arkive/explorer"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Sync reconciles the wallet with the chain source and the settlement
// server. Remote data is fetched concurrently and applied in a single store
// transaction; if any source fails nothing is applied and a
// SyncPartialError naming it is returned.
func (e *Engine) Sync(ctx context.Context, walletID string, opts ...Option) (*SyncResult, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	options := &SyncOptions{}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	unlock := e.syncLocks.Lock(walletID)
	defer unlock()

	logger := log.WithField("wallet", walletID)

	state, err := e.walletStore().Snapshot(ctx, walletID)
	if err != nil {
		return nil, err
	}

	view, err := e.fetchRemoteView(ctx, *state)
	if err != nil {
		logger.WithError(err).Warn("sync aborted, nothing applied")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, result, err := reconcile(*state, *view, e.cfg.BoardingPolicy, e.now())
	if err != nil {
		return nil, err
	}
	if options.DryRun {
		return result, nil
	}

	if !batch.IsEmpty() {
		sequence, err := e.walletStore().ApplySyncBatch(ctx, *batch)
		if err != nil {
			return nil, fmt.Errorf("failed to apply sync batch: %w", err)
		}
		result.Sequence = sequence
		result.Applied = true
	}

	if err := e.recordSyncState(ctx, walletID, true); err != nil {
		logger.WithError(err).Warn("failed to update sync metadata")
	}

	logger.WithFields(log.Fields{
		"sequence":      result.Sequence,
		"new_outputs":   result.NewOutputs,
		"spent":         result.Spent,
		"transactions":  result.Transactions,
		"requires_exit": len(result.RequiresExit),
		"unresolved":    len(result.Unresolved),
	}).Debug("wallet synced")
	for _, op := range result.Unresolved {
		logger.Debugf("output %s not reported by any source", op)
	}
	return result, nil
}

// SyncAll syncs every wallet in the store. A failing wallet does not stop
// the others, errors are joined.
func (e *Engine) SyncAll(ctx context.Context) ([]SyncResult, error) {
	wallets, err := e.ListWallets(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]SyncResult, 0, len(wallets))
	errs := make([]error, 0)
	for _, w := range wallets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := e.Sync(ctx, w.ID)
		if err != nil {
			// deleted in the meantime
			if isUnknownWallet(err) {
				continue
			}
			errs = append(errs, fmt.Errorf("wallet %s: %w", w.ID, err))
			continue
		}
		results = append(results, *result)
	}
	return results, errors.Join(errs...)
}

func (e *Engine) GetSyncMetadata(
	ctx context.Context, walletID string,
) (*types.SyncMetadata, error) {
	return e.walletStore().GetSyncMetadata(ctx, walletID, e.cfg.DeviceID)
}

func (e *Engine) fetchRemoteView(ctx context.Context, state types.Snapshot) (*remoteView, error) {
	walletID := state.Wallet.ID
	chainAddresses := make([]string, 0)
	scripts := make([]string, 0)
	for _, addr := range state.Addresses {
		if addr.Kind == types.AddressOffchain {
			scripts = append(scripts, addr.Script)
			continue
		}
		chainAddresses = append(chainAddresses, addr.Address)
	}

	partial := func(source types.Source, err error) error {
		return &types.SyncPartialError{WalletID: walletID, Source: source, Err: err}
	}

	view := &remoteView{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tip, err := utils.Retry(gctx, e.retryConfig(types.SourceChain), e.explorer.GetTipHeight)
		if err != nil {
			return partial(types.SourceChain, err)
		}
		view.tipHeight = tip
		return nil
	})
	if len(chainAddresses) > 0 {
		g.Go(func() error {
			outputs, err := utils.Retry(gctx, e.retryConfig(types.SourceChain),
				func(ctx context.Context) ([]explorer.Output, error) {
					return e.explorer.GetAddressOutputs(ctx, chainAddresses)
				},
			)
			if err != nil {
				return partial(types.SourceChain, err)
			}
			view.chain = outputs
			return nil
		})
	}
	if len(scripts) > 0 {
		g.Go(func() error {
			vtxos, err := utils.Retry(gctx, e.retryConfig(types.SourceSettlement),
				func(ctx context.Context) ([]client.Vtxo, error) {
					return e.server.FetchVtxos(ctx, scripts)
				},
			)
			if err != nil {
				return partial(types.SourceSettlement, err)
			}
			view.vtxos = vtxos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return view, nil
}

// recordSyncState stores the sequence and digest this device last observed
// for the wallet.
func (e *Engine) recordSyncState(ctx context.Context, walletID string, synced bool) error {
	snapshot, err := e.walletStore().Snapshot(ctx, walletID)
	if err != nil {
		return err
	}
	digest, err := backup.Digest(*snapshot)
	if err != nil {
		return err
	}

	metadata := types.SyncMetadata{
		WalletID: walletID,
		DeviceID: e.cfg.DeviceID,
		Sequence: snapshot.Sequence,
		Digest:   digest,
	}
	if synced {
		metadata.LastSync = types.NormalizeTime(e.now())
	} else {
		prev, err := e.walletStore().GetSyncMetadata(ctx, walletID, e.cfg.DeviceID)
		if err != nil {
			return err
		}
		if prev != nil {
			metadata.LastSync = prev.LastSync
		}
	}
	return e.walletStore().UpdateSyncMetadata(ctx, metadata)
}

// StartAutoSync syncs every wallet each SyncInterval and, with the block
// feed enabled, whenever a new block is mined. It runs until ctx is done or
// the engine is closed.
func (e *Engine) StartAutoSync(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.bgCtx, cancel)

	var blocks <-chan explorer.Block
	if e.cfg.WithBlockFeed {
		var err error
		blocks, err = e.explorer.SubscribeBlocks(runCtx)
		if err != nil {
			stop()
			cancel()
			return fmt.Errorf("failed to subscribe to blocks: %w", err)
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer stop()
		defer cancel()
		e.autoSync(runCtx, blocks)
	}()
	return nil
}

func (e *Engine) autoSync(ctx context.Context, blocks <-chan explorer.Block) {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	log.Debugf("auto sync started, interval %s", e.cfg.SyncInterval)
	for {
		select {
		case <-ctx.Done():
			log.Debug("auto sync stopped")
			return
		case <-ticker.C:
		case block, ok := <-blocks:
			if !ok {
				blocks = nil
				continue
			}
			log.Debugf("new block %d, syncing wallets", block.Height)
			// coalesce blocks mined while syncing
			for drained := false; !drained; {
				select {
				case _, ok := <-blocks:
					if !ok {
						blocks = nil
						drained = true
					}
				default:
					drained = true
				}
			}
		}

		if _, err := e.SyncAll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("auto sync failed")
		}
	}
}
