package arkive

import (
	"fmt"
	"time"

	"github.com/arkade-os/arkive/backup"
	"github.com/arkade-os/arkive/client"
	"github.com/arkade-os/arkive/explorer"
	"github.com/arkade-os/arkive/types"
	"github.com/arkade-os/arkive/wallet"
	log "github.com/sirupsen/logrus"
)

type EngineOption func(*Engine)

// WithConfig initializes the engine config if the store has none yet.
func WithConfig(cfg types.Config) EngineOption {
	return func(e *Engine) {
		e.initCfg = &cfg
	}
}

func WithExplorer(svc explorer.Explorer) EngineOption {
	return func(e *Engine) {
		e.explorer = svc
	}
}

func WithSettlementServer(svc client.SettlementServer) EngineOption {
	return func(e *Engine) {
		e.server = svc
	}
}

func WithScriptBuilder(builder wallet.VtxoScriptBuilder) EngineOption {
	return func(e *Engine) {
		e.allocator = wallet.NewAllocator(builder)
	}
}

func WithKDFParams(params backup.KDFParams) EngineOption {
	return func(e *Engine) {
		e.kdfParams = params
	}
}

// WithClock replaces the wall clock used to evaluate time based expiries
// and to timestamp records.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRetryInterval sets the first wait between attempts of a failing
// remote call.
func WithRetryInterval(interval time.Duration) EngineOption {
	return func(e *Engine) {
		e.retryInterval = interval
	}
}

func WithVerbose(verbose bool) EngineOption {
	return func(e *Engine) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	}
}

type Option func(options any) error

// ImportOptions customizes the import of a backup.
type ImportOptions struct {
	ExpectedDigest string
}

// WithExpectedDigest makes the import fail with a DigestMismatchError if the
// decrypted state does not match digest.
func WithExpectedDigest(digest string) Option {
	return func(o any) error {
		opts, ok := o.(*ImportOptions)
		if !ok {
			return fmt.Errorf("invalid options type")
		}
		opts.ExpectedDigest = digest
		return nil
	}
}

// SyncOptions customizes a sync cycle.
type SyncOptions struct {
	DryRun bool
}

// WithDryRun computes the sync batch without applying it.
func WithDryRun(o any) error {
	opts, ok := o.(*SyncOptions)
	if !ok {
		return fmt.Errorf("invalid options type")
	}
	opts.DryRun = true
	return nil
}
