package types

import (
	"fmt"
	"net/url"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
)

const (
	TransportREST = "rest"
	TransportGRPC = "grpc"
)

// BoardingPolicy decides which collaborator is authoritative for the status
// of boarding outputs once both report on them.
type BoardingPolicy string

const (
	// BoardingPreferSettlement lets a settlement confirmation override the
	// chain status as soon as the settlement server reports it.
	BoardingPreferSettlement BoardingPolicy = "settlement"
	// BoardingPreferChain always uses the chain source status.
	BoardingPreferChain BoardingPolicy = "chain"
)

const (
	DefaultSyncInterval     = 30 * time.Second
	DefaultRemoteTimeout    = 15 * time.Second
	DefaultMaxRetries       = 3
	DefaultRenewalThreshold = time.Hour
)

type Config struct {
	Network          arklib.Network
	ServerUrl        string
	ServerTransport  string
	ExplorerURL      string
	DeviceID         string
	SyncInterval     time.Duration
	RemoteTimeout    time.Duration
	MaxRetries       int
	BoardingPolicy   BoardingPolicy
	RenewalThreshold time.Duration
	WithBlockFeed    bool
}

// NewConfig returns the preset for the given network.
func NewConfig(network arklib.Network) Config {
	cfg := Config{
		Network:          network,
		ServerUrl:        "http://localhost:7070",
		ServerTransport:  TransportREST,
		ExplorerURL:      "http://localhost:3000",
		SyncInterval:     DefaultSyncInterval,
		RemoteTimeout:    DefaultRemoteTimeout,
		MaxRetries:       DefaultMaxRetries,
		BoardingPolicy:   BoardingPreferSettlement,
		RenewalThreshold: DefaultRenewalThreshold,
	}

	switch network.Name {
	case arklib.BitcoinMutinyNet.Name:
		cfg.ExplorerURL = "https://mutinynet.com/api"
		cfg.ServerUrl = "https://mutinynet.arkade.sh"
	case arklib.BitcoinSigNet.Name:
		cfg.ExplorerURL = "https://mempool.space/signet/api"
		cfg.ServerUrl = "https://signet.arkade.sh"
	case arklib.Bitcoin.Name:
		// no public default, mainnet requires an explicit server
		cfg.ExplorerURL = "https://mempool.space/api"
		cfg.ServerUrl = ""
	}

	return cfg
}

func (c Config) Validate() error {
	if len(c.Network.Name) <= 0 {
		return fmt.Errorf("missing network")
	}
	if len(c.ServerUrl) <= 0 {
		return fmt.Errorf("missing server url")
	}
	if _, err := url.Parse(c.ServerUrl); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if len(c.ExplorerURL) <= 0 {
		return fmt.Errorf("missing explorer url")
	}
	if _, err := url.Parse(c.ExplorerURL); err != nil {
		return fmt.Errorf("invalid explorer url: %w", err)
	}
	switch c.ServerTransport {
	case TransportREST, TransportGRPC:
	default:
		return fmt.Errorf("unsupported server transport %q", c.ServerTransport)
	}
	switch c.BoardingPolicy {
	case BoardingPreferSettlement, BoardingPreferChain:
	default:
		return fmt.Errorf("unsupported boarding policy %q", c.BoardingPolicy)
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote timeout must be greater than 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	return nil
}

// RelativeLocktimeFromValue follows the server convention where values below
// 512 are a number of blocks and the others a number of seconds. Zero is
// the unset locktime.
func RelativeLocktimeFromValue(value uint32) arklib.RelativeLocktime {
	if value == 0 {
		return arklib.RelativeLocktime{}
	}
	if value >= 512 {
		return arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: value}
	}
	return arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: value}
}
