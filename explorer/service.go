package explorer

import (
	"context"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
)

// Explorer is the chain source of the wallet engine. It talks to an
// esplora compatible REST API (mempool.space, esplora, mutinynet) and to the
// mempool websocket feed for new block notifications.
type Explorer interface {
	// GetAddressOutputs returns every output ever funding one of the given
	// addresses, with its confirmation and spend status.
	GetAddressOutputs(ctx context.Context, addresses []string) ([]Output, error)

	// GetTipHeight returns the height of the best block.
	GetTipHeight(ctx context.Context) (uint32, error)

	// Broadcast publishes a raw transaction, either hex encoded or as a b64
	// PSBT ready for extraction, and returns its txid.
	Broadcast(ctx context.Context, rawTx string) (string, error)

	// EstimateFee returns the fee rate in sat/vB to confirm within the
	// given number of blocks.
	EstimateFee(ctx context.Context, targetBlocks uint32) (float64, error)

	// SubscribeBlocks returns a channel notified on every new block. The
	// listener reconnects on its own and the channel is closed once ctx is
	// done.
	SubscribeBlocks(ctx context.Context) (<-chan Block, error)

	BaseUrl() string
	GetNetwork() arklib.Network
}

type Output struct {
	Txid        string
	Vout        uint32
	Address     string
	Script      string
	Amount      uint64
	Confirmed   bool
	BlockHeight uint32
	BlockTime   int64
	Spent       bool
	SpentBy     string
	// SpentAt is the block time of the spending tx, 0 while unconfirmed.
	SpentAt int64
}

func (o Output) CreatedAt() time.Time {
	if o.BlockTime <= 0 {
		return time.Time{}
	}
	return time.Unix(o.BlockTime, 0).UTC()
}

type Block struct {
	Height    uint32
	Hash      string
	Timestamp time.Time
}
