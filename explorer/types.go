package explorer

type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height"`
	BlockHash   string `json:"block_hash"`
	BlockTime   int64  `json:"block_time"`
}

type prevout struct {
	Script  string `json:"scriptpubkey"`
	Address string `json:"scriptpubkey_address"`
	Amount  uint64 `json:"value"`
}

type tx struct {
	Txid string `json:"txid"`
	Vin  []struct {
		Txid    string   `json:"txid"`
		Vout    uint32   `json:"vout"`
		Prevout *prevout `json:"prevout"`
	} `json:"vin"`
	Vout   []prevout `json:"vout"`
	Status txStatus  `json:"status"`
}

type txs []tx

func (t txs) confirmed() txs {
	res := make(txs, 0, len(t))
	for _, tx := range t {
		if tx.Status.Confirmed {
			res = append(res, tx)
		}
	}
	return res
}

type wantMessage struct {
	Action string   `json:"action"`
	Data   []string `json:"data"`
}

type blockInfo struct {
	Id        string `json:"id"`
	Height    uint32 `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// blockNotification is sent by the mempool websocket. The first message
// after subscribing carries the latest blocks, the following ones a single
// new block.
type blockNotification struct {
	Block  *blockInfo  `json:"block,omitempty"`
	Blocks []blockInfo `json:"blocks,omitempty"`
}
