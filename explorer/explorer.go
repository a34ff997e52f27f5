package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/btcsuite/btcd/btcutil"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// esplora returns confirmed address txs in pages of this size.
	chainPageSize = 25

	maxResponseSize       = 32 << 20
	defaultMaxConcurrency = 4
	defaultHTTPTimeout    = 30 * time.Second

	pongInterval          = 60 * time.Second
	pingInterval          = (pongInterval * 9) / 10
	defaultReconnectDelay = 5 * time.Second
	blockBufferSize       = 16
)

var defaultExplorerUrls = map[string]string{
	arklib.Bitcoin.Name:          "https://mempool.space/api",
	arklib.BitcoinTestNet.Name:   "https://mempool.space/testnet/api",
	arklib.BitcoinSigNet.Name:    "https://mempool.space/signet/api",
	arklib.BitcoinMutinyNet.Name: "https://mutinynet.com/api",
	arklib.BitcoinRegTest.Name:   "http://localhost:3000",
}

type explorerSvc struct {
	baseUrl        string
	net            arklib.Network
	httpClient     *http.Client
	maxConcurrency int
	pingInterval   time.Duration
	reconnectDelay time.Duration
}

// NewExplorer returns an esplora client for the given network. If baseUrl is
// empty the public default of the network is used.
func NewExplorer(baseUrl string, net arklib.Network, opts ...Option) (Explorer, error) {
	if len(baseUrl) == 0 {
		defaultUrl, ok := defaultExplorerUrls[net.Name]
		if !ok {
			return nil, fmt.Errorf(
				"cannot find default explorer url associated with network %s", net.Name,
			)
		}
		baseUrl = defaultUrl
	}
	if _, err := deriveWsURL(baseUrl); err != nil {
		return nil, fmt.Errorf("invalid base url: %s", err)
	}

	svc := &explorerSvc{
		baseUrl:        strings.TrimRight(baseUrl, "/"),
		net:            net,
		httpClient:     &http.Client{Timeout: defaultHTTPTimeout},
		maxConcurrency: defaultMaxConcurrency,
		pingInterval:   pingInterval,
		reconnectDelay: defaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

func (e *explorerSvc) BaseUrl() string {
	return e.baseUrl
}

func (e *explorerSvc) GetNetwork() arklib.Network {
	return e.net
}

func (e *explorerSvc) GetAddressOutputs(
	ctx context.Context, addresses []string,
) ([]Output, error) {
	params := utils.ToBitcoinNetwork(e.net)
	unique := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		if _, err := btcutil.DecodeAddress(addr, &params); err != nil {
			return nil, fmt.Errorf("invalid address %s: %w", addr, err)
		}
		unique[addr] = struct{}{}
	}

	mu := &sync.Mutex{}
	outputs := make([]Output, 0)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.maxConcurrency)
	for addr := range unique {
		eg.Go(func() error {
			txs, err := e.getAddressTxs(egCtx, addr)
			if err != nil {
				return err
			}
			addrOutputs := outputsFromTxs(addr, txs)

			mu.Lock()
			outputs = append(outputs, addrOutputs...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].Txid != outputs[j].Txid {
			return outputs[i].Txid < outputs[j].Txid
		}
		return outputs[i].Vout < outputs[j].Vout
	})
	return outputs, nil
}

func (e *explorerSvc) GetTipHeight(ctx context.Context) (uint32, error) {
	body, err := e.get(ctx, "blocks", "tip", "height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, &utils.MalformedResponseError{Err: fmt.Errorf("invalid tip height: %w", err)}
	}
	return uint32(height), nil
}

func (e *explorerSvc) Broadcast(ctx context.Context, rawTx string) (string, error) {
	txHex, txid, err := parseBitcoinTx(rawTx)
	if err != nil {
		return "", fmt.Errorf("invalid tx: %w", err)
	}

	endpoint, err := url.JoinPath(e.baseUrl, "tx")
	if err != nil {
		return "", err
	}
	body, err := e.do(ctx, http.MethodPost, endpoint, "text/plain", []byte(txHex))
	if err != nil {
		if strings.Contains(
			strings.ToLower(err.Error()), "transaction already in block chain",
		) {
			return txid, nil
		}
		return "", err
	}

	if gotTxid := strings.TrimSpace(string(body)); len(gotTxid) > 0 && gotTxid != txid {
		log.Warnf("explorer: broadcast returned txid %s, expected %s", gotTxid, txid)
	}
	return txid, nil
}

func (e *explorerSvc) EstimateFee(ctx context.Context, targetBlocks uint32) (float64, error) {
	body, err := e.get(ctx, "fee-estimates")
	if err != nil {
		return 0, err
	}

	var response map[string]float64
	if err := json.Unmarshal(body, &response); err != nil {
		return 0, &utils.MalformedResponseError{Err: err}
	}
	return pickFeeRate(response, targetBlocks), nil
}

// getAddressTxs returns mempool and confirmed txs of the address, following
// the esplora chain pagination.
func (e *explorerSvc) getAddressTxs(ctx context.Context, addr string) (txs, error) {
	firstPage, err := e.getTxsPage(ctx, "address", addr, "txs")
	if err != nil {
		return nil, err
	}

	all := append(txs{}, firstPage...)
	page := firstPage.confirmed()
	seen := make(map[string]struct{})
	for len(page) >= chainPageSize {
		lastSeen := page[len(page)-1].Txid
		if _, ok := seen[lastSeen]; ok {
			break
		}
		seen[lastSeen] = struct{}{}

		page, err = e.getTxsPage(ctx, "address", addr, "txs", "chain", lastSeen)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
	}
	return all, nil
}

func (e *explorerSvc) getTxsPage(ctx context.Context, path ...string) (txs, error) {
	body, err := e.get(ctx, path...)
	if err != nil {
		return nil, err
	}
	payload := txs{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &utils.MalformedResponseError{Err: err}
	}
	return payload, nil
}

func (e *explorerSvc) get(ctx context.Context, path ...string) ([]byte, error) {
	endpoint, err := url.JoinPath(e.baseUrl, path...)
	if err != nil {
		return nil, err
	}
	return e.do(ctx, http.MethodGet, endpoint, "", nil)
}

func (e *explorerSvc) do(
	ctx context.Context, method, endpoint, contentType string, payload []byte,
) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	if len(contentType) > 0 {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	// nolint:all
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &utils.HTTPStatusError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return body, nil
}

func outputsFromTxs(addr string, list txs) []Output {
	type spend struct {
		txid      string
		confirmed bool
		blockTime int64
	}

	outputs := make(map[string]*Output)
	spends := make(map[string]spend)
	for _, tx := range list {
		for vout, out := range tx.Vout {
			if out.Address != addr {
				continue
			}
			key := fmt.Sprintf("%s:%d", tx.Txid, vout)
			outputs[key] = &Output{
				Txid:        tx.Txid,
				Vout:        uint32(vout),
				Address:     out.Address,
				Script:      out.Script,
				Amount:      out.Amount,
				Confirmed:   tx.Status.Confirmed,
				BlockHeight: tx.Status.BlockHeight,
				BlockTime:   tx.Status.BlockTime,
			}
		}
		for _, in := range tx.Vin {
			if in.Prevout == nil || in.Prevout.Address != addr {
				continue
			}
			key := fmt.Sprintf("%s:%d", in.Txid, in.Vout)
			// a confirmed spend wins over a conflicting mempool one
			if prev, ok := spends[key]; ok && prev.confirmed {
				continue
			}
			spends[key] = spend{
				txid:      tx.Txid,
				confirmed: tx.Status.Confirmed,
				blockTime: tx.Status.BlockTime,
			}
		}
	}

	res := make([]Output, 0, len(outputs))
	for key, out := range outputs {
		if s, ok := spends[key]; ok {
			out.Spent = true
			out.SpentBy = s.txid
			if s.confirmed {
				out.SpentAt = s.blockTime
			}
		}
		res = append(res, *out)
	}
	return res
}

// pickFeeRate returns the estimate of the largest target not above
// targetBlocks, or the fastest one if targetBlocks is below every target.
func pickFeeRate(estimates map[string]float64, targetBlocks uint32) float64 {
	if len(estimates) == 0 {
		return 1
	}

	type estimate struct {
		target  uint64
		feeRate float64
	}
	list := make([]estimate, 0, len(estimates))
	for k, v := range estimates {
		target, err := strconv.ParseUint(k, 10, 32)
		if err != nil {
			continue
		}
		list = append(list, estimate{target, v})
	}
	if len(list) == 0 {
		return 1
	}
	sort.Slice(list, func(i, j int) bool { return list[i].target < list[j].target })

	feeRate := list[0].feeRate
	for _, est := range list {
		if est.target > uint64(targetBlocks) {
			break
		}
		feeRate = est.feeRate
	}
	return feeRate
}
