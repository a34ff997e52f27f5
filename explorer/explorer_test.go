package explorer_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/explorer"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type testPrevout struct {
	Script  string `json:"scriptpubkey"`
	Address string `json:"scriptpubkey_address"`
	Amount  uint64 `json:"value"`
}

type testVin struct {
	Txid    string       `json:"txid"`
	Vout    uint32       `json:"vout"`
	Prevout *testPrevout `json:"prevout"`
}

type testStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

type testTx struct {
	Txid   string        `json:"txid"`
	Vin    []testVin     `json:"vin"`
	Vout   []testPrevout `json:"vout"`
	Status testStatus    `json:"status"`
}

func TestGetAddressOutputs(t *testing.T) {
	addrA := testAddress(t, 1)
	addrB := testAddress(t, 2)
	other := testAddress(t, 3)

	funding := testTx{
		Txid: txid(1000),
		Vin:  []testVin{{Txid: txid(999), Vout: 0, Prevout: &testPrevout{Address: other, Amount: 60_000}}},
		Vout: []testPrevout{
			{Script: "5120aa", Address: addrA, Amount: 50_000},
			{Script: "5120bb", Address: other, Amount: 9_000},
		},
		Status: testStatus{Confirmed: true, BlockHeight: 100, BlockTime: 1_700_000_000},
	}
	spending := testTx{
		Txid:   txid(1001),
		Vin:    []testVin{{Txid: funding.Txid, Vout: 0, Prevout: &testPrevout{Address: addrA, Amount: 50_000}}},
		Vout:   []testPrevout{{Address: other, Amount: 49_000}},
		Status: testStatus{Confirmed: false},
	}

	// addrB has more confirmed txs than a single esplora page
	firstPage := make([]testTx, 0, 25)
	for i := 0; i < 25; i++ {
		firstPage = append(firstPage, fundingTx(i, addrB))
	}
	chainPage := []testTx{fundingTx(25, addrB), fundingTx(26, addrB), fundingTx(27, addrB)}

	var requests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/address/{addr}/txs", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch r.PathValue("addr") {
		case addrA:
			writeJSON(w, []testTx{spending, funding})
		case addrB:
			writeJSON(w, firstPage)
		default:
			writeJSON(w, []testTx{})
		}
	})
	mux.HandleFunc(
		"GET /api/address/{addr}/txs/chain/{last}", func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			if r.PathValue("addr") != addrB || r.PathValue("last") != txid(24) {
				writeJSON(w, []testTx{})
				return
			}
			writeJSON(w, chainPage)
		},
	)
	svc := newTestExplorer(t, mux)

	t.Run("spent output", func(t *testing.T) {
		outputs, err := svc.GetAddressOutputs(context.Background(), []string{addrA})
		require.NoError(t, err)
		require.Equal(t, []explorer.Output{{
			Txid:        funding.Txid,
			Vout:        0,
			Address:     addrA,
			Script:      "5120aa",
			Amount:      50_000,
			Confirmed:   true,
			BlockHeight: 100,
			BlockTime:   1_700_000_000,
			Spent:       true,
			SpentBy:     spending.Txid,
		}}, outputs)
		require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), outputs[0].CreatedAt())
	})

	t.Run("paginated", func(t *testing.T) {
		requests.Store(0)
		outputs, err := svc.GetAddressOutputs(context.Background(), []string{addrB, addrB})
		require.NoError(t, err)
		require.Len(t, outputs, 28)
		require.Equal(t, int32(2), requests.Load())
		for i, out := range outputs {
			require.Equal(t, txid(i), out.Txid)
			require.Equal(t, uint64(1000+i), out.Amount)
			require.False(t, out.Spent)
		}
	})

	t.Run("multiple addresses", func(t *testing.T) {
		outputs, err := svc.GetAddressOutputs(context.Background(), []string{addrA, addrB, other})
		require.NoError(t, err)
		require.Len(t, outputs, 29)
	})

	t.Run("invalid address", func(t *testing.T) {
		requests.Store(0)
		_, err := svc.GetAddressOutputs(context.Background(), []string{addrA, "not-an-address"})
		require.Error(t, err)
		require.Zero(t, requests.Load())
	})
}

func TestGetTipHeight(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		expected  uint32
		retryable bool
		checkErr  func(t *testing.T, err error)
	}{
		{
			name:     "ok",
			status:   http.StatusOK,
			body:     "101\n",
			expected: 101,
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			body:      "boom",
			retryable: true,
			checkErr: func(t *testing.T, err error) {
				var httpErr *utils.HTTPStatusError
				require.ErrorAs(t, err, &httpErr)
				require.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
			},
		},
		{
			name:   "malformed",
			status: http.StatusOK,
			body:   "tip",
			checkErr: func(t *testing.T, err error) {
				var malformed *utils.MalformedResponseError
				require.ErrorAs(t, err, &malformed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/blocks/tip/height", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				// nolint
				w.Write([]byte(tt.body))
			})
			svc := newTestExplorer(t, mux)

			height, err := svc.GetTipHeight(context.Background())
			if tt.checkErr == nil {
				require.NoError(t, err)
				require.Equal(t, tt.expected, height)
				return
			}
			require.Error(t, err)
			tt.checkErr(t, err)
			retry, _ := utils.ShouldRetry(err)
			require.Equal(t, tt.retryable, retry)
		})
	}
}

func TestEstimateFee(t *testing.T) {
	estimates := map[string]float64{"1": 20.5, "3": 10, "6": 5, "144": 1.2}

	tests := []struct {
		name      string
		estimates map[string]float64
		target    uint32
		expected  float64
	}{
		{"next block", estimates, 1, 20.5},
		{"below fastest", estimates, 0, 20.5},
		{"between targets", estimates, 2, 20.5},
		{"exact target", estimates, 6, 5},
		{"slow", estimates, 200, 1.2},
		{"no estimates", map[string]float64{}, 3, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/fee-estimates", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, tt.estimates)
			})
			svc := newTestExplorer(t, mux)

			feeRate, err := svc.EstimateFee(context.Background(), tt.target)
			require.NoError(t, err)
			require.Equal(t, tt.expected, feeRate)
		})
	}
}

func TestBroadcast(t *testing.T) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 1}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	txHex := hex.EncodeToString(buf.Bytes())
	expectedTxid := tx.TxHash().String()

	tests := []struct {
		name   string
		rawTx  string
		status int
		body   string
		err    bool
		posted bool
	}{
		{
			name:   "ok",
			rawTx:  txHex,
			status: http.StatusOK,
			body:   expectedTxid,
			posted: true,
		},
		{
			name:   "already confirmed",
			rawTx:  txHex,
			status: http.StatusBadRequest,
			body:   `sendrawtransaction RPC error: {"code":-27,"message":"Transaction already in block chain"}`,
			posted: true,
		},
		{
			name:   "rejected",
			rawTx:  txHex,
			status: http.StatusBadRequest,
			body:   `sendrawtransaction RPC error: {"code":-26,"message":"min relay fee not met"}`,
			err:    true,
			posted: true,
		},
		{
			name:  "invalid tx",
			rawTx: "zz",
			err:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var posted atomic.Bool
			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/tx", func(w http.ResponseWriter, r *http.Request) {
				posted.Store(true)
				body, err := io.ReadAll(r.Body)
				if err != nil || string(body) != txHex {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(tt.status)
				// nolint
				w.Write([]byte(tt.body))
			})
			svc := newTestExplorer(t, mux)

			gotTxid, err := svc.Broadcast(context.Background(), tt.rawTx)
			require.Equal(t, tt.posted, posted.Load())
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, expectedTxid, gotTxid)
		})
	}
}

func TestSubscribeBlocks(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// nolint
		defer conn.Close()

		var want map[string]any
		if err := conn.ReadJSON(&want); err != nil || want["action"] != "want" {
			return
		}

		if conns.Add(1) == 1 {
			// nolint
			conn.WriteMessage(websocket.TextMessage, []byte("not json"))
			// nolint
			conn.WriteJSON(map[string]any{"blocks": []map[string]any{
				{"id": "hash-99", "height": 99, "timestamp": 1_700_000_099},
				{"id": "hash-100", "height": 100, "timestamp": 1_700_000_100},
			}})
			// nolint
			conn.WriteJSON(map[string]any{
				"block": map[string]any{"id": "hash-101", "height": 101, "timestamp": 1_700_000_101},
			})
			// drop the first connection to force a reconnect
			return
		}

		// nolint
		conn.WriteJSON(map[string]any{
			"block": map[string]any{"id": "hash-102", "height": 102, "timestamp": 1_700_000_102},
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	svc := newTestExplorer(t, mux, explorer.WithReconnectDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	blocks, err := svc.SubscribeBlocks(ctx)
	require.NoError(t, err)

	for _, height := range []uint32{100, 101, 102} {
		select {
		case block, ok := <-blocks:
			require.True(t, ok)
			require.Equal(t, height, block.Height)
			require.Equal(t, fmt.Sprintf("hash-%d", height), block.Hash)
			require.Equal(t, time.Unix(1_700_000_000+int64(height), 0).UTC(), block.Timestamp)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for block %d", height)
		}
	}

	cancel()
	select {
	case _, ok := <-blocks:
		require.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("block channel not closed after cancel")
	}
	require.Equal(t, int32(2), conns.Load())
}

func TestNewExplorer(t *testing.T) {
	svc, err := explorer.NewExplorer("", arklib.BitcoinMutinyNet)
	require.NoError(t, err)
	require.Equal(t, "https://mutinynet.com/api", svc.BaseUrl())
	require.Equal(t, arklib.BitcoinMutinyNet, svc.GetNetwork())

	_, err = explorer.NewExplorer("ftp://example.com", arklib.BitcoinRegTest)
	require.Error(t, err)

	_, err = explorer.NewExplorer("", arklib.Network{Name: "unknown"})
	require.Error(t, err)
}

func newTestExplorer(t *testing.T, handler http.Handler, opts ...explorer.Option) explorer.Explorer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := explorer.NewExplorer(srv.URL+"/api", arklib.BitcoinRegTest, opts...)
	require.NoError(t, err)
	return svc
}

func testAddress(t *testing.T, b byte) string {
	t.Helper()
	addr, err := btcutil.NewAddressTaproot(
		bytes.Repeat([]byte{b}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func txid(i int) string {
	return fmt.Sprintf("%064x", i)
}

func fundingTx(i int, addr string) testTx {
	return testTx{
		Txid:   txid(i),
		Vin:    []testVin{{Txid: txid(5000 + i), Vout: 0}},
		Vout:   []testPrevout{{Address: addr, Amount: uint64(1000 + i)}},
		Status: testStatus{Confirmed: true, BlockHeight: uint32(200 - i), BlockTime: 1_700_000_000},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}
