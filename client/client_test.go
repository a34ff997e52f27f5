package client_test

import (
	"testing"
	"time"

	arkv1 "github.com/arkade-os/arkd/api-spec/protobuf/gen/ark/v1"
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/client"
	"github.com/arkade-os/arkive/types"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
)

const vtxosJSON = `{
	"vtxos": [
		{
			"outpoint": {"txid": "aa", "vout": 1},
			"createdAt": "1700000000",
			"expiresAt": "100",
			"amount": "21000",
			"script": "5120ab",
			"isPreconfirmed": true,
			"commitmentTxids": ["c1", "c2"],
			"arkTxid": "ark1"
		},
		{
			"outpoint": {"txid": "bb", "vout": 0},
			"createdAt": "1700000100",
			"expiresAt": "1800000000",
			"amount": "5000",
			"script": "5120cd",
			"isSpent": true,
			"spentBy": "cc",
			"settledBy": "dd"
		}
	],
	"page": {"current": 0, "next": 1, "total": 1}
}`

func TestVtxosFromProto(t *testing.T) {
	resp := &arkv1.GetVtxosResponse{}
	require.NoError(t, protojson.Unmarshal([]byte(vtxosJSON), resp))

	vtxos := client.VtxosFromProto(resp.GetVtxos())
	require.Equal(t, []client.Vtxo{
		{
			Outpoint:        types.Outpoint{Txid: "aa", VOut: 1},
			Script:          "5120ab",
			Amount:          21000,
			CommitmentTxids: []string{"c1", "c2"},
			CreatedAt:       time.Unix(1_700_000_000, 0).UTC(),
			Expiry:          types.ExpiryAtHeight(100),
			Preconfirmed:    true,
			ArkTxid:         "ark1",
		},
		{
			Outpoint:  types.Outpoint{Txid: "bb", VOut: 0},
			Script:    "5120cd",
			Amount:    5000,
			CreatedAt: time.Unix(1_700_000_100, 0).UTC(),
			Expiry:    types.ExpiryAtTime(time.Unix(1_800_000_000, 0)),
			Spent:     true,
			SpentBy:   "cc",
			SettledBy: "dd",
		},
	}, vtxos)
	require.True(t, vtxos[0].Expiry.IsBlockHeight())
	require.False(t, vtxos[1].Expiry.IsBlockHeight())
	require.False(t, client.HasNextPage(resp.GetPage()))
}

func TestHasNextPage(t *testing.T) {
	tests := []struct {
		name     string
		page     *arkv1.IndexerPageResponse
		expected bool
	}{
		{"no page", nil, false},
		{"first of two", &arkv1.IndexerPageResponse{Current: 0, Next: 1, Total: 2}, true},
		{"last", &arkv1.IndexerPageResponse{Current: 1, Next: 2, Total: 2}, false},
		{"single", &arkv1.IndexerPageResponse{Current: 0, Next: 0, Total: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, client.HasNextPage(tt.page))
		})
	}
}

func TestInfo(t *testing.T) {
	const infoJSON = `{
		"signerPubkey": "02aa",
		"unilateralExitDelay": "512",
		"boardingExitDelay": "1024",
		"sessionDuration": "30",
		"network": "regtest",
		"dust": "330",
		"forfeitAddress": "bcrt1qforfeit",
		"version": "v0.8.0"
	}`
	resp := &arkv1.GetInfoResponse{}
	require.NoError(t, protojson.Unmarshal([]byte(infoJSON), resp))

	info := client.InfoFromProto(resp)
	require.Equal(t, client.Info{
		Version:             "v0.8.0",
		SignerPubKey:        "02aa",
		Network:             "regtest",
		ForfeitAddress:      "bcrt1qforfeit",
		UnilateralExitDelay: 512,
		BoardingExitDelay:   1024,
		SessionDuration:     30,
		Dust:                330,
	}, *info)

	unilateral, boarding, err := info.ExitDelays()
	require.NoError(t, err)
	require.Equal(t, arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 512}, unilateral)
	require.Equal(t, arklib.RelativeLocktime{Type: arklib.LocktimeTypeSecond, Value: 1024}, boarding)

	info.UnilateralExitDelay = 144
	unilateral, _, err = info.ExitDelays()
	require.NoError(t, err)
	require.Equal(t, arklib.RelativeLocktime{Type: arklib.LocktimeTypeBlock, Value: 144}, unilateral)

	info.BoardingExitDelay = -1
	_, _, err = info.ExitDelays()
	require.Error(t, err)
}
