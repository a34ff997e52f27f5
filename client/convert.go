package client

import (
	"time"

	arkv1 "github.com/arkade-os/arkd/api-spec/protobuf/gen/ark/v1"
	"github.com/arkade-os/arkive/types"
	"github.com/ccoveille/go-safecast"
)

// InfoFromProto is shared by the grpc transport and the rest one, which
// decodes the gateway json into the same messages.
func InfoFromProto(resp *arkv1.GetInfoResponse) *Info {
	dust, err := safecast.ToUint64(resp.GetDust())
	if err != nil {
		dust = 0
	}
	return &Info{
		Version:             resp.GetVersion(),
		SignerPubKey:        resp.GetSignerPubkey(),
		Network:             resp.GetNetwork(),
		ForfeitAddress:      resp.GetForfeitAddress(),
		UnilateralExitDelay: resp.GetUnilateralExitDelay(),
		BoardingExitDelay:   resp.GetBoardingExitDelay(),
		SessionDuration:     resp.GetSessionDuration(),
		Dust:                dust,
	}
}

func VtxosFromProto(vtxos []*arkv1.IndexerVtxo) []Vtxo {
	res := make([]Vtxo, 0, len(vtxos))
	for _, vtxo := range vtxos {
		res = append(res, VtxoFromProto(vtxo))
	}
	return res
}

func VtxoFromProto(vtxo *arkv1.IndexerVtxo) Vtxo {
	var createdAt time.Time
	if vtxo.GetCreatedAt() > 0 {
		createdAt = time.Unix(vtxo.GetCreatedAt(), 0).UTC()
	}
	return Vtxo{
		Outpoint: types.Outpoint{
			Txid: vtxo.GetOutpoint().GetTxid(),
			VOut: vtxo.GetOutpoint().GetVout(),
		},
		Script:          vtxo.GetScript(),
		Amount:          vtxo.GetAmount(),
		CommitmentTxids: vtxo.GetCommitmentTxids(),
		CreatedAt:       createdAt,
		Expiry:          types.Expiry(vtxo.GetExpiresAt()),
		Preconfirmed:    vtxo.GetIsPreconfirmed(),
		Swept:           vtxo.GetIsSwept(),
		Unrolled:        vtxo.GetIsUnrolled(),
		Spent:           vtxo.GetIsSpent(),
		SpentBy:         vtxo.GetSpentBy(),
		SettledBy:       vtxo.GetSettledBy(),
		ArkTxid:         vtxo.GetArkTxid(),
	}
}

// HasNextPage tells whether the indexer has more pages after this one.
func HasNextPage(page *arkv1.IndexerPageResponse) bool {
	return page != nil && page.GetNext() > page.GetCurrent() &&
		page.GetNext() < page.GetTotal()
}
