package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/txscript"
)

const (
	InMemoryStore = "inmemory"
	FileStore     = "file"
	KVStore       = "kv"
	SQLStore      = "sql"
)

// SnapshotVersion is the only snapshot format this engine reads and writes.
const SnapshotVersion uint32 = 1

type Outpoint struct {
	Txid string
	VOut uint32
}

func (v Outpoint) String() string {
	return fmt.Sprintf("%s:%d", v.Txid, v.VOut)
}

func (v Outpoint) Less(other Outpoint) bool {
	if v.Txid != other.Txid {
		return v.Txid < other.Txid
	}
	return v.VOut < other.VOut
}

func ParseOutpoint(s string) (Outpoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) <= 0 {
		return Outpoint{}, fmt.Errorf("invalid outpoint %q", s)
	}
	vout, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("invalid outpoint %q: %w", s, err)
	}
	return Outpoint{Txid: parts[0], VOut: uint32(vout)}, nil
}

type AddressKind uint8

const (
	AddressOnchain AddressKind = iota
	AddressOffchain
	AddressBoarding
)

var AddressKinds = []AddressKind{AddressOnchain, AddressOffchain, AddressBoarding}

func (k AddressKind) String() string {
	switch k {
	case AddressOnchain:
		return "onchain"
	case AddressOffchain:
		return "offchain"
	case AddressBoarding:
		return "boarding"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func (k AddressKind) IsValid() bool {
	return k <= AddressBoarding
}

// Domain returns where outputs received at an address of this kind live.
func (k AddressKind) Domain() Domain {
	if k == AddressOffchain {
		return DomainOffchain
	}
	return DomainOnchain
}

func ParseAddressKind(s string) (AddressKind, error) {
	for _, k := range AddressKinds {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	if strings.EqualFold(s, "ark") {
		return AddressOffchain, nil
	}
	return 0, fmt.Errorf("unknown address kind %q", s)
}

type Domain uint8

const (
	DomainOnchain Domain = iota
	DomainOffchain
)

func (d Domain) String() string {
	if d == DomainOffchain {
		return "offchain"
	}
	return "onchain"
}

func ParseDomain(s string) (Domain, error) {
	switch strings.ToLower(s) {
	case "onchain", "on-chain":
		return DomainOnchain, nil
	case "offchain", "off-chain", "ark":
		return DomainOffchain, nil
	default:
		return 0, fmt.Errorf("unknown domain %q", s)
	}
}

type Direction uint8

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	if d == DirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

type TxStatus uint8

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxSettled
	TxFailed
)

func (s TxStatus) String() string {
	return map[TxStatus]string{
		TxPending:   "pending",
		TxConfirmed: "confirmed",
		TxSettled:   "settled",
		TxFailed:    "failed",
	}[s]
}

// Expiry is the end of a vtxo validity window, either a block height or a
// unix timestamp, disambiguated with the same threshold used by nLockTime.
type Expiry int64

func ExpiryAtHeight(height uint32) Expiry {
	return Expiry(height)
}

func ExpiryAtTime(t time.Time) Expiry {
	if t.IsZero() {
		return 0
	}
	return Expiry(t.Unix())
}

func (e Expiry) IsSet() bool {
	return e > 0
}

func (e Expiry) IsBlockHeight() bool {
	return e.IsSet() && int64(e) < int64(txscript.LockTimeThreshold)
}

func (e Expiry) Time() time.Time {
	if !e.IsSet() || e.IsBlockHeight() {
		return time.Time{}
	}
	return time.Unix(int64(e), 0)
}

// Elapsed reports whether the window closed before the given chain tip and
// wall clock.
func (e Expiry) Elapsed(tipHeight uint32, now time.Time) bool {
	if !e.IsSet() {
		return false
	}
	if e.IsBlockHeight() {
		return int64(tipHeight) > int64(e)
	}
	return now.Unix() > int64(e)
}

// Within reports whether the window closes within the given threshold.
// Heights are converted assuming ten minute blocks.
func (e Expiry) Within(threshold time.Duration, tipHeight uint32, now time.Time) bool {
	if !e.IsSet() {
		return false
	}
	if e.IsBlockHeight() {
		blocks := int64(threshold / (10 * time.Minute))
		return int64(e)-int64(tipHeight) <= blocks
	}
	return time.Unix(int64(e), 0).Sub(now) <= threshold
}

func (e Expiry) String() string {
	switch {
	case !e.IsSet():
		return "none"
	case e.IsBlockHeight():
		return fmt.Sprintf("height %d", int64(e))
	default:
		return e.Time().UTC().Format(time.RFC3339)
	}
}

type Wallet struct {
	ID                  string
	Fingerprint         string
	Network             arklib.Network
	CreatedAt           time.Time
	EncryptedSeed       []byte
	AccountXpub         string
	SignerPubKey        string
	UnilateralExitDelay arklib.RelativeLocktime
	BoardingExitDelay   arklib.RelativeLocktime
	GenesisFunding      int64
}

func (w Wallet) String() string {
	w.EncryptedSeed = nil
	// nolint
	b, _ := json.MarshalIndent(w, "", "  ")
	return string(b)
}

type Address struct {
	WalletID       string
	Kind           AddressKind
	Index          uint32
	DerivationPath string
	Address        string
	Script         string
	CreatedAt      time.Time
	Used           bool
}

// DerivedAddress is the output of a pure derivation for one index.
type DerivedAddress struct {
	Address        string
	Script         string
	DerivationPath string
}

// DeriveFunc derives the address for the given index. Stores call it while
// holding the wallet write lock so it must not call back into the store.
type DeriveFunc func(index uint32) (*DerivedAddress, error)

type Output struct {
	Outpoint
	Domain          Domain
	Address         string
	Amount          uint64
	ConfirmedHeight uint32
	CreatedAt       time.Time
	Expiry          Expiry
	CommitmentTxids []string
	Preconfirmed    bool
	Spent           bool
	SpentBy         string
	RequiresExit    bool
}

func (o Output) IsConfirmed() bool {
	return o.ConfirmedHeight > 0
}

// IsSpendableOffchain is false for spent vtxos and for those that must be
// exited on-chain.
func (o Output) IsSpendableOffchain() bool {
	return o.Domain == DomainOffchain && !o.Spent && !o.RequiresExit
}

func (o Output) String() string {
	// nolint
	b, _ := json.MarshalIndent(o, "", "  ")
	return string(b)
}

type Transaction struct {
	ID        string
	Direction Direction
	Domain    Domain
	Consumed  []Outpoint
	Created   []Outpoint
	Delta     int64
	Timestamp time.Time
	Status    TxStatus
}

func (t Transaction) String() string {
	// nolint
	buf, _ := json.MarshalIndent(t, "", "  ")
	return string(buf)
}

type Snapshot struct {
	Version      uint32
	Wallet       Wallet
	Addresses    []Address
	Cursors      map[AddressKind]uint32
	Outputs      []Output
	Transactions []Transaction
	Sequence     uint64
	DeviceID     string
	TakenAt      time.Time
}

// Canonicalize orders every entity list so that equal states produce equal
// snapshots.
func (s *Snapshot) Canonicalize() {
	sort.SliceStable(s.Addresses, func(i, j int) bool {
		a, b := s.Addresses[i], s.Addresses[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Index < b.Index
	})
	sort.SliceStable(s.Outputs, func(i, j int) bool {
		return s.Outputs[i].Outpoint.Less(s.Outputs[j].Outpoint)
	})
	sort.SliceStable(s.Transactions, func(i, j int) bool {
		return s.Transactions[i].ID < s.Transactions[j].ID
	})
	if len(s.Addresses) == 0 {
		s.Addresses = nil
	}
	if len(s.Outputs) == 0 {
		s.Outputs = nil
	}
	if len(s.Transactions) == 0 {
		s.Transactions = nil
	}
	s.Wallet.CreatedAt = NormalizeTime(s.Wallet.CreatedAt)
	if len(s.Wallet.EncryptedSeed) == 0 {
		s.Wallet.EncryptedSeed = nil
	}
	s.TakenAt = NormalizeTime(s.TakenAt)
	for i := range s.Addresses {
		s.Addresses[i].CreatedAt = NormalizeTime(s.Addresses[i].CreatedAt)
	}
	for i := range s.Outputs {
		s.Outputs[i].CreatedAt = NormalizeTime(s.Outputs[i].CreatedAt)
		if len(s.Outputs[i].CommitmentTxids) == 0 {
			s.Outputs[i].CommitmentTxids = nil
		}
		sort.Strings(s.Outputs[i].CommitmentTxids)
	}
	for i := range s.Transactions {
		tx := &s.Transactions[i]
		tx.Timestamp = NormalizeTime(tx.Timestamp)
		if len(tx.Consumed) == 0 {
			tx.Consumed = nil
		}
		if len(tx.Created) == 0 {
			tx.Created = nil
		}
		sortOutpoints(tx.Consumed)
		sortOutpoints(tx.Created)
	}
	if s.Cursors == nil {
		s.Cursors = make(map[AddressKind]uint32)
	}
	for _, kind := range AddressKinds {
		if _, ok := s.Cursors[kind]; !ok {
			s.Cursors[kind] = 0
		}
	}
}

// Balance returns the sum of unspent outputs in the snapshot.
func (s Snapshot) Balance() uint64 {
	total := uint64(0)
	for _, o := range s.Outputs {
		if !o.Spent {
			total += o.Amount
		}
	}
	return total
}

type Spend struct {
	Outpoint Outpoint
	SpentBy  string
}

type Confirmation struct {
	Outpoint Outpoint
	Height   uint32
}

type StatusUpdate struct {
	Txid   string
	Status TxStatus
}

// SyncBatch is everything one reconciliation cycle wants to change for a
// wallet. Stores apply it in a single transaction.
type SyncBatch struct {
	WalletID      string
	BaseSequence  uint64
	NewOutputs    []Output
	Spends        []Spend
	Confirmations []Confirmation
	ExitRequired  []Outpoint
	Transactions  []Transaction
	StatusUpdates []StatusUpdate
}

func (b SyncBatch) IsEmpty() bool {
	return len(b.NewOutputs) == 0 && len(b.Spends) == 0 &&
		len(b.Confirmations) == 0 && len(b.ExitRequired) == 0 &&
		len(b.Transactions) == 0 && len(b.StatusUpdates) == 0
}

type MergeReport struct {
	WalletID          string
	Created           bool
	AddedAddresses    int
	AddedOutputs      int
	NewlySpent        int
	AddedTransactions int
	Sequence          uint64
}

type SyncMetadata struct {
	WalletID string
	DeviceID string
	LastSync time.Time
	Sequence uint64
	Digest   string
}

type WalletEventType int

const (
	OutputsAdded WalletEventType = iota
	OutputsSpent
	OutputsRequireExit
	TransactionsAdded
	AddressAllocated
	SnapshotMerged
	WalletDeleted
)

func (e WalletEventType) String() string {
	return map[WalletEventType]string{
		OutputsAdded:       "OUTPUTS_ADDED",
		OutputsSpent:       "OUTPUTS_SPENT",
		OutputsRequireExit: "OUTPUTS_REQUIRE_EXIT",
		TransactionsAdded:  "TRANSACTIONS_ADDED",
		AddressAllocated:   "ADDRESS_ALLOCATED",
		SnapshotMerged:     "SNAPSHOT_MERGED",
		WalletDeleted:      "WALLET_DELETED",
	}[e]
}

type WalletEvent struct {
	Type         WalletEventType
	WalletID     string
	Sequence     uint64
	Outputs      []Output
	Transactions []Transaction
	Addresses    []Address
}

// NormalizeTime drops sub-second precision, location and monotonic reading
// so that persisted and decoded timestamps compare equal.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return time.Unix(t.Unix(), 0).UTC()
}

func sortOutpoints(outpoints []Outpoint) {
	sort.Slice(outpoints, func(i, j int) bool {
		return outpoints[i].Less(outpoints[j])
	})
}
