package types

import (
	"fmt"
	"slices"
	"sort"
	"time"
)

// The functions below are the join operations used to merge wallet state
// coming from other devices. Each is commutative, associative and
// idempotent, which makes snapshot merges order independent.

func MergeAddress(a, b Address) (Address, error) {
	if a.Kind != b.Kind || a.Index != b.Index {
		return Address{}, fmt.Errorf(
			"cannot merge address %s/%d with %s/%d", a.Kind, a.Index, b.Kind, b.Index,
		)
	}
	if a.Address != b.Address {
		return Address{}, fmt.Errorf(
			"%w: %s/%d is %s locally and %s remotely",
			ErrAddressConflict, a.Kind, a.Index, a.Address, b.Address,
		)
	}
	merged := a
	merged.Used = a.Used || b.Used
	merged.CreatedAt = earliest(a.CreatedAt, b.CreatedAt)
	if merged.Script == "" {
		merged.Script = b.Script
	}
	if merged.DerivationPath == "" {
		merged.DerivationPath = b.DerivationPath
	}
	return merged, nil
}

// MergeOutput joins two views of the same outpoint. Spent always wins and,
// when both sides are spent, the smallest spending reference is kept.
func MergeOutput(a, b Output) (Output, error) {
	if a.Outpoint != b.Outpoint {
		return Output{}, fmt.Errorf("cannot merge output %s with %s", a.Outpoint, b.Outpoint)
	}
	if a.Amount != b.Amount || a.Domain != b.Domain {
		return Output{}, fmt.Errorf(
			"conflicting views of output %s: %d sats (%s) vs %d sats (%s)",
			a.Outpoint, a.Amount, a.Domain, b.Amount, b.Domain,
		)
	}

	merged := a
	if merged.Address == "" || (b.Address != "" && b.Address < merged.Address) {
		merged.Address = b.Address
	}
	merged.ConfirmedHeight = max(a.ConfirmedHeight, b.ConfirmedHeight)
	merged.CreatedAt = earliest(a.CreatedAt, b.CreatedAt)
	merged.Expiry = max(a.Expiry, b.Expiry)
	merged.CommitmentTxids = unionStrings(a.CommitmentTxids, b.CommitmentTxids)
	merged.Preconfirmed = a.Preconfirmed && b.Preconfirmed
	merged.RequiresExit = a.RequiresExit || b.RequiresExit

	switch {
	case a.Spent && b.Spent:
		merged.Spent = true
		merged.SpentBy = minNonEmpty(a.SpentBy, b.SpentBy)
	case a.Spent:
		merged.Spent, merged.SpentBy = true, a.SpentBy
	case b.Spent:
		merged.Spent, merged.SpentBy = true, b.SpentBy
	}
	return merged, nil
}

// MergeTransaction joins two records with the same identifier. Records for
// the same economic event carry the same content; when they do not, the
// smaller delta is kept so that the result does not depend on order.
func MergeTransaction(a, b Transaction) (Transaction, error) {
	return mergeTransaction(a, b, nil)
}

// mergeTransaction joins two records of the same event that may each cover
// only part of its outputs. Each side is completed with the amounts of the
// outpoints only the other one covers, looked up in outputs. Every field is
// derived from both sides, never picked from one of them.
func mergeTransaction(a, b Transaction, outputs map[Outpoint]Output) (Transaction, error) {
	if a.ID != b.ID {
		return Transaction{}, fmt.Errorf("cannot merge transaction %s with %s", a.ID, b.ID)
	}
	merged := Transaction{
		ID:        a.ID,
		Domain:    DomainOnchain,
		Consumed:  unionOutpoints(a.Consumed, b.Consumed),
		Created:   unionOutpoints(a.Created, b.Created),
		Delta:     min(a.Delta, b.Delta),
		Timestamp: earliest(a.Timestamp, b.Timestamp),
		Status:    max(a.Status, b.Status),
	}

	onlyA, onlyB := uncovered(a, b, outputs), uncovered(b, a, outputs)
	if onlyA.covered || onlyB.covered {
		merged.Delta = min(a.Delta+onlyB.delta, b.Delta+onlyA.delta)
	}
	merged.Direction = DirectionIncoming
	if merged.Delta < 0 {
		merged.Direction = DirectionOutgoing
	}

	if a.Domain == DomainOffchain || b.Domain == DomainOffchain {
		merged.Domain = DomainOffchain
	}
	for _, op := range append(slices.Clone(merged.Consumed), merged.Created...) {
		if o, ok := outputs[op]; ok && o.Domain == DomainOffchain {
			merged.Domain = DomainOffchain
			break
		}
	}
	return merged, nil
}

type coverage struct {
	covered bool
	delta   int64
}

// uncovered sums the signed amounts of the outpoints of x that y does not
// reference.
func uncovered(x, y Transaction, outputs map[Outpoint]Output) coverage {
	var c coverage
	amount := func(op Outpoint) int64 {
		o, ok := outputs[op]
		if !ok {
			return 0
		}
		return int64(o.Amount)
	}
	for _, op := range x.Created {
		if !slices.Contains(y.Created, op) {
			c.covered = true
			c.delta += amount(op)
		}
	}
	for _, op := range x.Consumed {
		if !slices.Contains(y.Consumed, op) {
			c.covered = true
			c.delta -= amount(op)
		}
	}
	return c
}

// MergeCursor returns the next index to allocate given the cursors of two
// copies and the addresses known to them.
func MergeCursor(a, b uint32, addresses []Address, kind AddressKind) uint32 {
	next := max(a, b)
	for _, addr := range addresses {
		if addr.Kind == kind && addr.Index+1 > next {
			next = addr.Index + 1
		}
	}
	return next
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

func minNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" || a < b {
		return a
	}
	return b
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sort.Strings(out)
	return slices.Compact(out)
}

func unionOutpoints(a, b []Outpoint) []Outpoint {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]Outpoint, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	sortOutpoints(out)
	return slices.Compact(out)
}
