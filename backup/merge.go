package backup

import "github.com/arkade-os/arkive/types"

// Merge joins two snapshots of the same wallet with the rules used by the
// stores, without touching any of them.
func Merge(a, b types.Snapshot) (*types.Snapshot, error) {
	merged, err := types.MergeSnapshots(canonicalCopy(a), canonicalCopy(b))
	if err != nil {
		return nil, err
	}
	return &merged, nil
}
