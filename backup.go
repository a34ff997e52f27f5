package arkive

import (
	"context"
	"fmt"

	"github.com/arkade-os/arkive/backup"
	"github.com/arkade-os/arkive/types"
	log "github.com/sirupsen/logrus"
)

// ExportBackup returns the state of the wallet encrypted with passphrase,
// together with the digest of the exported state.
func (e *Engine) ExportBackup(
	ctx context.Context, walletID, passphrase string,
) ([]byte, string, error) {
	snapshot, err := e.walletStore().Snapshot(ctx, walletID)
	if err != nil {
		return nil, "", err
	}
	snapshot.DeviceID = e.cfg.DeviceID
	snapshot.TakenAt = types.NormalizeTime(e.now())

	digest, err := backup.Digest(*snapshot)
	if err != nil {
		return nil, "", err
	}
	blob, err := backup.Encrypt(*snapshot, []byte(passphrase), e.kdfParams)
	if err != nil {
		return nil, "", err
	}

	log.WithFields(log.Fields{
		"wallet":   walletID,
		"sequence": snapshot.Sequence,
	}).Debug("backup exported")
	return blob, digest, nil
}

// ExportBackupFile writes the encrypted backup to path and returns its digest.
func (e *Engine) ExportBackupFile(
	ctx context.Context, walletID, passphrase, path string,
) (string, error) {
	blob, digest, err := e.ExportBackup(ctx, walletID, passphrase)
	if err != nil {
		return "", err
	}
	if err := backup.WriteFile(path, blob); err != nil {
		return "", err
	}
	return digest, nil
}

// ImportBackup decrypts a backup and merges it into the store, creating the
// wallet if it is not tracked yet. Key derivation runs before the wallet is
// locked.
func (e *Engine) ImportBackup(
	ctx context.Context, blob []byte, passphrase string, opts ...Option,
) (*types.MergeReport, error) {
	options := &ImportOptions{}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	snapshot, err := backup.Decrypt(blob, []byte(passphrase))
	if err != nil {
		return nil, err
	}
	if snapshot.Wallet.Network.Name != e.cfg.Network.Name {
		return nil, fmt.Errorf(
			"%w: backup is for %s, engine on %s",
			ErrNetworkMismatch, snapshot.Wallet.Network.Name, e.cfg.Network.Name,
		)
	}
	if len(options.ExpectedDigest) > 0 {
		digest, err := backup.Digest(*snapshot)
		if err != nil {
			return nil, err
		}
		if digest != options.ExpectedDigest {
			return nil, DigestMismatchError{Expected: options.ExpectedDigest, Actual: digest}
		}
	}

	walletID := snapshot.Wallet.ID
	unlock := e.syncLocks.Lock(walletID)
	defer unlock()

	report, err := e.walletStore().MergeSnapshot(ctx, *snapshot)
	if err != nil {
		return nil, err
	}
	if err := e.recordSyncState(ctx, walletID, false); err != nil {
		log.WithError(err).Warn("failed to update sync metadata")
	}

	log.WithFields(log.Fields{
		"wallet":       walletID,
		"created":      report.Created,
		"outputs":      report.AddedOutputs,
		"transactions": report.AddedTransactions,
		"sequence":     report.Sequence,
	}).Info("backup imported")
	return report, nil
}

// ImportBackupFile is ImportBackup over the content of path.
func (e *Engine) ImportBackupFile(
	ctx context.Context, path, passphrase string, opts ...Option,
) (*types.MergeReport, error) {
	blob, err := backup.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return e.ImportBackup(ctx, blob, passphrase, opts...)
}
