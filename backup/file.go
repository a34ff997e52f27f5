package backup

import (
	"fmt"
	"os"
	"path/filepath"
)

// maxBackupSize caps what ReadFile loads in memory.
const maxBackupSize = 256 << 20

// WriteFile atomically writes an encrypted backup to path.
func WriteFile(path string, blob []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create backup dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".arkv-*")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer func() {
		// nolint
		os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(blob); err != nil {
		// nolint
		tmp.Close()
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		// nolint
		tmp.Close()
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write backup file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func ReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup file: %w", err)
	}
	if info.Size() > maxBackupSize {
		return nil, fmt.Errorf("backup file too large: %d bytes", info.Size())
	}
	return os.ReadFile(path)
}
