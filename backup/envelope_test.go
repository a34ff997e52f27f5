package backup_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/arkade-os/arkive/backup"
	"github.com/arkade-os/arkive/types"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	passphrase := []byte("correct-horse")
	snapshot := testSnapshot()

	blob, err := backup.Encrypt(snapshot, passphrase, testKDFParams)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(blob, []byte("ARKV")))

	t.Run("round trip", func(t *testing.T) {
		decrypted, err := backup.Decrypt(blob, passphrase)
		require.NoError(t, err)
		expected := testSnapshot()
		expected.Canonicalize()
		require.Equal(t, expected, *decrypted)
	})

	t.Run("fresh salt and nonce", func(t *testing.T) {
		other, err := backup.Encrypt(snapshot, passphrase, testKDFParams)
		require.NoError(t, err)
		require.NotEqual(t, blob, other)
	})

	t.Run("wrong passphrase", func(t *testing.T) {
		decrypted, err := backup.Decrypt(blob, []byte("battery-staple"))
		require.ErrorIs(t, err, types.ErrInvalidPassphrase)
		require.Nil(t, decrypted)
	})

	t.Run("tampered", func(t *testing.T) {
		// the salt value starts after the magic, the version, the kdf params
		// and the salt type and length
		offsets := map[string]int{
			"salt":       4 + 6 + 6 + 6 + 3 + 2 + 5,
			"ciphertext": len(blob) - 40,
			"tag":        len(blob) - 1,
		}
		for name, offset := range offsets {
			t.Run(name, func(t *testing.T) {
				tampered := bytes.Clone(blob)
				tampered[offset] ^= 0x01
				decrypted, err := backup.Decrypt(tampered, passphrase)
				require.ErrorIs(t, err, types.ErrInvalidPassphrase)
				require.Nil(t, decrypted)
			})
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		tampered := bytes.Clone(blob)
		// magic (4) + type (1) + length (1) + big endian uint32
		tampered[4+2+3] = 0x02
		_, err := backup.Decrypt(tampered, passphrase)
		require.ErrorIs(t, err, types.ErrUnsupportedBackupVersion)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := backup.Decrypt([]byte("not a backup"), passphrase)
		require.Error(t, err)

		_, err = backup.Decrypt(blob, nil)
		require.Error(t, err)

		_, err = backup.Encrypt(snapshot, nil, testKDFParams)
		require.Error(t, err)

		_, err = backup.Encrypt(snapshot, passphrase, backup.KDFParams{Time: 100, Memory: 8 * 1024, Threads: 1})
		require.Error(t, err)
	})
}

func TestKDFParams(t *testing.T) {
	tests := []struct {
		name   string
		params backup.KDFParams
		valid  bool
	}{
		{"default", backup.DefaultKDFParams, true},
		{"minimum", testKDFParams, true},
		{"zero time", backup.KDFParams{Time: 0, Memory: 8 * 1024, Threads: 1}, false},
		{"too little memory", backup.KDFParams{Time: 1, Memory: 1024, Threads: 1}, false},
		{"too much memory", backup.KDFParams{Time: 1, Memory: 2 * 1024 * 1024, Threads: 1}, false},
		{"zero threads", backup.KDFParams{Time: 1, Memory: 8 * 1024, Threads: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backups", "wallet.arkv")
	blob, err := backup.Encrypt(testSnapshot(), []byte("pass"), testKDFParams)
	require.NoError(t, err)

	require.NoError(t, backup.WriteFile(path, blob))
	read, err := backup.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, blob, read)

	_, err = backup.ReadFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
