package backup

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// FormatVersion is the envelope version written by Encrypt.
const FormatVersion uint32 = 1

const (
	saltSize = 32
	keySize  = chacha20poly1305.KeySize
	tagSize  = chacha20poly1305.Overhead
)

// Envelope record types. Records up to the nonce form the authenticated
// header.
const (
	formatVersionType tlv.Type = 0
	kdfTimeType       tlv.Type = 2
	kdfMemoryType     tlv.Type = 4
	kdfThreadsType    tlv.Type = 6
	saltType          tlv.Type = 8
	nonceType         tlv.Type = 10
	ciphertextType    tlv.Type = 12
	tagType           tlv.Type = 14
)

var magic = []byte("ARKV")

// KDFParams are the Argon2id cost parameters. Memory is in KiB.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

var DefaultKDFParams = KDFParams{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 4,
}

// Validate bounds the parameters accepted on decode so that a crafted
// envelope cannot make key derivation arbitrarily expensive.
func (p KDFParams) Validate() error {
	if p.Time < 1 || p.Time > 10 {
		return fmt.Errorf("kdf time %d out of range [1, 10]", p.Time)
	}
	if p.Memory < 8*1024 || p.Memory > 1024*1024 {
		return fmt.Errorf("kdf memory %d KiB out of range [8 MiB, 1 GiB]", p.Memory)
	}
	if p.Threads < 1 || p.Threads > 16 {
		return fmt.Errorf("kdf threads %d out of range [1, 16]", p.Threads)
	}
	return nil
}

type envelope struct {
	version    uint32
	params     KDFParams
	salt       [saltSize]byte
	nonce      []byte
	ciphertext []byte
	tag        []byte
}

func (e *envelope) headerRecords() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(formatVersionType, &e.version),
		tlv.MakePrimitiveRecord(kdfTimeType, &e.params.Time),
		tlv.MakePrimitiveRecord(kdfMemoryType, &e.params.Memory),
		tlv.MakePrimitiveRecord(kdfThreadsType, &e.params.Threads),
		tlv.MakePrimitiveRecord(saltType, &e.salt),
		tlv.MakePrimitiveRecord(nonceType, &e.nonce),
	}
}

func (e *envelope) records() []tlv.Record {
	return append(
		e.headerRecords(),
		tlv.MakePrimitiveRecord(ciphertextType, &e.ciphertext),
		tlv.MakePrimitiveRecord(tagType, &e.tag),
	)
}

// associatedData binds the magic and the header to the ciphertext.
func (e *envelope) associatedData() ([]byte, error) {
	header, err := encodeStream(e.headerRecords()...)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, magic...), header...), nil
}

// Encrypt encodes the snapshot and seals it with a key derived from
// passphrase.
func Encrypt(snapshot types.Snapshot, passphrase []byte, params KDFParams) ([]byte, error) {
	if len(passphrase) <= 0 {
		return nil, fmt.Errorf("missing passphrase")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	payload, err := Encode(snapshot)
	if err != nil {
		return nil, err
	}
	defer utils.Zero(payload)

	env := &envelope{
		version: FormatVersion,
		params:  params,
		nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := rand.Read(env.salt[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(env.nonce); err != nil {
		return nil, err
	}

	aad, err := env.associatedData()
	if err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, env.salt[:], params)
	defer utils.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, env.nonce, payload, aad)
	env.ciphertext = sealed[:len(sealed)-tagSize]
	env.tag = sealed[len(sealed)-tagSize:]

	body, err := encodeStream(env.records()...)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, magic...), body...), nil
}

// Decrypt opens an envelope produced by Encrypt. A wrong passphrase or any
// tampering yields ErrInvalidPassphrase and no plaintext.
func Decrypt(blob, passphrase []byte) (*types.Snapshot, error) {
	if len(passphrase) <= 0 {
		return nil, fmt.Errorf("missing passphrase")
	}
	if !bytes.HasPrefix(blob, magic) {
		return nil, fmt.Errorf("not an arkive backup")
	}

	env := &envelope{}
	if err := decodeStream(blob[len(magic):], env.records()...); err != nil {
		return nil, fmt.Errorf("malformed backup: %w", err)
	}
	if env.version != FormatVersion {
		return nil, fmt.Errorf(
			"%w: format version %d", types.ErrUnsupportedBackupVersion, env.version,
		)
	}
	if err := env.params.Validate(); err != nil {
		return nil, fmt.Errorf("malformed backup: %w", err)
	}
	if len(env.nonce) != chacha20poly1305.NonceSizeX || len(env.tag) != tagSize {
		return nil, fmt.Errorf("malformed backup: invalid nonce or tag size")
	}

	aad, err := env.associatedData()
	if err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, env.salt[:], env.params)
	defer utils.Zero(key)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(env.ciphertext)+tagSize)
	sealed = append(sealed, env.ciphertext...)
	sealed = append(sealed, env.tag...)
	payload, err := aead.Open(nil, env.nonce, sealed, aad)
	if err != nil {
		return nil, types.ErrInvalidPassphrase
	}
	defer utils.Zero(payload)

	return Decode(payload)
}

func deriveKey(passphrase, salt []byte, params KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, keySize)
}
