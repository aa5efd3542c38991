package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// ErrCipher is returned for misaligned input, bad key material or an
// unsupported cipher mode.
var ErrCipher = errors.New("cipher error")

// CipherMode selects how AES blocks are chained.
type CipherMode int

const (
	// ModeECB encrypts every block independently; the IV is ignored.
	ModeECB CipherMode = iota + 1
	// ModeCBC chains blocks starting from the salted IV.
	ModeCBC
)

// String returns the mode name.
func (m CipherMode) String() string {
	switch m {
	case ModeECB:
		return "AES-ECB"
	case ModeCBC:
		return "AES-CBC"
	default:
		return fmt.Sprintf("CipherMode(%d)", int(m))
	}
}

// EncryptBlocks encrypts data with AES-256 in the given mode. No padding is
// applied: len(data) must be a multiple of the block size, and the output has
// exactly the input length.
func EncryptBlocks(mode CipherMode, key, iv, data []byte) ([]byte, error) {
	block, err := newBlock(mode, key, iv, data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	switch mode {
	case ModeECB:
		for i := 0; i < len(data); i += aes.BlockSize {
			block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		}
	case ModeCBC:
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}

// DecryptBlocks reverses EncryptBlocks. The output length equals the input
// length; trimming alignment filler is the caller's job.
func DecryptBlocks(mode CipherMode, key, iv, data []byte) ([]byte, error) {
	block, err := newBlock(mode, key, iv, data)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	switch mode {
	case ModeECB:
		for i := 0; i < len(data); i += aes.BlockSize {
			block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		}
	case ModeCBC:
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}

func newBlock(mode CipherMode, key, iv, data []byte) (cipher.Block, error) {
	if mode != ModeECB && mode != ModeCBC {
		return nil, fmt.Errorf("%w: unsupported mode %s", ErrCipher, mode)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: invalid key size: expected %d bytes, got %d", ErrCipher, KeySize, len(key))
	}
	if mode == ModeCBC && len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: invalid IV size: expected %d bytes, got %d", ErrCipher, aes.BlockSize, len(iv))
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: input length %d is not a multiple of %d", ErrCipher, len(data), aes.BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create AES cipher: %v", ErrCipher, err)
	}
	return block, nil
}
