package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func TestEncryptBlocks_ECBKnownVector(t *testing.T) {
	// FIPS-197 appendix C.3
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	plain := mustHex(t, "00112233445566778899aabbccddeeff")
	want := mustHex(t, "8ea2b7ca516745bfeafc49904b496089")

	got, err := EncryptBlocks(ModeECB, key, nil, plain)
	if err != nil {
		t.Fatalf("EncryptBlocks failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected %x, got %x", want, got)
	}

	back, err := DecryptBlocks(ModeECB, key, nil, got)
	if err != nil {
		t.Fatalf("DecryptBlocks failed: %v", err)
	}
	if !bytes.Equal(back, plain) {
		t.Fatalf("expected %x, got %x", plain, back)
	}
}

func TestEncryptBlocks_ECBIgnoresIV(t *testing.T) {
	key := ProfileKakao.Key[:]
	data := bytes.Repeat([]byte{0x42}, 32)

	a, err := EncryptBlocks(ModeECB, key, nil, data)
	if err != nil {
		t.Fatalf("EncryptBlocks failed: %v", err)
	}
	b, err := EncryptBlocks(ModeECB, key, []byte("not-an-iv"), data)
	if err != nil {
		t.Fatalf("EncryptBlocks failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("ECB output must not depend on the IV")
	}
	if !bytes.Equal(a[:16], a[16:]) {
		t.Fatal("identical ECB plaintext blocks must produce identical ciphertext blocks")
	}
}

func TestEncryptBlocks_CBCChainsFromIV(t *testing.T) {
	key := ProfileQQ.Key[:]
	iv := ProfileQQ.SaltedIV(0x1234)
	data := make([]byte, 48)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("failed to generate data: %v", err)
	}

	got, err := EncryptBlocks(ModeCBC, key, iv, data)
	if err != nil {
		t.Fatalf("EncryptBlocks failed: %v", err)
	}

	// C0 = E(P0 ^ IV)
	first := make([]byte, 16)
	for i := range first {
		first[i] = data[i] ^ iv[i]
	}
	want, err := EncryptBlocks(ModeECB, key, nil, first)
	if err != nil {
		t.Fatalf("EncryptBlocks failed: %v", err)
	}
	if !bytes.Equal(got[:16], want) {
		t.Fatalf("first CBC block mismatch: expected %x, got %x", want, got[:16])
	}

	back, err := DecryptBlocks(ModeCBC, key, iv, got)
	if err != nil {
		t.Fatalf("DecryptBlocks failed: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("CBC round trip mismatch")
	}
}

func TestEncryptBlocks_Empty(t *testing.T) {
	out, err := EncryptBlocks(ModeCBC, ProfileKakao.Key[:], ProfileKakao.IV[:], nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(out))
	}
}

func TestEncryptBlocks_Errors(t *testing.T) {
	key := ProfileKakao.Key[:]
	iv := ProfileKakao.IV[:]

	tests := []struct {
		name string
		mode CipherMode
		key  []byte
		iv   []byte
		data []byte
	}{
		{name: "misaligned input", mode: ModeECB, key: key, data: make([]byte, 17)},
		{name: "short key", mode: ModeECB, key: key[:16], data: make([]byte, 16)},
		{name: "missing CBC IV", mode: ModeCBC, key: key, data: make([]byte, 16)},
		{name: "short CBC IV", mode: ModeCBC, key: key, iv: iv[:8], data: make([]byte, 16)},
		{name: "unsupported mode", mode: CipherMode(9), key: key, iv: iv, data: make([]byte, 16)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncryptBlocks(tt.mode, tt.key, tt.iv, tt.data); !errors.Is(err, ErrCipher) {
				t.Fatalf("EncryptBlocks: expected ErrCipher, got %v", err)
			}
			if _, err := DecryptBlocks(tt.mode, tt.key, tt.iv, tt.data); !errors.Is(err, ErrCipher) {
				t.Fatalf("DecryptBlocks: expected ErrCipher, got %v", err)
			}
		})
	}
}

func TestCipherMode_String(t *testing.T) {
	if ModeECB.String() != "AES-ECB" || ModeCBC.String() != "AES-CBC" {
		t.Fatalf("unexpected mode names %s, %s", ModeECB, ModeCBC)
	}
	if CipherMode(0).String() != "CipherMode(0)" {
		t.Fatalf("unexpected name for zero mode: %s", CipherMode(0))
	}
}
