package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/djbf-gateway/internal/crypto"
)

const testProfiles = `
profiles:
  - id: 3
    name: global
    aliases: [gb, devsisters]
    key: "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
    iv: "00:11:22:33:44:55:66:77:88:99:aa:bb:cc:dd:ee:ff"
`

func writeProfiles(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadKeychain(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), testProfiles)

	k, err := LoadKeychain(path)
	require.NoError(t, err)

	p, err := k.Lookup("GB")
	require.NoError(t, err)
	assert.Equal(t, 3, p.ID)
	assert.Equal(t, byte(0x1f), p.Key[31])
	assert.Equal(t, byte(0xff), p.IV[15])

	// built-in profiles are kept by default
	_, err = k.Lookup("kakao")
	assert.NoError(t, err)
	assert.Len(t, k.Profiles(), 3)
}

func TestLoadKeychainWithoutBuiltins(t *testing.T) {
	path := writeProfiles(t, t.TempDir(), "builtin: false\n"+testProfiles)

	k, err := LoadKeychain(path)
	require.NoError(t, err)

	_, err = k.Lookup("kakao")
	assert.ErrorIs(t, err, crypto.ErrUnknownProfile)
	assert.Len(t, k.Profiles(), 1)
}

func TestLoadKeychainDefault(t *testing.T) {
	k, err := LoadKeychain("")
	require.NoError(t, err)
	assert.Len(t, k.Profiles(), 2)
}

func TestLoadKeychainErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"short key", "profiles:\n  - {id: 5, name: x, key: \"0011\", iv: \"00112233445566778899aabbccddeeff\"}\n"},
		{"bad hex", "profiles:\n  - {id: 5, name: x, key: \"zz\", iv: \"00\"}\n"},
		{"zero id", "profiles:\n  - {id: 0, name: x, key: \"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f\", iv: \"00112233445566778899aabbccddeeff\"}\n"},
		{"duplicate builtin id", "profiles:\n  - {id: 1, name: other, key: \"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f\", iv: \"00112233445566778899aabbccddeeff\"}\n"},
		{"bad yaml", "profiles: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeProfiles(t, t.TempDir(), tt.content)
			_, err := LoadKeychain(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadKeychain(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
