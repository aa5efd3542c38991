package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kenneth/djbf-gateway/internal/crypto"
)

// ProfilesFile is the on-disk format of additional key profiles.
type ProfilesFile struct {
	// Builtin keeps the shipped profiles next to the file's own. Defaults to true.
	Builtin  *bool          `yaml:"builtin,omitempty"`
	Profiles []ProfileEntry `yaml:"profiles"`
}

// ProfileEntry is one key profile with hex encoded key material.
type ProfileEntry struct {
	ID      int      `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
	Key     string   `yaml:"key"`
	IV      string   `yaml:"iv"`
}

// LoadKeychain builds a keychain from a profiles file. An empty path yields
// the built-in profiles.
func LoadKeychain(path string) (*crypto.Keychain, error) {
	if path == "" {
		return crypto.DefaultKeychain(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var file ProfilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	var profiles []*crypto.KeyProfile
	if file.Builtin == nil || *file.Builtin {
		profiles = append(profiles, crypto.ProfileKakao, crypto.ProfileQQ)
	}
	for i, entry := range file.Profiles {
		p, err := entry.profile()
		if err != nil {
			return nil, fmt.Errorf("profile %d in %s: %w", i, path, err)
		}
		profiles = append(profiles, p)
	}

	k, err := crypto.NewKeychain(profiles...)
	if err != nil {
		return nil, fmt.Errorf("invalid profiles file %s: %w", path, err)
	}
	return k, nil
}

func (e ProfileEntry) profile() (*crypto.KeyProfile, error) {
	if e.ID <= 0 {
		return nil, fmt.Errorf("id must be positive")
	}
	p := &crypto.KeyProfile{
		ID:      e.ID,
		Name:    strings.TrimSpace(e.Name),
		Aliases: e.Aliases,
	}
	if err := decodeHex(e.Key, p.Key[:]); err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	if err := decodeHex(e.IV, p.IV[:]); err != nil {
		return nil, fmt.Errorf("iv: %w", err)
	}
	return p, nil
}

func decodeHex(s string, dst []byte) error {
	s = strings.NewReplacer(" ", "", ":", "").Replace(strings.TrimSpace(s))
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
