package crypto

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	// KeySize is the AES-256 key length used by every DJBF profile.
	KeySize = 32
	// IVSize is the AES block size and base IV length.
	IVSize = 16
)

// ErrUnknownProfile is returned when a key selector does not name a registered profile.
var ErrUnknownProfile = errors.New("unknown key profile")

// KeyProfile is a named AES key and base IV pair.
type KeyProfile struct {
	ID      int
	Name    string
	Aliases []string
	Key     [KeySize]byte
	IV      [IVSize]byte
}

// Known profiles shipped with the game clients.
var (
	ProfileKakao = &KeyProfile{
		ID:      1,
		Name:    "kakao",
		Aliases: []string{"kakaotalk"},
		Key: [KeySize]byte{
			0xC0, 0x01, 0xC1, 0xE1, 0x26, 0x11, 0x10, 0xDA,
			0x90, 0x90, 0x35, 0x81, 0xFE, 0xBA, 0xA9, 0x7F,
			0xA1, 0x45, 0x1C, 0x4F, 0x97, 0x88, 0x71, 0xFA,
			0xC3, 0xF1, 0xF8, 0x29, 0x3D, 0xDE, 0xE2, 0xB3,
		},
		IV: [IVSize]byte{
			0x58, 0xA8, 0xB9, 0xDD, 0x13, 0x61, 0x62, 0xAA,
			0x99, 0x88, 0x7A, 0x1F, 0xF2, 0x3F, 0x7C, 0x91,
		},
	}

	// ProfileQQ covers the QQ 2.0 builds.
	ProfileQQ = &KeyProfile{
		ID:      2,
		Name:    "qq",
		Aliases: []string{"qq2", "tencent"},
		Key: [KeySize]byte{
			0xC0, 0x29, 0xC1, 0xE1, 0x26, 0x88, 0x71, 0xFA,
			0xA1, 0x45, 0x1C, 0x4F, 0x97, 0xDE, 0xD2, 0xB3,
			0x90, 0x94, 0x35, 0x81, 0xFE, 0xBA, 0xA9, 0x7F,
			0xC3, 0xF1, 0xF8, 0x29, 0x3D, 0x11, 0x10, 0xFA,
		},
		IV: [IVSize]byte{
			0x13, 0x61, 0x62, 0xAA, 0x38, 0xA8, 0xB9, 0xDD,
			0x99, 0x6F, 0xF2, 0x3F, 0x7C, 0x91, 0x88, 0x7A,
		},
	}
)

// SaltedIV returns the per-file IV: every byte of the base IV plus the low byte
// of the payload checksum, mod 256.
func (p *KeyProfile) SaltedIV(checksum uint32) []byte {
	salt := byte(checksum & 0xFF)
	iv := make([]byte, IVSize)
	for i, b := range p.IV {
		iv[i] = b + salt
	}
	return iv
}

// KeySource resolves a key selector to a profile.
type KeySource interface {
	Lookup(selector string) (*KeyProfile, error)
}

// Keychain is an immutable registry of key profiles. It is safe for concurrent
// use once built.
type Keychain struct {
	profiles []*KeyProfile
	byName   map[string]*KeyProfile
	byID     map[int]*KeyProfile
}

// NewKeychain builds a keychain from the given profiles. Names, aliases and IDs
// must be unique.
func NewKeychain(profiles ...*KeyProfile) (*Keychain, error) {
	k := &Keychain{
		byName: make(map[string]*KeyProfile),
		byID:   make(map[int]*KeyProfile),
	}

	for _, p := range profiles {
		if p == nil {
			continue
		}
		if p.Name == "" {
			return nil, fmt.Errorf("key profile %d has no name", p.ID)
		}
		if _, dup := k.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate key profile id %d", p.ID)
		}
		k.byID[p.ID] = p

		for _, name := range append([]string{p.Name}, p.Aliases...) {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			if _, dup := k.byName[name]; dup {
				return nil, fmt.Errorf("duplicate key profile name %q", name)
			}
			k.byName[name] = p
		}
		k.profiles = append(k.profiles, p)
	}

	sort.Slice(k.profiles, func(i, j int) bool { return k.profiles[i].ID < k.profiles[j].ID })
	return k, nil
}

// DefaultKeychain returns a keychain holding the built-in profiles.
func DefaultKeychain() *Keychain {
	k, err := NewKeychain(ProfileKakao, ProfileQQ)
	if err != nil {
		panic(err)
	}
	return k
}

// Lookup resolves a profile by name, alias (case-insensitive) or numeric ID.
func (k *Keychain) Lookup(selector string) (*KeyProfile, error) {
	s := strings.ToLower(strings.TrimSpace(selector))
	if p, ok := k.byName[s]; ok {
		return p, nil
	}
	if id, err := strconv.Atoi(s); err == nil {
		if p, ok := k.byID[id]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, selector)
}

// Key returns a copy of the profile's 32-byte key.
func (k *Keychain) Key(selector string) ([]byte, error) {
	p, err := k.Lookup(selector)
	if err != nil {
		return nil, err
	}
	key := make([]byte, KeySize)
	copy(key, p.Key[:])
	return key, nil
}

// DeriveIV returns the profile's base IV salted with the checksum's low byte.
func (k *Keychain) DeriveIV(selector string, checksum uint32) ([]byte, error) {
	p, err := k.Lookup(selector)
	if err != nil {
		return nil, err
	}
	return p.SaltedIV(checksum), nil
}

// Profiles returns the registered profiles ordered by ID.
func (k *Keychain) Profiles() []*KeyProfile {
	out := make([]*KeyProfile, len(k.profiles))
	copy(out, k.profiles)
	return out
}

// LiveKeychain holds a keychain that can be replaced while readers are active,
// e.g. when a profiles file is reloaded.
type LiveKeychain struct {
	current atomic.Pointer[Keychain]
}

// NewLiveKeychain wraps an initial keychain.
func NewLiveKeychain(initial *Keychain) *LiveKeychain {
	l := &LiveKeychain{}
	l.current.Store(initial)
	return l
}

// Load returns the active keychain.
func (l *LiveKeychain) Load() *Keychain {
	return l.current.Load()
}

// Swap installs a new keychain.
func (l *LiveKeychain) Swap(k *Keychain) {
	l.current.Store(k)
}

// Lookup resolves a selector against the active keychain.
func (l *LiveKeychain) Lookup(selector string) (*KeyProfile, error) {
	return l.current.Load().Lookup(selector)
}
