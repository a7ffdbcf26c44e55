// Package password hashes and verifies user passwords.
//
// Two algorithms are supported: bcrypt (the default) and argon2id. Both
// produce self-describing encoded hashes that carry their own salt and cost
// parameters, so verification needs nothing but the stored string.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm names accepted by New
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// MaxPasswordBytes is the longest password bcrypt can hash without truncation
const MaxPasswordBytes = 72

var (
	// ErrMalformedHash is returned when a stored hash cannot be parsed
	ErrMalformedHash = errors.New("password: malformed hash")

	// ErrPasswordTooLong is returned for passwords over MaxPasswordBytes
	ErrPasswordTooLong = errors.New("password: exceeds 72 bytes")
)

// Hasher hashes passwords and checks candidates against stored hashes.
// Verify must compare in constant time and report a mismatch as (false, nil).
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// Config selects and tunes the hashing algorithm
type Config struct {
	Algorithm  string
	BcryptCost int

	Argon2Memory      uint32 // KiB
	Argon2Time        uint32
	Argon2Parallelism uint8
	Argon2SaltLength  uint32
	Argon2KeyLength   uint32
}

// DefaultConfig returns bcrypt at cost 10
func DefaultConfig() Config {
	return Config{
		Algorithm:         AlgorithmBcrypt,
		BcryptCost:        bcrypt.DefaultCost,
		Argon2Memory:      64 * 1024,
		Argon2Time:        3,
		Argon2Parallelism: 2,
		Argon2SaltLength:  16,
		Argon2KeyLength:   32,
	}
}

// New builds a Hasher that hashes with cfg.Algorithm and verifies stored
// hashes of either algorithm, so switching algorithms keeps existing
// accounts working
func New(cfg Config) (*MultiHasher, error) {
	algorithm := strings.ToLower(cfg.Algorithm)
	argonCfg := cfg
	switch algorithm {
	case "", AlgorithmBcrypt:
		algorithm = AlgorithmBcrypt
		// verification reads its parameters from the stored hash
		argonCfg = DefaultConfig()
	case AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("password: unknown algorithm %q", cfg.Algorithm)
	}

	argonHasher, err := NewArgon2Hasher(argonCfg)
	if err != nil {
		return nil, err
	}

	h := &MultiHasher{
		algorithm: algorithm,
		bcrypt:    NewBcryptHasher(cfg.BcryptCost),
		argon2:    argonHasher,
	}
	h.primary = h.bcrypt
	if algorithm == AlgorithmArgon2id {
		h.primary = h.argon2
	}
	return h, nil
}

// MultiHasher hashes with one algorithm and dispatches Verify on the
// prefix of the stored hash
type MultiHasher struct {
	algorithm string
	primary   Hasher
	bcrypt    *BcryptHasher
	argon2    *Argon2Hasher
}

// Algorithm returns the name of the algorithm new hashes are produced with
func (h *MultiHasher) Algorithm() string {
	return h.algorithm
}

func (h *MultiHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *MultiHasher) Verify(password, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$"+AlgorithmArgon2id+"$"):
		return h.argon2.Verify(password, encodedHash)
	case strings.HasPrefix(encodedHash, "$2a$"),
		strings.HasPrefix(encodedHash, "$2b$"),
		strings.HasPrefix(encodedHash, "$2y$"):
		return h.bcrypt.Verify(password, encodedHash)
	default:
		return false, ErrMalformedHash
	}
}

// BcryptHasher implements Hasher using bcrypt
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher. Out-of-range costs fall back to
// bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("password: bcrypt hash: %w", err)
	}
	return string(hash), nil
}

// Verify uses bcrypt.CompareHashAndPassword, which compares in constant time
func (h *BcryptHasher) Verify(password, encodedHash string) (bool, error) {
	if len(password) > MaxPasswordBytes {
		// no stored hash can match a password Hash would have rejected
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// Argon2Hasher implements Hasher using argon2id with PHC string encoding:
// $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
type Argon2Hasher struct {
	memory      uint32
	time        uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewArgon2Hasher creates an argon2id hasher from cfg
func NewArgon2Hasher(cfg Config) (*Argon2Hasher, error) {
	if cfg.Argon2Memory < 8*1024 {
		return nil, errors.New("password: argon2 memory must be at least 8192 KiB")
	}
	if cfg.Argon2Time < 1 || cfg.Argon2Parallelism < 1 {
		return nil, errors.New("password: argon2 time and parallelism must be positive")
	}
	if cfg.Argon2SaltLength < 16 || cfg.Argon2KeyLength < 16 {
		return nil, errors.New("password: argon2 salt and key length must be at least 16 bytes")
	}
	return &Argon2Hasher{
		memory:      cfg.Argon2Memory,
		time:        cfg.Argon2Time,
		parallelism: cfg.Argon2Parallelism,
		saltLength:  cfg.Argon2SaltLength,
		keyLength:   cfg.Argon2KeyLength,
	}, nil
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.time, h.memory, h.parallelism, h.keyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id,
		argon2.Version,
		h.memory, h.time, h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters stored in encodedHash
func (h *Argon2Hasher) Verify(password, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))

	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

type phcParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parsePHC(encoded string) (*phcParams, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != AlgorithmArgon2id {
		return nil, ErrMalformedHash
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, ErrMalformedHash
	}

	p := &phcParams{}
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, ErrMalformedHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, ErrMalformedHash
		}
		switch name {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			if n > 255 {
				return nil, ErrMalformedHash
			}
			p.parallelism = uint8(n)
		default:
			return nil, ErrMalformedHash
		}
	}
	if p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return nil, ErrMalformedHash
	}

	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrMalformedHash
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return nil, ErrMalformedHash
	}

	return p, nil
}
