package util

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// PasswordHash is an argon2id digest together with the parameters and salt
// needed to verify a candidate password against it.
type PasswordHash struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	Salt        string `json:"salt"`
	Digest      string `json:"digest"`
}

const (
	argonTime        = 1
	argonMemoryKiB   = 64 * 1024
	argonParallelism = 4
	argonKeyLen      = 32
	argonSaltLen     = 16
)

// HashPassword derives an argon2id digest with a fresh random salt.
func HashPassword(password string) (PasswordHash, error) {
	salt, err := RandomBytes(argonSaltLen)
	if err != nil {
		return PasswordHash{}, err
	}
	digest := argon2.IDKey([]byte(password), salt, argonTime, argonMemoryKiB, argonParallelism, argonKeyLen)
	return PasswordHash{
		Time:        argonTime,
		MemoryKiB:   argonMemoryKiB,
		Parallelism: argonParallelism,
		Salt:        base64.RawStdEncoding.EncodeToString(salt),
		Digest:      base64.RawStdEncoding.EncodeToString(digest),
	}, nil
}

// VerifyPassword reports whether password matches h. Comparison is constant time.
func VerifyPassword(h PasswordHash, password string) (bool, error) {
	salt, err := base64.RawStdEncoding.DecodeString(h.Salt)
	if err != nil {
		return false, fmt.Errorf("decoding salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(h.Digest)
	if err != nil {
		return false, fmt.Errorf("decoding digest: %w", err)
	}
	got := argon2.IDKey([]byte(password), salt, h.Time, h.MemoryKiB, h.Parallelism, uint32(len(want)))
	defer WipeBytes(got)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
