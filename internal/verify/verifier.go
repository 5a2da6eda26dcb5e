// Package verify computes artifact digests incrementally, one chunk at a
// time, in transfer order.
package verify

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

// ErrUnsupportedAlgorithm is returned by New for an unknown hash type.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// ErrFinalized is returned by Update and Sum once Sum has succeeded.
var ErrFinalized = errors.New("digest already finalized")

// Verifier accumulates a digest over the exact byte sequence of one
// transfer. A Verifier belongs to a single install session and is never
// reset; after the first Sum it rejects further input.
type Verifier struct {
	alg    api.HashType
	h      hash.Hash
	n      uint64
	summed bool
}

// New returns a Verifier for the given algorithm.
func New(alg api.HashType) (*Verifier, error) {
	h, err := newHash(alg)
	if err != nil {
		return nil, err
	}
	return &Verifier{alg: alg, h: h}, nil
}

func newHash(alg api.HashType) (hash.Hash, error) {
	switch api.HashType(strings.ToLower(string(alg))) {
	case api.HashSHA256:
		return sha256.New(), nil
	case api.HashSHA512:
		return sha512.New(), nil
	case api.HashSHA3_256:
		return sha3.New256(), nil
	case api.HashBLAKE2b256:
		return blake2b.New256(nil)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
}

// Supported reports whether New accepts alg.
func Supported(alg api.HashType) bool {
	_, err := newHash(alg)
	return err == nil
}

// Algorithm returns the digest algorithm in use.
func (v *Verifier) Algorithm() api.HashType { return v.alg }

// Update feeds the next chunk.
func (v *Verifier) Update(p []byte) error {
	if v.summed {
		return ErrFinalized
	}
	v.h.Write(p)
	v.n += uint64(len(p))
	return nil
}

// Len returns the number of bytes fed so far.
func (v *Verifier) Len() uint64 { return v.n }

// Sum finalizes the digest and returns it as lowercase hex.
func (v *Verifier) Sum() (string, error) {
	if v.summed {
		return "", ErrFinalized
	}
	v.summed = true
	return hex.EncodeToString(v.h.Sum(nil)), nil
}
