// Package api holds the data model shared between the install agent's
// components and its callers.
package api

import (
	"fmt"
	"strings"
)

// HashType names a digest algorithm.
type HashType string

const (
	HashSHA256     HashType = "sha256"
	HashSHA512     HashType = "sha512"
	HashSHA3_256   HashType = "sha3-256"
	HashBLAKE2b256 HashType = "blake2b-256"
)

// Hash is the expected digest of a target.
type Hash struct {
	Type  HashType `json:"type" yaml:"type"`
	Value string   `json:"value" yaml:"value"`
}

// Target describes an artifact to install. It is read-only once created.
type Target struct {
	Filename string `json:"filename" yaml:"filename"`
	URI      string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Length   uint64 `json:"length" yaml:"length"`
	Hash     Hash   `json:"hash" yaml:"hash"`
}

// Validate checks the fields every install needs.
func (t Target) Validate() error {
	if t.Filename == "" {
		return fmt.Errorf("target filename is required")
	}
	if t.Length == 0 {
		return fmt.Errorf("target %s has zero length", t.Filename)
	}
	if t.Hash.Type == "" || t.Hash.Value == "" {
		return fmt.Errorf("target %s has no hash", t.Filename)
	}
	return nil
}

// MatchesHash reports whether digest equals the target's expected hash.
// Hex digests are compared case-insensitively.
func (t Target) MatchesHash(digest string) bool {
	return strings.EqualFold(strings.TrimSpace(digest), strings.TrimSpace(t.Hash.Value))
}

// ResultCode is the outcome of an install step.
type ResultCode string

const (
	ResultOk             ResultCode = "Ok"
	ResultNeedCompletion ResultCode = "NeedCompletion"
	ResultInstallFailed  ResultCode = "InstallFailed"
)

// FailureKind gives callers a machine-readable reason alongside
// ResultInstallFailed. It is empty for successful results.
type FailureKind string

const (
	KindNone               FailureKind = ""
	KindInvalidTarget      FailureKind = "invalid_target"
	KindUnsupportedHash    FailureKind = "unsupported_hash"
	KindEngineStart        FailureKind = "engine_start"
	KindEngineFailure      FailureKind = "engine_failure"
	KindTransport          FailureKind = "transport"
	KindLengthExceeded     FailureKind = "length_exceeded"
	KindIntegrity          FailureKind = "integrity"
	KindCancelled          FailureKind = "cancelled"
	KindIncompleteTransfer FailureKind = "incomplete_transfer"
	KindWrongVersion       FailureKind = "wrong_version"
	KindVersionQuery       FailureKind = "version_query"
	KindState              FailureKind = "state"
)

// InstallationResult is the structured outcome of an install or finalize
// step. Values are never mutated after construction.
type InstallationResult struct {
	Code    ResultCode  `json:"code" yaml:"code"`
	Kind    FailureKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Message string      `json:"message" yaml:"message"`
}

// NewResult builds a successful or pending result.
func NewResult(code ResultCode, message string) InstallationResult {
	return InstallationResult{Code: code, Message: message}
}

// Failed builds an InstallFailed result of the given kind.
func Failed(kind FailureKind, message string) InstallationResult {
	return InstallationResult{Code: ResultInstallFailed, Kind: kind, Message: message}
}

// Success reports whether the result is Ok or NeedCompletion.
func (r InstallationResult) Success() bool {
	return r.Code == ResultOk || r.Code == ResultNeedCompletion
}

func (r InstallationResult) String() string {
	if r.Kind != KindNone {
		return fmt.Sprintf("%s (%s): %s", r.Code, r.Kind, r.Message)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// PackageRecord is one entry of the installed package inventory.
type PackageRecord struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}
