package verify

import (
	"encoding/hex"
	"errors"
	"testing"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	"github.com/breeze-rmm/swupdate-agent/pkg/api"
)

func TestKnownDigestsAcrossChunks(t *testing.T) {
	sha3Sum := sha3.Sum256([]byte("abc"))
	blakeSum := blake2b.Sum256([]byte("abc"))

	tests := []struct {
		alg  api.HashType
		want string
	}{
		{api.HashSHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{api.HashSHA512, "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f"},
		{api.HashSHA3_256, hex.EncodeToString(sha3Sum[:])},
		{api.HashBLAKE2b256, hex.EncodeToString(blakeSum[:])},
		{"SHA256", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	}

	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			v, err := New(tt.alg)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			for _, p := range [][]byte{[]byte("a"), nil, []byte("bc")} {
				if err := v.Update(p); err != nil {
					t.Fatalf("Update: %v", err)
				}
			}
			if v.Len() != 3 {
				t.Fatalf("Len = %d, want 3", v.Len())
			}
			if got, _ := v.Sum(); got != tt.want {
				t.Fatalf("Sum = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAlgorithmSelectedPerVerifier(t *testing.T) {
	a, _ := New(api.HashSHA256)
	b, _ := New(api.HashSHA512)
	a.Update([]byte("same"))
	b.Update([]byte("same"))
	sa, _ := a.Sum()
	sb, _ := b.Sum()
	if len(sa) == len(sb) {
		t.Fatal("sha256 and sha512 verifiers produced same-length digests")
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	_, err := New("md5")
	if !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("err = %v, want ErrUnsupportedAlgorithm", err)
	}
	if Supported("md5") {
		t.Fatal("md5 should not be supported")
	}
	if !Supported(api.HashSHA512) {
		t.Fatal("sha512 should be supported")
	}
}

func TestFinalizedVerifierRejectsInput(t *testing.T) {
	v, _ := New(api.HashSHA256)
	v.Update([]byte("abc"))
	if _, err := v.Sum(); err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if err := v.Update([]byte("late")); !errors.Is(err, ErrFinalized) {
		t.Fatalf("Update after Sum = %v, want ErrFinalized", err)
	}
	if _, err := v.Sum(); !errors.Is(err, ErrFinalized) {
		t.Fatalf("second Sum = %v, want ErrFinalized", err)
	}
	if v.Len() != 3 {
		t.Fatalf("Len = %d, rejected input was counted", v.Len())
	}
}
