package evidence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"

	"github.com/subjective-labs/resolver/pkg/contracts"
)

// CanonicalHash returns the keccak-256 of the RFC 8785 canonical form of the
// bundle. This is the hash submitted on-chain with the settlement, so it must
// be stable across processes and field ordering.
//
// The tx hash is excluded: it cannot exist before the hash is submitted.
func CanonicalHash(bundle *contracts.EvidenceBundle) (string, error) {
	clone := *bundle
	clone.TxHash = ""

	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize evidence: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write(canonical)
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}
