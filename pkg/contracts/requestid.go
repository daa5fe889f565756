package contracts

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ComputeRequestID derives the deterministic request id the oracle contract
// uses: keccak256(identifier || uint256(timestamp) || ancillaryData), with the
// identifier packed as bytes32. Returned hex-encoded with 0x prefix.
func ComputeRequestID(identifier string, timestamp int64, ancillary []byte) string {
	var ident [32]byte
	copy(ident[:], decodeIdentifier(identifier))

	var ts [32]byte
	binary.BigEndian.PutUint64(ts[24:], uint64(timestamp))

	h := sha3.NewLegacyKeccak256()
	h.Write(ident[:])
	h.Write(ts[:])
	h.Write(ancillary)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// IdentifierHash returns keccak256 of a query identifier string, hex-encoded,
// matching the on-chain bytes32 identifier (e.g. "YES_OR_NO_QUERY").
func IdentifierHash(name string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

func decodeIdentifier(identifier string) []byte {
	s := strings.TrimPrefix(identifier, "0x")
	if b, err := hex.DecodeString(s); err == nil && len(b) == 32 {
		return b
	}
	// Plain-text identifiers hash to their bytes32 form.
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(identifier))
	return h.Sum(nil)
}
