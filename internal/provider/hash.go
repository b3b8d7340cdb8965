package provider

import (
	"encoding/hex"

	"github.com/gowebpki/jcs"
	"github.com/rotisserie/eris"
	"golang.org/x/crypto/sha3"
)

// IntegrityHash returns hex(SHA3-256) of the RFC 8785 canonical form of raw.
// Key order and insignificant whitespace in raw do not affect the result.
func IntegrityHash(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", eris.Wrap(err, "provider: canonicalize raw payload")
	}
	sum := sha3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
