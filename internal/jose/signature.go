package jose

import (
	"encoding/asn1"
	"fmt"
	"math/big"
)

// ecdsaComponentSize is the byte width of R and S for P-256.
const ecdsaComponentSize = 32

type ecdsaSignature struct {
	R, S *big.Int
}

// derToJOSE converts a DER-encoded ECDSA signature, as returned by the KMS,
// into the fixed-width R||S form JOSE requires.
func derToJOSE(der []byte) ([]byte, error) {
	var sig ecdsaSignature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil {
		return nil, fmt.Errorf("parse DER signature: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("trailing bytes after DER signature")
	}
	if sig.R.BitLen() > ecdsaComponentSize*8 || sig.S.BitLen() > ecdsaComponentSize*8 {
		return nil, fmt.Errorf("signature component exceeds curve width")
	}

	out := make([]byte, 2*ecdsaComponentSize)
	sig.R.FillBytes(out[:ecdsaComponentSize])
	sig.S.FillBytes(out[ecdsaComponentSize:])
	return out, nil
}

// joseToDER converts a fixed-width R||S signature back to DER. Used when a
// caller-supplied JOSE signature must be checked with a raw EC verifier.
func joseToDER(sig []byte) ([]byte, error) {
	if len(sig) != 2*ecdsaComponentSize {
		return nil, fmt.Errorf("expected %d byte signature, got %d", 2*ecdsaComponentSize, len(sig))
	}
	r := new(big.Int).SetBytes(sig[:ecdsaComponentSize])
	s := new(big.Int).SetBytes(sig[ecdsaComponentSize:])
	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}
