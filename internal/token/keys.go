package token

import (
	"crypto"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretBytes is the shortest HMAC secret accepted.
const MinSecretBytes = 32

// signingKeys resolves the named algorithm and key material into a jwt
// method with its signing and verification keys. HMAC algorithms take the
// raw secret; RSA, ECDSA and EdDSA take a PEM private key whose public half
// is used for verification.
func signingKeys(alg string, material []byte) (jwt.SigningMethod, any, any, error) {
	method := jwt.GetSigningMethod(strings.ToUpper(strings.TrimSpace(alg)))
	if method == nil {
		if strings.EqualFold(alg, "eddsa") {
			method = jwt.SigningMethodEdDSA
		} else {
			return nil, nil, nil, fmt.Errorf("unsupported signing algorithm %q", alg)
		}
	}
	if len(material) == 0 {
		return nil, nil, nil, errors.New("signing key is empty")
	}

	switch method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(material) < MinSecretBytes {
			return nil, nil, nil, fmt.Errorf("signing secret must be at least %d bytes", MinSecretBytes)
		}
		return method, material, material, nil
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		priv, err := jwt.ParseRSAPrivateKeyFromPEM(material)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse rsa key: %w", err)
		}
		return method, priv, &priv.PublicKey, nil
	case *jwt.SigningMethodECDSA:
		priv, err := jwt.ParseECPrivateKeyFromPEM(material)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse ecdsa key: %w", err)
		}
		return method, priv, &priv.PublicKey, nil
	case *jwt.SigningMethodEd25519:
		priv, err := jwt.ParseEdPrivateKeyFromPEM(material)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parse ed25519 key: %w", err)
		}
		signer, ok := priv.(crypto.Signer)
		if !ok {
			return nil, nil, nil, errors.New("ed25519 key cannot sign")
		}
		return method, priv, signer.Public(), nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}
