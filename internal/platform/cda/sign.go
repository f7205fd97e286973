package cda

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureAlgorithm is the only algorithm emitted and accepted.
const SignatureAlgorithm = "RS256"

var (
	// ErrUnsigned is returned when verification is asked of a document
	// without a signature block.
	ErrUnsigned = errors.New("document is not signed")

	// ErrSignatureInvalid is returned when the signature block fails
	// cryptographic verification or the content digest does not match.
	ErrSignatureInvalid = errors.New("document signature invalid")
)

// digest hashes the document with the signature block removed, so the
// signature stays valid while travelling inside the document.
func digest(doc *Bundle) (string, error) {
	unsigned := *doc
	unsigned.Signature = nil
	raw, err := json.Marshal(&unsigned)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Sign computes the document digest, signs it with the RSA private key
// (PEM, PKCS#1 or PKCS#8), and attaches a signature block carrying the
// matching public key so receivers can verify without prior key exchange.
func Sign(doc *Bundle, privateKeyPEM []byte) error {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	d, err := digest(doc)
	if err != nil {
		return fmt.Errorf("hash document: %w", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"digest": d,
		"iat":    jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return fmt.Errorf("sign document: %w", err)
	}
	pub, err := encodePublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encode public key: %w", err)
	}
	doc.Signature = &Signature{
		Algorithm: SignatureAlgorithm,
		Value:     signed,
		PublicKey: pub,
	}
	return nil
}

// Verify checks the signature block against the document content using
// the embedded public key. Callers holding the expected key out of band
// should compare it with doc.Signature.PublicKey before trusting the
// result.
func Verify(doc *Bundle) error {
	if doc == nil || doc.Signature == nil {
		return ErrUnsigned
	}
	if doc.Signature.Algorithm != SignatureAlgorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrSignatureInvalid, doc.Signature.Algorithm)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(doc.Signature.PublicKey))
	if err != nil {
		return fmt.Errorf("%w: parse public key: %v", ErrSignatureInvalid, err)
	}
	token, err := jwt.Parse(doc.Signature.Value, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != SignatureAlgorithm {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return pub, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("%w: unexpected claims shape", ErrSignatureInvalid)
	}
	signedDigest, _ := claims["digest"].(string)
	current, err := digest(doc)
	if err != nil {
		return fmt.Errorf("hash document: %w", err)
	}
	if signedDigest == "" || signedDigest != current {
		return fmt.Errorf("%w: content digest mismatch", ErrSignatureInvalid)
	}
	return nil
}

// GenerateKeyPair creates a PEM-encoded RSA key pair for document
// signing, for operators without existing key material.
func GenerateKeyPair(bits int) (privatePEM, publicPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, err
	}
	privatePEM = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pub, err := encodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return privatePEM, []byte(pub), nil
}

func encodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
