package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// Supported key algorithms.
const (
	AlgEd25519   = "ed25519"
	AlgSecp256k1 = "secp256k1"
	AlgRSAPSS    = "rsa-pss"
	AlgRSASHA256 = "rsa-sha256"
)

var (
	ErrBadSignature   = errors.New("signature does not verify")
	ErrUnsupportedAlg = errors.New("unsupported alg")
)

type verifier func(publicKey string, message []byte, signature string) error

var verifiers = map[string]verifier{
	AlgEd25519:   verifyEd25519,
	AlgSecp256k1: verifySecp256k1,
	AlgRSAPSS:    verifyRSA(true),
	AlgRSASHA256: verifyRSA(false),
}

// SupportedAlg reports whether alg can be used for challenges.
func SupportedAlg(alg string) bool {
	_, ok := verifiers[strings.ToLower(alg)]
	return ok
}

// VerifySignature checks signature over message with publicKey.
// ed25519 keys and signatures are base64 or hex; secp256k1 ones are hex
// and signed with the Ethereum personal-message hash; RSA keys are PEM
// or base64 DER.
func VerifySignature(alg, publicKey, message, signature string) error {
	v, ok := verifiers[strings.ToLower(alg)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlg, alg)
	}
	return v(publicKey, []byte(message), signature)
}

func verifyEd25519(publicKey string, message []byte, signature string) error {
	pub, err := decodeBase64OrHex(publicKey)
	if err != nil {
		return err
	}
	sig, err := decodeBase64OrHex(signature)
	if err != nil {
		return err
	}
	if len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid ed25519 public key length")
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.New("invalid ed25519 signature length")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return ErrBadSignature
	}
	return nil
}

func verifySecp256k1(publicKey string, message []byte, signature string) error {
	pubBytes, err := decodeHex(publicKey)
	if err != nil {
		return err
	}
	sig, err := decodeHex(signature)
	if err != nil {
		return err
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return err
	}
	if len(sig) < 64 {
		return errors.New("invalid secp256k1 signature length")
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ecdsa.Verify(pub.ToECDSA(), PersonalHash(message), r, s) {
		return ErrBadSignature
	}
	return nil
}

func verifyRSA(pss bool) verifier {
	return func(publicKey string, message []byte, signature string) error {
		pub, err := parseRSAPublicKey(publicKey)
		if err != nil {
			return err
		}
		sig, err := decodeBase64OrHex(signature)
		if err != nil {
			return err
		}
		h := sha256.Sum256(message)
		if pss {
			err = rsa.VerifyPSS(pub, crypto.SHA256, h[:], sig, nil)
		} else {
			err = rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig)
		}
		if err != nil {
			return ErrBadSignature
		}
		return nil
	}
}

func parseRSAPublicKey(publicKey string) (*rsa.PublicKey, error) {
	s := strings.TrimSpace(publicKey)
	var der []byte
	if strings.HasPrefix(s, "-----BEGIN") {
		block, _ := pem.Decode([]byte(s))
		if block == nil {
			return nil, errors.New("invalid pem public key")
		}
		if pk, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
			return pk, nil
		}
		der = block.Bytes
	} else {
		b, err := decodeBase64OrHex(s)
		if err != nil {
			return nil, err
		}
		der = b
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pk, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("unsupported rsa public key")
	}
	return pk, nil
}

// PersonalHash is the Ethereum personal-message hash of msg.
func PersonalHash(msg []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "\x19Ethereum Signed Message:\n%d", len(msg))
	h.Write(msg)
	return h.Sum(nil)
}

func decodeBase64OrHex(input string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(input); err == nil {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(input); err == nil {
		return b, nil
	}
	return decodeHex(input)
}

func decodeHex(input string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(input), "0x"))
}
