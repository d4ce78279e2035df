package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	codeModulus  = 10_000
	codeSaltSize = 16
)

// GenerateActivationCode returns a uniformly random 4-digit decimal string,
// zero-padded so leading zeros survive.
func GenerateActivationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeModulus))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

// MakeCodeDigest returns (salt, digest), both base64, where
// digest = SHA256(salt || code). A fresh salt is drawn per code so stored
// digests are not comparable across codes.
func MakeCodeDigest(code string) (string, string, error) {
	salt := make([]byte, codeSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate code salt: %w", err)
	}
	digest := saltedCodeDigest(salt, code)
	return base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(digest), nil
}

// CodeDigest recomputes the base64 digest for a candidate code and a stored
// base64 salt. An undecodable salt yields an error, never a match.
func CodeDigest(code, saltB64 string) (string, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", fmt.Errorf("decode code salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(saltedCodeDigest(salt, code)), nil
}

// VerifyCodeDigest checks a candidate code against (salt, digest) from
// MakeCodeDigest using a constant-time comparison.
func VerifyCodeDigest(code, saltB64, digestB64 string) bool {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(digestB64)
	if err != nil {
		return false
	}
	computed := saltedCodeDigest(salt, code)
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func saltedCodeDigest(salt []byte, code string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(code))
	return h.Sum(nil)
}
