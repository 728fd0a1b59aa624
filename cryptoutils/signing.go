package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/safe-forge/interfaces"
)

const (
	TimestampHeader = "X-Forge-Timestamp"
	SignatureHeader = "X-Forge-Signature"

	MaxClockSkew = 5 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrInvalidTimestamp = errors.New("invalid request timestamp")
	ErrStaleRequest     = errors.New("request timestamp outside allowed skew")
)

// RequestDigest returns the hash that is signed for a request.
func RequestDigest(method, path string, timestamp int64, body []byte) []byte {
	msg := make([]byte, 0, len(method)+len(path)+len(body)+24)
	msg = append(msg, strings.ToUpper(method)...)
	msg = append(msg, '\n')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	msg = strconv.AppendInt(msg, timestamp, 10)
	msg = append(msg, '\n')
	msg = append(msg, body...)
	return accounts.TextHash(msg)
}

// SignRequest signs the request and returns the hex encoded 65-byte
// signature for SignatureHeader.
func SignRequest(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := crypto.Sign(RequestDigest(method, path, timestamp, body), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// RecoverRequestSigner validates the timestamp against now and returns the
// principal whose key produced signature.
func RecoverRequestSigner(method, path, timestamp, signature string, body []byte, now time.Time) (interfaces.Principal, error) {
	if signature == "" || timestamp == "" {
		return interfaces.Principal{}, ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, timestamp)
	}
	if skew := now.Sub(time.Unix(ts, 0)); skew > MaxClockSkew || skew < -MaxClockSkew {
		return interfaces.Principal{}, fmt.Errorf("%w: %s", ErrStaleRequest, skew.Round(time.Second))
	}

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return interfaces.Principal{}, fmt.Errorf("%w: expected %d hex bytes", ErrInvalidSignature, crypto.SignatureLength)
	}
	// Accept wallet style recovery ids.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubkey, err := crypto.SigToPub(RequestDigest(method, path, ts, body), sig)
	if err != nil {
		return interfaces.Principal{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return interfaces.PrincipalFromAddress(crypto.PubkeyToAddress(*pubkey)), nil
}

// PrincipalOf returns the principal of key.
func PrincipalOf(key *ecdsa.PrivateKey) interfaces.Principal {
	return interfaces.PrincipalFromAddress(crypto.PubkeyToAddress(key.PublicKey))
}

// LoadPrivateKey reads a hex encoded secp256k1 key from path.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load key from %s: %w", path, err)
	}
	return key, nil
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}

// GenerateKeyFile creates a new key and writes it to path with 0600
// permissions. An existing file is never overwritten.
func GenerateKeyFile(path string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("key file %s already exists", path)
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := crypto.SaveECDSA(path, key); err != nil {
		return nil, fmt.Errorf("failed to save key: %w", err)
	}
	return key, nil
}
