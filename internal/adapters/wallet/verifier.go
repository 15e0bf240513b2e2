package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"rcn-ledger/internal/core/domain"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var errMalformedSignature = errors.New("malformed signature")

// PersonalSignVerifier checks EIP-191 personal_sign signatures produced by
// customer wallets.
type PersonalSignVerifier struct{}

// NewPersonalSignVerifier creates a verifier for personal_sign signatures
func NewPersonalSignVerifier() *PersonalSignVerifier {
	return &PersonalSignVerifier{}
}

// Verify reports whether signature over message was produced by the key
// owning address. Any recovery failure is reported as domain.ErrBadSignature.
func (v *PersonalSignVerifier) Verify(address, message, signature string) error {
	signer, err := RecoverAddress(message, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	if !strings.EqualFold(signer, domain.NormalizeAddress(address)) {
		return domain.ErrBadSignature
	}
	return nil
}

// RecoverAddress returns the lower-cased hex address that signed message.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}
	// Wallets emit V as 27/28.
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := accounts.TextHash([]byte(message))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("recover pubkey: %w", err)
	}
	return strings.ToLower(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

func decodeSignature(signature string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedSignature, err)
	}
	if len(sig) != ethcrypto.SignatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", errMalformedSignature, ethcrypto.SignatureLength, len(sig))
	}
	return sig, nil
}

// Sign produces a personal_sign signature for message with the given hex
// private key. Used by development tooling and tests.
func Sign(privateKeyHex, message string) (string, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return "", fmt.Errorf("load private key: %w", err)
	}
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}
