package security

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ReportSigner signs off-chain payloads such as run reports
type ReportSigner interface {
	Address() common.Address
	SignReport(payload []byte) ([]byte, error)
}

// SignReport signs payload as an EIP-191 personal message. The signature is
// 65 bytes with V of 27 or 28, the form wallets and ecrecover expect.
func (s *KeySigner) SignReport(payload []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(payload), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign report: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverReportSigner returns the account that produced sig over payload
func RecoverReportSigner(payload, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, errors.New("invalid signature recovery id")
	}

	pub, err := crypto.SigToPub(accounts.TextHash(payload), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyReport checks that sig is a hex signature of payload by want
func VerifyReport(payload []byte, sigHex string, want common.Address) (bool, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}
	got, err := RecoverReportSigner(payload, sig)
	if err != nil {
		return false, err
	}
	return got == want, nil
}
