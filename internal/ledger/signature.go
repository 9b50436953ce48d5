package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrMalformedSignature = errors.New("malformed signature")

// VerifyPersonalSignature checks an EIP-191 personal_sign signature of
// message by identity.
func VerifyPersonalSignature(message, signature, identity string) (bool, error) {
	if !common.IsHexAddress(identity) {
		return false, fmt.Errorf("%w: signer %q is not an address", ErrMalformedSignature, identity)
	}
	raw, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(raw) != crypto.SignatureLength {
		return false, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(raw))
	}
	sig := make([]byte, len(raw))
	copy(sig, raw)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return false, fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, raw[crypto.RecoveryIDOffset])
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return false, nil
	}
	return crypto.PubkeyToAddress(*pub) == common.HexToAddress(identity), nil
}
