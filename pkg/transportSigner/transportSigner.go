package transportSigner

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature [R || S || V]
const SignatureLength = crypto.SignatureLength

var (
	ErrHashMismatch     = errors.New("message hash does not match payload")
	ErrInvalidSignature = errors.New("invalid message signature")
)

type SignedMessage struct {
	Payload   hexutil.Bytes `json:"payload"`   // Raw message bytes
	Hash      common.Hash   `json:"hash"`      // keccak256(payload)
	Signature hexutil.Bytes `json:"signature"` // secp256k1 signature over hash
}

type ITransportSigner interface {
	CreateAuthenticatedMessage(data []byte) (*SignedMessage, error)
	SignMessage(data []byte) ([]byte, error) // Sign raw message bytes, returns signature
	Address() common.Address
}

// RecoverSigner checks that msg is internally consistent and returns the address
// whose key produced the signature.
func RecoverSigner(msg *SignedMessage) (common.Address, error) {
	if msg == nil {
		return common.Address{}, fmt.Errorf("message is nil")
	}
	if crypto.Keccak256Hash(msg.Payload) != msg.Hash {
		return common.Address{}, ErrHashMismatch
	}
	if len(msg.Signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(msg.Signature))
	}

	sig := make([]byte, SignatureLength)
	copy(sig, msg.Signature)
	// accept the 27/28 recovery id produced by most wallets
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(msg.Hash[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
