package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// Agent(string source,bytes32 connectionId)
	agentTypeHash = ethcrypto.Keccak256(
		[]byte("Agent(string source,bytes32 connectionId)"),
	)
)

// The exchange signs agent actions under a fixed synthetic domain rather than
// the chain the wallet lives on.
const signingChainID = 1337

// Signature is the r/s/v decomposition the exchange API expects alongside a
// signed action.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// Signer produces EIP-712 agent signatures for the hedge venue's exchange
// endpoint from a secp256k1 private key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte // cached EIP-712 domain separator hash
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	s := &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}
	s.domainSep = buildDomainSeparator("Exchange", "1", signingChainID, common.Address{})
	return s, nil
}

// Address returns the wallet address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignAction signs the Agent struct binding an action hash to this wallet.
// The source field distinguishes mainnet from testnet submissions.
func (s *Signer) SignAction(actionHash common.Hash, mainnet bool) (Signature, error) {
	source := "a"
	if !mainnet {
		source = "b"
	}

	structHash := ethcrypto.Keccak256(
		concatBytes(
			agentTypeHash,
			ethcrypto.Keccak256([]byte(source)),
			actionHash.Bytes(),
		),
	)

	digest := eip712Hash(s.domainSep, structHash)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return Signature{}, fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; the API expects {27,28}.
	v := sig[64]
	if v < 27 {
		v += 27
	}

	return Signature{
		R: "0x" + common.Bytes2Hex(sig[:32]),
		S: "0x" + common.Bytes2Hex(sig[32:64]),
		V: v,
	}, nil
}

// HashAction computes the connection id for a serialized exchange action: the
// keccak256 of the action bytes, the big-endian nonce, and a trailing
// no-vault marker byte.
func HashAction(actionJSON []byte, nonce uint64) common.Hash {
	var nonceBytes [8]byte
	binary.BigEndian.PutUint64(nonceBytes[:], nonce)

	data := concatBytes(actionJSON, nonceBytes[:], []byte{0x00})
	return common.BytesToHash(ethcrypto.Keccak256(data))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// buildDomainSeparator returns keccak256(abi.encode(typeHash, nameHash,
// versionHash, chainId, verifyingContract)).
func buildDomainSeparator(name, version string, chainID int64, contract common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(name)),
			ethcrypto.Keccak256([]byte(version)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(contract.Bytes(), 32),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
