// Package deriver turns a chain's registered extended public key into the
// stream of per-invoice receive addresses: BIP32 non-hardened child public
// key derivation over secp256k1, finished off with the target chain's own
// address encoding.
package deriver

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	domainerrors "gatewayd.backend/internal/domain/errors"
)

const (
	extendedKeyVersionBytes = 4
	extendedKeyDepthBytes   = 1
	extendedKeyFPBytes      = 4
	extendedKeyChildBytes   = 4
	extendedKeyChainBytes   = 32
	extendedKeyDataBytes    = 33
	extendedKeyTotalBytes   = extendedKeyVersionBytes + extendedKeyDepthBytes + extendedKeyFPBytes +
		extendedKeyChildBytes + extendedKeyChainBytes + extendedKeyDataBytes
	hardenedChildBit = uint32(1) << 31
)

// ExtendedPublicKey is a parsed BIP32 xpub: a compressed secp256k1 public key
// plus the chain code needed to derive non-hardened children. The gateway
// never holds a private key - invoices only ever need the watch address, and
// a compromised gateway process must not be able to spend funds.
type ExtendedPublicKey struct {
	pubKey    *secp256k1.PublicKey
	chainCode [32]byte
}

// ParseExtendedPublicKey decodes a base58check-encoded xpub (or any BIP32
// variant sharing its 78-byte serialized layout, e.g. ypub/zpub/tpub). Only
// the chain code and public key are used; version bytes are not validated
// against a specific network since a chain row's xpub may come from any of
// several HD wallet conventions.
func ParseExtendedPublicKey(xpub string) (*ExtendedPublicKey, error) {
	decoded := base58.Decode(xpub)
	if len(decoded) != extendedKeyTotalBytes+4 { // +4 checksum bytes
		return nil, domainerrors.BadRequest(fmt.Sprintf("invalid extended public key length: %d", len(decoded)))
	}
	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]
	sum := sha256.Sum256(payload)
	sum = sha256.Sum256(sum[:])
	if !hmac.Equal(sum[:4], checksum) {
		return nil, domainerrors.BadRequest("invalid extended public key checksum")
	}

	offset := extendedKeyVersionBytes + extendedKeyDepthBytes + extendedKeyFPBytes + extendedKeyChildBytes
	var chainCode [32]byte
	copy(chainCode[:], payload[offset:offset+extendedKeyChainBytes])
	keyData := payload[offset+extendedKeyChainBytes : offset+extendedKeyChainBytes+extendedKeyDataBytes]
	if keyData[0] != 0x02 && keyData[0] != 0x03 {
		return nil, domainerrors.BadRequest("extended public key is not a compressed public key")
	}
	pub, err := secp256k1.ParsePubKey(keyData)
	if err != nil {
		return nil, domainerrors.BadRequest(fmt.Sprintf("invalid secp256k1 public key: %v", err))
	}
	return &ExtendedPublicKey{pubKey: pub, chainCode: chainCode}, nil
}

// DeriveChild computes the i-th non-hardened child of this key per BIP32
// §"Public parent key -> public child key". It is pure and total: any index
// below the hardened boundary succeeds (the 1-in-2^127 chance of hitting an
// invalid intermediate scalar is treated as unreachable, matching every
// production HD wallet implementation).
func (k *ExtendedPublicKey) DeriveChild(index uint32) (*ExtendedPublicKey, error) {
	if index >= hardenedChildBit {
		return nil, domainerrors.BadRequest("hardened child derivation is not supported from a public key")
	}
	compressed := k.pubKey.SerializeCompressed()
	data := make([]byte, 0, len(compressed)+4)
	data = append(data, compressed...)
	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], index)
	data = append(data, idxBytes[:]...)

	mac := hmac.New(sha512.New, k.chainCode[:])
	mac.Write(data)
	sum := mac.Sum(nil)

	var il secp256k1.ModNScalar
	il.SetByteSlice(sum[:32])
	if il.IsZero() {
		return nil, domainerrors.InternalError(fmt.Errorf("derived scalar is zero at index %d", index))
	}

	var childPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&il, &childPoint)
	var parentPoint secp256k1.JacobianPoint
	k.pubKey.AsJacobian(&parentPoint)
	var sumPoint secp256k1.JacobianPoint
	secp256k1.AddNonConst(&childPoint, &parentPoint, &sumPoint)
	sumPoint.ToAffine()
	if sumPoint.X.IsZero() && sumPoint.Y.IsZero() {
		return nil, domainerrors.InternalError(fmt.Errorf("derived child is the point at infinity at index %d", index))
	}

	var childChainCode [32]byte
	copy(childChainCode[:], sum[32:])
	return &ExtendedPublicKey{
		pubKey:    secp256k1.NewPublicKey(&sumPoint.X, &sumPoint.Y),
		chainCode: childChainCode,
	}, nil
}

// Address derives the i-th receive address and returns both the raw address
// (callers lowercase its hex for what the store persists and compares) and
// its EIP-55 checksummed form (what the admin API and webhooks display to a
// human).
func (k *ExtendedPublicKey) Address(index uint32) (common.Address, string, error) {
	child, err := k.DeriveChild(index)
	if err != nil {
		return common.Address{}, "", err
	}
	uncompressed := child.pubKey.SerializeUncompressed()
	hash := crypto.Keccak256(uncompressed[1:]) // drop the 0x04 prefix, like crypto.PubkeyToAddress
	addr := common.BytesToAddress(hash[12:])
	return addr, addr.Hex(), nil
}
