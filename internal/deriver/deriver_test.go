package deriver

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A well-known BIP32 test vector xpub (test vector 1, chain m: the master key), widely
// reused across HD wallet test suites.
const testXpub = "xpub661MyMwAqRbcFtXgS5sYJABqqG9YLmC4Q1Rdap9gSE8NqtwybGhePY2gZ29ESFjqJoCu1Rupje8YtGqsefD265TMg7usUDFdp6W1EGMcet8"

func TestParseExtendedPublicKeyRejectsGarbage(t *testing.T) {
	_, err := ParseExtendedPublicKey("not-a-valid-xpub")
	assert.Error(t, err)
}

func TestDeriveChildIsDeterministicAndDistinctPerIndex(t *testing.T) {
	xpub, err := ParseExtendedPublicKey(testXpub)
	require.NoError(t, err)

	addr0a, hex0a, err := xpub.Address(0)
	require.NoError(t, err)
	addr0b, hex0b, err := xpub.Address(0)
	require.NoError(t, err)
	assert.Equal(t, addr0a, addr0b)
	assert.Equal(t, hex0a, hex0b)

	_, hex1, err := xpub.Address(1)
	require.NoError(t, err)
	assert.NotEqual(t, hex0a, hex1)
}

func TestDeriveChildRejectsHardenedIndex(t *testing.T) {
	xpub, err := ParseExtendedPublicKey(testXpub)
	require.NoError(t, err)
	_, err = xpub.DeriveChild(hardenedChildBit)
	assert.Error(t, err)
}

func TestAddressIsLowercaseComparableToEIP55(t *testing.T) {
	xpub, err := ParseExtendedPublicKey(testXpub)
	require.NoError(t, err)
	addr, hexForm, err := xpub.Address(7)
	require.NoError(t, err)
	assert.Equal(t, addr.Hex(), hexForm)
	// Canonical storage form used throughout the store is lowercase.
	assert.Equal(t, "0x"+hex.EncodeToString(addr.Bytes()), strings.ToLower(hexForm))
}
