package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarshalUnmarshalAccountMetadata_RoundTrip tests JSON marshaling/unmarshaling
func TestMarshalUnmarshalAccountMetadata_RoundTrip(t *testing.T) {
	original := &AccountMetadata{
		Owner:     "0x1234567890123456789012345678901234567890",
		Value:     ^uint64(0),
		LeafCount: 7,
		Nonce:     9,
		HashType:  "sha3-256",
	}

	data, err := MarshalAccountMetadata(original)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	restored, err := UnmarshalAccountMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, original, restored)
}

// TestMarshalAccountMetadata_NilInput tests error handling for nil input
func TestMarshalAccountMetadata_NilInput(t *testing.T) {
	_, err := MarshalAccountMetadata(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil AccountMetadata")
}

// TestUnmarshalAccountMetadata_InvalidJSON tests error handling for invalid JSON
func TestUnmarshalAccountMetadata_InvalidJSON(t *testing.T) {
	_, err := UnmarshalAccountMetadata([]byte(`{"value": "not a number"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")

	_, err = UnmarshalAccountMetadata(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}
