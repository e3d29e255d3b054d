package merkle

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

// wireProof has the fields of MerkleProof without its marshaling methods.
type wireProof MerkleProof

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to build cbor encoding mode: %v", err))
	}
	cborEncMode = em
}

// MarshalBinary encodes the proof as deterministic CBOR.
func (p *MerkleProof) MarshalBinary() ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot marshal nil MerkleProof")
	}
	return cborEncMode.Marshal((*wireProof)(p))
}

// UnmarshalBinary decodes a CBOR encoded proof.
func (p *MerkleProof) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("cannot unmarshal empty data")
	}
	if err := cbor.Unmarshal(data, (*wireProof)(p)); err != nil {
		return fmt.Errorf("failed to unmarshal CBOR to MerkleProof: %w", err)
	}
	return nil
}
