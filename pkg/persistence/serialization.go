package persistence

import (
	"encoding/json"
	"fmt"
)

// MarshalAccountMetadata serializes AccountMetadata to JSON bytes.
func MarshalAccountMetadata(meta *AccountMetadata) ([]byte, error) {
	if meta == nil {
		return nil, fmt.Errorf("cannot marshal nil AccountMetadata")
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal AccountMetadata to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalAccountMetadata deserializes AccountMetadata from JSON bytes.
func UnmarshalAccountMetadata(data []byte) (*AccountMetadata, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var meta AccountMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to AccountMetadata: %w", err)
	}

	return &meta, nil
}
