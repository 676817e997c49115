package taskqueue

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

func init() {
	// Job arguments travel as []any; concrete types inside must be known
	// to gob. Applications register their own argument types.
	gob.Register(map[string]any{})
	gob.Register(map[string]int{})
	gob.Register(map[string]string{})
	gob.Register([]any{})
}

// EncodeItem gob-encodes an Item.
func EncodeItem(it Item) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&it); err != nil {
		return nil, fmt.Errorf("encode item %s: %w", it.ID, err)
	}
	return buf.Bytes(), nil
}

// DecodeItem gob-decodes an Item.
func DecodeItem(data []byte) (*Item, error) {
	var it Item
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&it); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return &it, nil
}
