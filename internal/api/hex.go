package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HexBytes (de)serializes a byte slice as a lowercase "0x"-prefixed hex
// string, the wire convention spec.md §6 mandates for every JSON body
// byte field.
type HexBytes []byte

func (h HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(h))
}

func (h *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("api: invalid hex byte string: %w", err)
	}
	*h = b
	return nil
}
