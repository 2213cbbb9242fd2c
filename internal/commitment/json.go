package commitment

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Points and scalars persist as 0x-hex strings inside ledger records.

type pointJSON struct {
	X string `json:"x"`
	Y string `json:"y"`
}

// MarshalJSON encodes the point coordinates as 0x-prefixed hex.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(pointJSON{
		X: "0x" + hex.EncodeToString(p.X[:]),
		Y: "0x" + hex.EncodeToString(p.Y[:]),
	})
}

// UnmarshalJSON decodes hex coordinate strings into a point.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw pointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := decode32(raw.X, &p.X); err != nil {
		return fmt.Errorf("point x: %w", err)
	}
	if err := decode32(raw.Y, &p.Y); err != nil {
		return fmt.Errorf("point y: %w", err)
	}
	return nil
}

// MarshalJSON encodes the scalar as 0x-prefixed hex.
func (s Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(s[:]))
}

// UnmarshalJSON decodes a hex string into a scalar.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return decode32(raw, (*[32]byte)(s))
}

func decode32(s string, out *[32]byte) error {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != 32 {
		return fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return nil
}
