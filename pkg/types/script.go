package types

import (
	"encoding/hex"
	"encoding/json"
)

// Opcodes that mark zerocoin scripts.
const (
	OpZerocoinMint        byte = 0xc1
	OpZerocoinSpend       byte = 0xc2
	OpZerocoinPublicSpend byte = 0xc3
)

// Script is an opaque locking or unlocking script.
type Script []byte

// IsZerocoinMint reports whether the script creates a zerocoin mint.
func (s Script) IsZerocoinMint() bool {
	return len(s) > 0 && s[0] == OpZerocoinMint
}

// IsZerocoinSpend reports whether the script is a private zerocoin spend.
func (s Script) IsZerocoinSpend() bool {
	return len(s) > 0 && s[0] == OpZerocoinSpend
}

// IsZerocoinPublicSpend reports whether the script is a public zerocoin spend.
func (s Script) IsZerocoinPublicSpend() bool {
	return len(s) > 0 && s[0] == OpZerocoinPublicSpend
}

// MarshalJSON encodes the script as a hex string.
func (s Script) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s))
}

// UnmarshalJSON decodes a hex-encoded script.
func (s *Script) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = nil
		return nil
	}
	b, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	*s = b
	return nil
}
