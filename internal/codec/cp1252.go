package codec

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// DecodeCP1252 converts Windows-1252 bytes to a UTF-8 string.
func DecodeCP1252(b []byte) (string, error) {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("codec: cp1252 decode: %w", err)
	}
	return string(out), nil
}

// EncodeCP1252 converts s to Windows-1252. Runes with no mapping are an error.
func EncodeCP1252(s string) ([]byte, error) {
	out, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("codec: cp1252 encode %q: %w", s, err)
	}
	return out, nil
}
