package inventory

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
)

// codeAlphabet has 32 symbols, one per 5-bit group.
// I, L, O and U are left out to keep codes readable when typed by hand.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// codeBytes is the randomness behind one code: 80 bits, exactly 16 symbols.
const codeBytes = 10

var codeEncoding = base32.NewEncoding(codeAlphabet).WithPadding(base32.NoPadding)

// NewKeyCode returns a code such as "7K2M-Q9XD-4HBR-0ZTE" carrying 80 bits
// from crypto/rand, every bit of which is encoded.
func NewKeyCode() (string, error) {
	var b [codeBytes]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	sym := codeEncoding.EncodeToString(b[:])
	out := make([]byte, 0, len(sym)+3)
	for i := 0; i < len(sym); i++ {
		if i > 0 && i%4 == 0 {
			out = append(out, '-')
		}
		out = append(out, sym[i])
	}
	return string(out), nil
}
