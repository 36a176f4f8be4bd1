package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	// TicketCodeAlphabet has 32 symbols and omits 0/O and 1/I.
	TicketCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	TicketCodeLength   = 8
)

// CodeGenerator produces candidate ticket codes. Uniqueness is enforced by
// the store, not the generator.
type CodeGenerator interface {
	Generate() (string, error)
}

type CodeGeneratorFunc func() (string, error)

func (f CodeGeneratorFunc) Generate() (string, error) {
	return f()
}

// RandomCodes draws codes from crypto/rand.
var RandomCodes CodeGenerator = CodeGeneratorFunc(GenerateTicketCode)

// GenerateTicketCode returns 8 symbols drawn uniformly from TicketCodeAlphabet.
// 32 divides 256, so masking a random byte to 5 bits has no modulo bias.
func GenerateTicketCode() (string, error) {
	buf := make([]byte, TicketCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	for i := range buf {
		buf[i] = TicketCodeAlphabet[buf[i]&31]
	}
	return string(buf), nil
}

// NormalizeCode trims scanner input and upper-cases it.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidCode reports whether code has the ticket code length and alphabet.
func ValidCode(code string) bool {
	if len(code) != TicketCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(TicketCodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
