// Package roomcode generates, normalizes and formats private room codes.
package roomcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Length is the number of significant characters in a room code.
const Length = 6

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var codeRegexp = regexp.MustCompile(`^[A-Za-z0-9]{6}$`)

// ErrInvalid is returned for input that is not a room code.
var ErrInvalid = errors.New("invalid room code")

// Generate returns a fresh uppercase code drawn from crypto/rand. The code is
// key material for the room.
func Generate() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(alphabet)))
	for range Length {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		sb.WriteByte(alphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Valid reports whether code is exactly six alphanumerics, any case.
func Valid(code string) bool {
	return codeRegexp.MatchString(code)
}

// Normalize accepts user input such as " ab1-2cd " and returns "AB12CD".
func Normalize(input string) (string, error) {
	code := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(input), "-", ""))
	if !Valid(code) {
		return "", fmt.Errorf("%w: want %d letters or digits", ErrInvalid, Length)
	}
	return code, nil
}

// Format groups a code for display as XXX-XXX. Anything that is not a
// six-character code is returned unchanged.
func Format(code string) string {
	if len(code) != Length {
		return code
	}
	return code[:3] + "-" + code[3:]
}
