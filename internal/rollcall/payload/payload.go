// Package payload parses the QR code wire format "studentId:studentName".
package payload

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

var ErrMalformed = errors.New("invalid QR code format, expected 'studentId:studentName'")

const separator = ":"

// Parse accepts exactly one colon with a non-empty id on the left and a
// non-empty name on the right. Surrounding whitespace is trimmed from both
// halves and the name is NFC-normalised so visually equal names compare equal.
func Parse(raw string) (types.Payload, error) {
	raw = strings.TrimSpace(raw)

	switch n := strings.Count(raw, separator); {
	case n == 0:
		return types.Payload{}, fmt.Errorf("%w: missing separator", ErrMalformed)
	case n > 1:
		return types.Payload{}, fmt.Errorf("%w: %d separators", ErrMalformed, n)
	}

	id, name, _ := strings.Cut(raw, separator)
	id = strings.TrimSpace(id)
	name = norm.NFC.String(strings.TrimSpace(name))

	if id == "" {
		return types.Payload{}, fmt.Errorf("%w: empty student id", ErrMalformed)
	}
	if name == "" {
		return types.Payload{}, fmt.Errorf("%w: empty student name", ErrMalformed)
	}

	return types.Payload{StudentID: id, StudentName: name}, nil
}

// Format is the inverse of Parse.
func Format(p types.Payload) string {
	return p.StudentID + separator + p.StudentName
}
