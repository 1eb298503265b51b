// Package idgen generates short, URL-safe, prefixed entity IDs backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for each kind of persisted entity.
const (
	PaymentPrefix        = "pay-"
	SubTransactionPrefix = "sub-"
	OrderPrefix          = "ord-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// Generator produces IDs. The processor takes one so tests can make IDs
// deterministic.
type Generator interface {
	PaymentID() (string, error)
	SubTransactionID() (string, error)
}

// Nanoid is the production Generator.
type Nanoid struct{}

// PaymentID returns a new payment ID.
func (Nanoid) PaymentID() (string, error) { return GenerateWithPrefix(PaymentPrefix) }

// SubTransactionID returns a new sub-transaction ID.
func (Nanoid) SubTransactionID() (string, error) { return GenerateWithPrefix(SubTransactionPrefix) }

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
