package types

import (
	"go/token"

	"github.com/gagliardetto/solana-go"
)

// MaxArrayLen bounds array account declarations.
const MaxArrayLen = 100

// ValidateIdentifier checks that name can be used as a Go identifier in
// generated code.
func ValidateIdentifier(field, name string) error {
	if name == "" {
		return NewValidationError(field, "cannot be empty")
	}
	if !token.IsIdentifier(name) {
		return NewValidationError(field, "must be a valid identifier: "+name)
	}
	return nil
}

// ValidateArraySize validates the element count of an array declaration.
func ValidateArraySize(field string, n int) error {
	if n < 1 || n > MaxArrayLen {
		return NewValidationError(field, ErrArraySizeOutRange.Error())
	}
	return nil
}

// ValidatePublicKey validates a public key is not zero.
func ValidatePublicKey(name string, key solana.PublicKey) error {
	if key.IsZero() {
		return NewValidationError(name, "cannot be zero")
	}
	return nil
}

// ParsePublicKey parses a base58 key and rejects the zero key.
func ParsePublicKey(name, v string) (solana.PublicKey, error) {
	if v == "" {
		return solana.PublicKey{}, NewValidationError(name, "is required")
	}
	pk, err := solana.PublicKeyFromBase58(v)
	if err != nil {
		return solana.PublicKey{}, NewValidationError(name, "invalid pubkey: "+err.Error())
	}
	if err := ValidatePublicKey(name, pk); err != nil {
		return solana.PublicKey{}, err
	}
	return pk, nil
}
