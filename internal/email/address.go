package email

import (
	"fmt"
	"net/mail"
)

// Address returns the bare addr-spec of a header address, so
// "Contact Form <site@example.com>" yields "site@example.com".
func Address(header string) (string, error) {
	a, err := mail.ParseAddress(header)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", header, err)
	}
	return a.Address, nil
}

// ParseAddress splits a header address into its display name and addr-spec.
func ParseAddress(header string) (name, addr string, err error) {
	a, err := mail.ParseAddress(header)
	if err != nil {
		return "", "", fmt.Errorf("invalid address %q: %w", header, err)
	}
	return a.Name, a.Address, nil
}
