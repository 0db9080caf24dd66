// Package auth parses the credentials carried by incoming calls.
package auth

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

var (
	ErrMissingToken  = errors.New("missing bearer token")
	ErrMalformedAuth = errors.New("expected 'Bearer <token>'")
)

// BearerToken returns the token of an "authorization: Bearer <token>" header value.
// The scheme is case-insensitive.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", ErrMalformedAuth
	}
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return "", ErrMissingToken
	case strings.ContainsAny(token, " \t"):
		return "", ErrMalformedAuth
	}
	return token, nil
}

// EmailDomain returns the lowercased domain of a signed-in user's address.
func EmailDomain(email string) (string, error) {
	address, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("invalid email %q: %w", email, err)
	}
	at := strings.LastIndex(address.Address, "@")
	if at <= 0 || at == len(address.Address)-1 {
		return "", fmt.Errorf("invalid email %q: no domain", email)
	}
	return strings.ToLower(address.Address[at+1:]), nil
}
