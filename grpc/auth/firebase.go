package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"

	fbAuth "firebase.google.com/go/auth"

	"github.com/visionex-project/pagetrans/pkg/auth"
)

type FirebaseAuthClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbAuth.Token, error)
}

type Authenticator struct {
	client FirebaseAuthClient
	// Accepted e-mail domains. Empty accepts every verified user.
	domains []string
}

func New(client FirebaseAuthClient, domains []string) *Authenticator {
	lowered := make([]string, 0, len(domains))
	for _, domain := range domains {
		lowered = append(lowered, strings.ToLower(domain))
	}
	return &Authenticator{client: client, domains: lowered}
}

func (a *Authenticator) Verify(ctx context.Context, token string) (string, error) {
	decodedToken, err := a.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("failed to verify the token: %w", err)
	}
	email, ok := decodedToken.Claims["email"].(string)
	if !ok {
		return "", fmt.Errorf("failed to verify the token: invalid email in claim")
	}

	domain, err := auth.EmailDomain(email)
	if err != nil {
		return "", fmt.Errorf("failed to verify the token: %w", err)
	}
	if len(a.domains) > 0 && !slices.Contains(a.domains, domain) {
		return "", fmt.Errorf("failed to verify the token: domain %q is not allowed", domain)
	}
	return email, nil
}
