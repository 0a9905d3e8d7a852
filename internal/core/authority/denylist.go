package authority

import (
	"context"
	"fmt"
)

// Denylist holds the hidden server-only value lists.
type Denylist struct {
	EmailDomains []string
	Usernames    []string
}

// DefaultDenylist returns the built-in lists used when no database is configured.
func DefaultDenylist() Denylist {
	return Denylist{
		EmailDomains: []string{"test.com", "mailinator.com", "throwaway.email"},
		Usernames: []string{
			"admin", "root", "administrator", "superuser",
			"system", "moderator", "support", "help",
		},
	}
}

// DenylistSource provides denylist entries from storage.
// Implemented by *db.DenylistStore.
type DenylistSource interface {
	ListBannedDomains(ctx context.Context) ([]string, error)
	ListReservedUsernames(ctx context.Context) ([]string, error)
}

// LoadDenylist reads both lists from src once. The result is fixed for the
// lifetime of the validator built from it.
func LoadDenylist(ctx context.Context, src DenylistSource) (Denylist, error) {
	domains, err := src.ListBannedDomains(ctx)
	if err != nil {
		return Denylist{}, fmt.Errorf("failed to load banned domains: %w", err)
	}
	names, err := src.ListReservedUsernames(ctx)
	if err != nil {
		return Denylist{}, fmt.Errorf("failed to load reserved usernames: %w", err)
	}
	return Denylist{EmailDomains: domains, Usernames: names}, nil
}
