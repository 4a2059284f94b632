package auth

import (
	"context"
	"strings"
	"time"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// ProfileFinder is the read-only identity store.
type ProfileFinder interface {
	FindProfile(ctx context.Context, id domain.UserID) (domain.Profile, error)
}

// Gate resolves a bearer credential to an Identity. Only successful profile
// lookups are cached, so a deleted user stops resolving once the entry expires.
type Gate struct {
	verifier *Verifier
	profiles ProfileFinder
	cache    *expirable.LRU[domain.UserID, domain.Profile]
}

// NewGate builds a gate. A zero cacheSize or ttl disables the profile cache.
func NewGate(verifier *Verifier, profiles ProfileFinder, cacheSize int, ttl time.Duration) *Gate {
	g := &Gate{verifier: verifier, profiles: profiles}
	if cacheSize > 0 && ttl > 0 {
		g.cache = expirable.NewLRU[domain.UserID, domain.Profile](cacheSize, nil, ttl)
	}
	return g
}

// Authenticate fails with an Unauthorized error when the credential is
// missing, malformed, expired, or names an identity the store does not know.
func (g *Gate) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Identity{}, domain.Unauthorized("missing credential", nil)
	}
	claims, err := g.verifier.Verify(credential)
	if err != nil {
		return domain.Identity{}, err
	}
	uid := domain.UserID(claims.Identity())

	profile, err := g.profile(ctx, uid)
	if err != nil {
		log.Debug().Err(err).Str("module", "auth").Str("user", string(uid)).Msg("profile lookup failed")
		return domain.Identity{}, domain.Unauthorized("identity not resolvable", err)
	}
	identity, err := domain.NewIdentity(string(uid), profile)
	if err != nil {
		return domain.Identity{}, domain.Unauthorized("invalid identity", err)
	}
	return identity, nil
}

func (g *Gate) profile(ctx context.Context, id domain.UserID) (domain.Profile, error) {
	if g.cache != nil {
		if p, ok := g.cache.Get(id); ok {
			return p, nil
		}
	}
	p, err := g.profiles.FindProfile(ctx, id)
	if err != nil {
		return domain.Profile{}, err
	}
	if g.cache != nil {
		g.cache.Add(id, p)
	}
	return p, nil
}
