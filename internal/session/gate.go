// Package session resolves credentials into a tri-state session value.
// Everything downstream takes the resolved Session as an argument; nothing
// reads ambient global state.
package session

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rferrao/tradepost/internal/backend"
	"github.com/rferrao/tradepost/internal/domain"
)

type Gate struct {
	client *backend.Client
	logger *slog.Logger

	group singleflight.Group

	mu       sync.RWMutex
	observed map[string]domain.Session
}

func NewGate(client *backend.Client, logger *slog.Logger) *Gate {
	return &Gate{
		client:   client,
		logger:   logger,
		observed: make(map[string]domain.Session),
	}
}

// Current returns the last observed session for the token without touching
// the backend. Before the first resolution it reports loading, which callers
// must render as a neutral pending state, never as logged out.
func (g *Gate) Current(token string) domain.Session {
	if token == "" {
		return domain.UnauthenticatedSession()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.observed[token]; ok {
		return s
	}
	return domain.LoadingSession()
}

// Resolve returns the session for the token, performing the credential
// exchange if it has not been observed yet.
func (g *Gate) Resolve(ctx context.Context, token string) domain.Session {
	if token == "" {
		return domain.UnauthenticatedSession()
	}
	g.mu.RLock()
	s, ok := g.observed[token]
	g.mu.RUnlock()
	if ok {
		return s
	}
	return g.Refresh(ctx, token)
}

// Refresh re-resolves the token. Concurrent refreshes for the same token are
// coalesced into one backend exchange, so every caller observes the same
// whole session value; a user id from one response can never pair with a
// role from another. Resolution failure degrades to unauthenticated and is
// not an error the caller must branch on.
func (g *Gate) Refresh(ctx context.Context, token string) domain.Session {
	if token == "" {
		return domain.UnauthenticatedSession()
	}

	v, _, _ := g.group.Do(token, func() (any, error) {
		s := g.exchange(ctx, token)
		g.mu.Lock()
		g.observed[token] = s
		g.mu.Unlock()
		return s, nil
	})
	return v.(domain.Session)
}

// SignOut forgets the token. The next resolution starts from scratch.
func (g *Gate) SignOut(token string) {
	if token == "" {
		return
	}
	g.mu.Lock()
	delete(g.observed, token)
	g.mu.Unlock()
}

func (g *Gate) exchange(ctx context.Context, token string) domain.Session {
	user, err := g.client.GetSession(ctx, token)
	if err != nil {
		g.logger.Warn("session resolution failed, degrading to unauthenticated", "error", err)
		return domain.UnauthenticatedSession()
	}
	if user == nil {
		return domain.UnauthenticatedSession()
	}
	if !user.Role.Valid() {
		g.logger.Warn("session carries unknown role, degrading to unauthenticated", "role", user.Role)
		return domain.UnauthenticatedSession()
	}
	return domain.AuthenticatedSession(user.ID, user.Role)
}
