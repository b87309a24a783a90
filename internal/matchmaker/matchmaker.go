// Package matchmaker implements the waiting-room registry that pairs two
// unacquainted endpoints into a session. The pool is shared, server-side
// state; a single atomic match-or-insert step keeps pairing race-free under
// concurrent registrations.
package matchmaker

import (
	"context"
	"fmt"

	"github.com/mediline/consult/internal/models"
)

// Registry is the shared waiting pool, sharded by queue name so independent
// pools (per specialty, per region) can coexist.
type Registry interface {
	// MatchOrAdd atomically evicts expired entries from the queue, then
	// either removes and returns the oldest waiting endpoint other than
	// endpointID, or inserts (or refreshes) a waiting entry for endpointID.
	MatchOrAdd(ctx context.Context, queue, endpointID string) (partnerID string, matched bool, err error)

	// Remove deletes the waiting entry for endpointID, reporting whether one
	// existed. After Remove returns, the endpoint can no longer be matched.
	Remove(ctx context.Context, queue, endpointID string) (bool, error)

	// Deliver hands a match result to a passively waiting endpoint.
	Deliver(ctx context.Context, endpointID string, res models.MatchResult) error

	// Take returns a previously delivered result for endpointID, removing it.
	Take(ctx context.Context, endpointID string) (models.MatchResult, bool, error)
}

// Matchmaker pairs registering endpoints over a Registry.
type Matchmaker struct {
	registry Registry
}

func New(registry Registry) *Matchmaker {
	return &Matchmaker{registry: registry}
}

// Register runs one matchmaking pass for endpointID. If a partner already
// delivered a match to this endpoint, that result is returned. Otherwise the
// oldest live waiter is paired with endpointID, or a waiting entry is
// created (refreshed, when one already exists).
//
// The registering side of a fresh pair becomes the caller; the waiting side
// is told it is the callee via the registry's delivery channel.
func (m *Matchmaker) Register(ctx context.Context, queue, endpointID string) (models.MatchResult, error) {
	if res, ok, err := m.registry.Take(ctx, endpointID); err != nil {
		return models.MatchResult{}, fmt.Errorf("matchmaker: take delivered result: %w", err)
	} else if ok {
		return res, nil
	}

	partnerID, matched, err := m.registry.MatchOrAdd(ctx, queue, endpointID)
	if err != nil {
		return models.MatchResult{}, fmt.Errorf("matchmaker: match or add: %w", err)
	}
	if !matched {
		return models.MatchResult{Status: models.MatchStatusWaiting}, nil
	}

	sessionID := models.SessionIDFor(endpointID, partnerID)
	partnerRes := models.MatchResult{
		Status:    models.MatchStatusMatched,
		PartnerID: endpointID,
		SessionID: sessionID,
		Role:      models.RoleCallee,
	}
	if err := m.registry.Deliver(ctx, partnerID, partnerRes); err != nil {
		return models.MatchResult{}, fmt.Errorf("matchmaker: deliver to partner %s: %w", partnerID, err)
	}

	return models.MatchResult{
		Status:    models.MatchStatusMatched,
		PartnerID: partnerID,
		SessionID: sessionID,
		Role:      models.RoleCaller,
	}, nil
}

// Poll checks whether a match has been delivered to endpointID without
// touching its waiting entry.
func (m *Matchmaker) Poll(ctx context.Context, endpointID string) (models.MatchResult, bool, error) {
	return m.registry.Take(ctx, endpointID)
}

// Cancel removes endpointID's waiting entry. The removal is synchronous: a
// concurrently registering endpoint observes the pool only before or after
// it, so no match can be formed against a cancelled entry.
func (m *Matchmaker) Cancel(ctx context.Context, queue, endpointID string) (bool, error) {
	return m.registry.Remove(ctx, queue, endpointID)
}
