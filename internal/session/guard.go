package session

import (
	"context"
	"time"

	"inktrail/internal/domain"
	"inktrail/internal/fault"
	"inktrail/internal/flight"
)

// RefreshResult is what every caller racing on the same refresh token
// receives: the refreshed user and the single rotated token pair.
type RefreshResult struct {
	User   domain.User
	Tokens TokenPair
}

// Only a stable prefix of the refresh token is used as the lock key, keeping
// the full secret out of map keys and goroutine dumps.
const lockKeyLen = 12

func refreshLockKey(refreshToken string) string {
	if len(refreshToken) > lockKeyLen {
		return refreshToken[:lockKeyLen]
	}
	return refreshToken
}

// Guard deduplicates concurrent session refreshes. The first request for an
// expiring credential performs the upstream refresh; every request racing on
// the same token awaits that call's shared outcome.
type Guard struct {
	Identity Identity
	group    flight.Doer[RefreshResult]
}

// NewGuard builds a Guard. grace keeps a finished refresh visible briefly so
// stragglers still share it; stale bounds how long a crashed leader can hold
// the key.
func NewGuard(id Identity, grace, stale time.Duration) *Guard {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	if stale <= 0 {
		stale = 30 * time.Second
	}
	return &Guard{Identity: id, group: flight.NewGroup[RefreshResult](grace, stale)}
}

// RefreshWithLock performs at most one upstream refresh per expiring token.
// Any failure is published to all waiters as session_expired so every racing
// request clears its cookies the same way.
func (g *Guard) RefreshWithLock(ctx context.Context, refreshToken string) (RefreshResult, error) {
	res, _, err := g.group.Do(ctx, refreshLockKey(refreshToken), func() (RefreshResult, error) {
		user, tokens, err := g.Identity.Refresh(ctx, refreshToken)
		if err != nil {
			if fault.IsKind(err, fault.KindSessionExpired) {
				return RefreshResult{}, err
			}
			return RefreshResult{}, &fault.Error{Kind: fault.KindSessionExpired, Message: "session expired", Cause: err}
		}
		return RefreshResult{User: user, Tokens: tokens}, nil
	})
	return res, err
}
