package journal

import (
	"context"
	"time"
)

// RetentionPolicy describes how long journal entries are kept.
type RetentionPolicy struct {
	// MaxAge is the age after which entries are pruned. Zero keeps everything.
	MaxAge time.Duration

	// Every is the interval between prune passes. Defaults to one hour.
	Every time.Duration
}

// PruneLoop prunes repo according to policy until ctx is cancelled. The
// first pass runs immediately. onPrune, if non-nil, is called after every
// pass with the number of rows removed or the error encountered; a failed
// pass does not stop the loop.
func PruneLoop(ctx context.Context, repo Repository, policy RetentionPolicy, onPrune func(removed int64, err error)) error {
	if policy.MaxAge <= 0 {
		<-ctx.Done()
		return nil
	}
	every := policy.Every
	if every <= 0 {
		every = time.Hour
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, time.Now().Add(-policy.MaxAge))
		if ctx.Err() != nil {
			return nil
		}
		if onPrune != nil {
			onPrune(n, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
