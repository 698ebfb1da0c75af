package commit

import (
	"context"
	"time"

	derrors "github.com/adalundhe/docsync/core/errors"
	"github.com/adalundhe/docsync/core/remote"
)

const MsgForkNotReady = "The fork was created but is not available yet. Try the commit again in a moment."

// DefaultForkReadyAttempts bounds how often a new fork is polled.
const DefaultForkReadyAttempts = 5

func forkReadyPolicy(attempts int) *derrors.RetryPolicy {
	if attempts <= 0 {
		attempts = DefaultForkReadyAttempts
	}
	return &derrors.RetryPolicy{
		MaxAttempts:   attempts,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		Multiplier:    2.0,
		JitterPercent: 0.1,
	}
}

// forkAndWait forks repo and polls until the fork can be read. Forks are
// created asynchronously by the server.
func (o *Orchestrator) forkAndWait(ctx context.Context, repo remote.RepoRef) (*remote.Repository, error) {
	fork, err := o.api.Fork(ctx, repo)
	if err != nil {
		return nil, err
	}

	polls := 0
	err = o.forkPoll.Execute(ctx, derrors.TierTransient, func() error {
		polls++
		_, err := o.api.GetRepository(ctx, fork.Ref())
		return err
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, derrors.NewSyncError(derrors.KindServiceUnavailable, MsgForkNotReady, err)
	}

	o.logger.Debug("fork ready", "fork", fork.Ref().String(), "polls", polls)
	return fork, nil
}
