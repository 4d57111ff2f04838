// Package jobs hosts background maintenance tasks.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/model"
	"github.com/chatbridge/session-server-go/internal/repository"
	"github.com/chatbridge/session-server-go/internal/session"
)

// ReconcileJob clears accounts stuck in pending whose pairing window has
// long expired. Without it a crashed pairing attempt leaves a stale code in
// the row and the account looks half-connected forever.
type ReconcileJob struct {
	accountRepo repository.AccountRepository
	registry    *session.Registry
	interval    time.Duration
	done        chan struct{}
}

func NewReconcileJob(accountRepo repository.AccountRepository, registry *session.Registry, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{
		accountRepo: accountRepo,
		registry:    registry,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.reconcile()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.reconcile()
		}
	}
}

func (j *ReconcileJob) reconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts, err := j.accountRepo.FindStalePending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stale pending accounts")
		return
	}

	reset := 0
	for _, account := range accounts {
		// A live connection means the pairing is still being worked on.
		if _, ok := j.registry.Get(account.ID); ok {
			continue
		}
		err := j.accountRepo.UpdateStatus(ctx, account.ID, model.UpdateAccountStatusParams{
			Status: model.AccountStatusDisconnected,
		})
		if err != nil {
			log.Error().Err(err).Str("accountId", account.ID).Msg("failed to reset stale pending account")
			continue
		}
		reset++
	}

	if reset > 0 {
		log.Info().Int("count", reset).Msg("reset stale pending accounts")
	}
}
