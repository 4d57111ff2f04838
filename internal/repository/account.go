package repository

import (
	"context"

	"github.com/chatbridge/session-server-go/internal/database"
	"github.com/chatbridge/session-server-go/internal/model"
)

// AccountRepository reads and mutates account rows. Account rows are created
// by external provisioning; only the session lifecycle mutates them here.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindResumable(ctx context.Context) ([]model.Account, error)
	FindStalePending(ctx context.Context) ([]model.Account, error)
	UpdateStatus(ctx context.Context, id string, params model.UpdateAccountStatusParams) error
}

type accountRepo struct {
	db database.DBTX
}

func NewAccountRepository(db database.DBTX) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	var account model.Account
	err := r.db.GetContext(ctx, &account, `SELECT * FROM accounts WHERE id = $1`, id)
	return HandleNotFound(&account, err)
}

// FindResumable returns accounts whose sessions should be restored at boot.
// Logged-out accounts are excluded; they require re-pairing.
func (r *accountRepo) FindResumable(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE status IN ('connected', 'pending')
		ORDER BY last_connected_at DESC NULLS LAST
	`)
	return accounts, err
}

func (r *accountRepo) FindStalePending(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account
	err := r.db.SelectContext(ctx, &accounts, `
		SELECT * FROM accounts
		WHERE status = 'pending' AND updated_at < NOW() - INTERVAL '10 minutes'
	`)
	return accounts, err
}

func (r *accountRepo) UpdateStatus(ctx context.Context, id string, params model.UpdateAccountStatusParams) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			status = $2,
			pairing_code = $3,
			external_identity = COALESCE($4, external_identity),
			last_connected_at = CASE WHEN $5 THEN NOW() ELSE last_connected_at END,
			updated_at = NOW()
		WHERE id = $1
	`, id, params.Status, params.PairingCode, params.ExternalIdentity, params.ConnectedNow)
	return err
}
