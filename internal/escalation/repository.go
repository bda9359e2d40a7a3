package escalation

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoRecipients = errors.New("no escalation recipients configured")

// Recipients is where an account's manual-match requests are sent.
type Recipients struct {
	AccountID uuid.UUID
	Phone     string
	Email     string
}

// Empty reports whether neither channel has an address.
func (r Recipients) Empty() bool {
	return strings.TrimSpace(r.Phone) == "" && strings.TrimSpace(r.Email) == ""
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetRecipients(ctx context.Context, accountID uuid.UUID) (Recipients, error) {
	out := Recipients{AccountID: accountID}
	var phone, email *string
	err := r.pool.QueryRow(ctx, `
		SELECT phone, email FROM escalation_recipients WHERE owning_account_id = $1
	`, accountID).Scan(&phone, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrNoRecipients
	}
	if err != nil {
		return out, err
	}
	if phone != nil {
		out.Phone = *phone
	}
	if email != nil {
		out.Email = *email
	}
	return out, nil
}

func (r *Repository) SaveRecipients(ctx context.Context, rec Recipients) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escalation_recipients (owning_account_id, phone, email)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (owning_account_id) DO UPDATE
		SET phone = EXCLUDED.phone, email = EXCLUDED.email, updated_at = now()
	`, rec.AccountID, strings.TrimSpace(rec.Phone), strings.TrimSpace(rec.Email))
	return err
}
