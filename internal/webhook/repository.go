// Package webhook is the inbound boundary: provider webhooks are authenticated with a
// per-account API key, acknowledged immediately and processed on an independent path.
package webhook

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAPIKeyNotFound = errors.New("webhook API key not found")

// APIKey is a webhook API key. Providers restricts which provider routes accept the
// key; empty means all.
type APIKey struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Name      string
	KeyHash   string
	KeyPrefix string
	Providers []string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllowsProvider reports whether the key may be used on provider's route.
func (k APIKey) AllowsProvider(provider string) bool {
	if len(k.Providers) == 0 {
		return true
	}
	for _, p := range k.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GenerateAPIKey creates a new random API key and returns the plaintext key and its hash.
// The plaintext key is returned only once; only the hash is stored.
func GenerateAPIKey() (plaintext string, hash string, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plaintext = "lsk_" + hex.EncodeToString(buf)
	return plaintext, HashKey(plaintext), plaintext[:12], nil
}

// HashKey hashes a plaintext API key for lookup.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

const apiKeyColumns = `id, owning_account_id, name, key_hash, key_prefix, providers, is_active, created_at, updated_at`

func scanAPIKey(row pgx.Row) (APIKey, error) {
	var key APIKey
	err := row.Scan(&key.ID, &key.AccountID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.Providers, &key.IsActive, &key.CreatedAt, &key.UpdatedAt)
	return key, err
}

func (r *Repository) Create(ctx context.Context, accountID uuid.UUID, name, keyHash, keyPrefix string, providers []string) (APIKey, error) {
	return scanAPIKey(r.pool.QueryRow(ctx, `
		INSERT INTO webhook_api_keys (owning_account_id, name, key_hash, key_prefix, providers)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+apiKeyColumns, accountID, name, keyHash, keyPrefix, providers))
}

// GetByHash retrieves an active API key by its hash.
func (r *Repository) GetByHash(ctx context.Context, keyHash string) (APIKey, error) {
	key, err := scanAPIKey(r.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumns+`
		FROM webhook_api_keys
		WHERE key_hash = $1 AND is_active = true
	`, keyHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	return key, err
}

func (r *Repository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apiKeyColumns+`
		FROM webhook_api_keys
		WHERE owning_account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke deactivates an API key.
func (r *Repository) Revoke(ctx context.Context, keyID uuid.UUID, accountID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_api_keys SET is_active = false, updated_at = now()
		WHERE id = $1 AND owning_account_id = $2
	`, keyID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}
