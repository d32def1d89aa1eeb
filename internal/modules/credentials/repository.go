package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smehta/brokersync/internal/domain"
)

// Repository handles user and credential database operations.
type Repository struct {
	db  *sql.DB
	key []byte // 32-byte AES-256 key; nil disables the credential store
	log zerolog.Logger
}

// NewRepository creates a credential repository. key must be 32 bytes for
// AES-256-GCM, or nil to disable credential storage (all credential
// operations return ErrEncryptionKeyNotSet).
func NewRepository(db *sql.DB, key []byte, log zerolog.Logger) (*Repository, error) {
	if key != nil && len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Repository{
		db:  db,
		key: key,
		log: log.With().Str("repo", "credentials").Logger(),
	}, nil
}

// CreateUser inserts a new user and returns its ID.
func (r *Repository) CreateUser(ctx context.Context, email string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, active, created_at) VALUES (?, 1, ?)`,
		email, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new user id: %w", err)
	}
	return id, nil
}

// SetActive flips a user's eligibility for the daily sync.
func (r *Repository) SetActive(ctx context.Context, userID int64, active bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET active = ? WHERE id = ?`, boolToInt(active), userID)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", userID, err)
	}
	return nil
}

// UpsertCredential stores or replaces a user's broker API key and secret.
func (r *Repository) UpsertCredential(ctx context.Context, userID int64, apiKey, apiSecret string) error {
	if r.key == nil {
		return ErrEncryptionKeyNotSet
	}

	encKey, err := encrypt(r.key, apiKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt api key: %w", err)
	}
	encSecret, err := encrypt(r.key, apiSecret)
	if err != nil {
		return fmt.Errorf("failed to encrypt api secret: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO broker_credentials (user_id, api_key, api_secret, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			updated_at = excluded.updated_at`,
		userID, encKey, encSecret, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert credential for user %d: %w", userID, err)
	}
	return nil
}

// GetCredential loads and decrypts a user's broker credential.
// Returns domain.ErrCredentialNotFound when the user has no stored
// credential; decryption failures surface as ErrDecryptFailed.
func (r *Repository) GetCredential(ctx context.Context, userID int64) (domain.Credential, error) {
	if r.key == nil {
		return domain.Credential{}, ErrEncryptionKeyNotSet
	}

	var (
		encKey, encSecret string
		encToken          sql.NullString
		tokenExpiry       sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT api_key, api_secret, session_token, token_expiry
		FROM broker_credentials WHERE user_id = ?`, userID).
		Scan(&encKey, &encSecret, &encToken, &tokenExpiry)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credential{}, fmt.Errorf("user %d: %w", userID, domain.ErrCredentialNotFound)
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("failed to load credential for user %d: %w", userID, err)
	}

	apiKey, err := decrypt(r.key, encKey)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("api key for user %d: %w", userID, err)
	}
	apiSecret, err := decrypt(r.key, encSecret)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("api secret for user %d: %w", userID, err)
	}

	cred := domain.Credential{
		UserID:    userID,
		APIKey:    apiKey,
		APISecret: apiSecret,
	}

	if encToken.Valid && encToken.String != "" {
		token, err := decrypt(r.key, encToken.String)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("session token for user %d: %w", userID, err)
		}
		cred.SessionToken = token
	}
	if tokenExpiry.Valid {
		cred.TokenExpiry = time.Unix(tokenExpiry.Int64, 0)
	}

	return cred, nil
}

// UpdateSessionToken persists a refreshed broker session token and its
// expiry. Called by the per-user task after a successful authentication so
// the freshest token survives the task's lifetime.
func (r *Repository) UpdateSessionToken(ctx context.Context, userID int64, token string, expiry time.Time) error {
	if r.key == nil {
		return ErrEncryptionKeyNotSet
	}

	encToken, err := encrypt(r.key, token)
	if err != nil {
		return fmt.Errorf("failed to encrypt session token: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE broker_credentials
		SET session_token = ?, token_expiry = ?, updated_at = ?
		WHERE user_id = ?`,
		encToken, expiry.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("failed to update session token for user %d: %w", userID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check token update for user %d: %w", userID, err)
	}
	if rows == 0 {
		return fmt.Errorf("user %d: %w", userID, domain.ErrCredentialNotFound)
	}
	return nil
}

// ListEligibleUsers returns active users that have a stored credential,
// ordered by ID. This is the population for a daily run.
func (r *Repository) ListEligibleUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT u.id, u.email, u.active, u.created_at
		FROM users u
		JOIN broker_credentials c ON c.user_id = u.id
		WHERE u.active = 1
		ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list eligible users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			u         User
			active    int
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.Email, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Active = active == 1
		u.CreatedAt = time.Unix(createdAt, 0)
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
