package serverdb

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	apiKeyPrefix = "rally_"
	keyLength    = 32
)

var base62Chars = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// APIKey is a stored key; the plaintext is never persisted.
type APIKey struct {
	ID         string
	UserID     string
	KeyPrefix  string
	Name       string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey creates a key for userID and returns its plaintext once.
func (db *ServerDB) GenerateAPIKey(ctx context.Context, userID, name string, expiresAt *time.Time) (string, *APIKey, error) {
	var exists int
	if err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return "", nil, fmt.Errorf("user not found: %s", userID)
		}
		return "", nil, fmt.Errorf("check user: %w", err)
	}

	secret := make([]byte, keyLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Chars))))
		if err != nil {
			return "", nil, fmt.Errorf("generate random key: %w", err)
		}
		secret[i] = base62Chars[n.Int64()]
	}
	plaintext := apiKeyPrefix + string(secret)

	ak := &APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		KeyPrefix: string(secret[:8]),
		Name:      name,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ak.ID, ak.UserID, hashKey(plaintext), ak.KeyPrefix, ak.Name, ak.ExpiresAt, ak.CreatedAt,
	)
	if err != nil {
		return "", nil, fmt.Errorf("insert api key: %w", err)
	}
	return plaintext, ak, nil
}

// VerifyAPIKey returns the key and its owner, or nils when the key is
// unknown or expired.
func (db *ServerDB) VerifyAPIKey(ctx context.Context, plaintext string) (*APIKey, *User, error) {
	keyHash := hashKey(plaintext)

	ak := &APIKey{}
	u := &User{}
	err := db.conn.QueryRowContext(ctx, `
		SELECT ak.id, ak.user_id, ak.key_prefix, ak.name, ak.expires_at, ak.last_used_at, ak.created_at,
		       u.id, u.email, u.created_at
		FROM api_keys ak
		JOIN users u ON u.id = ak.user_id
		WHERE ak.key_hash = ?
	`, keyHash).Scan(
		&ak.ID, &ak.UserID, &ak.KeyPrefix, &ak.Name, &ak.ExpiresAt, &ak.LastUsedAt, &ak.CreatedAt,
		&u.ID, &u.Email, &u.CreatedAt,
	)
	if err == sql.ErrNoRows {
		slog.Debug("api key not found", "key_hash_prefix", keyHash[:8])
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("verify api key: %w", err)
	}

	now := time.Now().UTC()
	if ak.ExpiresAt != nil && ak.ExpiresAt.Before(now) {
		slog.Debug("api key expired", "key_id", ak.ID, "expires_at", ak.ExpiresAt)
		return nil, nil, nil
	}

	if _, err := db.conn.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, now, ak.ID); err != nil {
		slog.Warn("update last_used_at", "key_id", ak.ID, "err", err)
	}
	ak.LastUsedAt = &now
	return ak, u, nil
}

// RevokeAPIKey deletes a key owned by userID.
func (db *ServerDB) RevokeAPIKey(ctx context.Context, keyID, userID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ? AND user_id = ?`, keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("api key not found or not owned by user")
	}
	return nil
}
