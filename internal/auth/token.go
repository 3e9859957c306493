package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"guardcore/internal/guard"
	"guardcore/internal/models"
	"guardcore/internal/store"
)

const tokenBytes = 64

// TokenService issues and resolves opaque bearer tokens. The plaintext is
// returned exactly once; only its SHA-256 hash is stored.
type TokenService struct {
	tokens store.TokenStore
	now    func() time.Time
}

func NewTokenService(tokens store.TokenStore) *TokenService {
	return &TokenService{tokens: tokens, now: time.Now}
}

// HashToken maps a plaintext token to its stored form.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Issue creates a token for the user under the given guard policy. When the
// policy caps tokens per user, the oldest tokens are pruned to make room.
func (s *TokenService) Issue(ctx context.Context, user *models.User, guardName, name string, abilities []string, policy guard.Policy) (string, *models.AccessToken, error) {
	if policy.MaxTokensPerUser > 0 {
		if err := s.tokens.PruneTokensForUser(ctx, user.ID, policy.MaxTokensPerUser-1); err != nil {
			return "", nil, fmt.Errorf("prune tokens: %w", err)
		}
	}

	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("token entropy: %w", err)
	}
	plaintext := base64.RawURLEncoding.EncodeToString(raw)

	t := &models.AccessToken{
		UserID:    user.ID,
		Name:      name,
		TokenHash: HashToken(plaintext),
		Guard:     guardName,
		CreatedAt: s.now(),
	}
	t.SetAbilities(abilities)
	if policy.TokenLifetime > 0 {
		exp := s.now().Add(policy.TokenLifetime)
		t.ExpiresAt = &exp
	}
	if err := s.tokens.CreateToken(ctx, t); err != nil {
		return "", nil, fmt.Errorf("store token: %w", err)
	}
	return plaintext, t, nil
}

// Authenticate resolves a presented plaintext token, rejecting unknown and
// expired tokens, and stamps last_used_at.
func (s *TokenService) Authenticate(ctx context.Context, plaintext string) (*models.AccessToken, error) {
	t, err := s.tokens.FindTokenByHash(ctx, HashToken(plaintext))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if t.ExpiresAt != nil && s.now().After(*t.ExpiresAt) {
		_ = s.tokens.DeleteTokenByHash(ctx, t.TokenHash)
		return nil, ErrTokenInvalid
	}
	_ = s.tokens.TouchToken(ctx, t.ID, s.now())
	return t, nil
}

// Revoke deletes the stored record matching the presented token.
func (s *TokenService) Revoke(ctx context.Context, plaintext string) error {
	return s.tokens.DeleteTokenByHash(ctx, HashToken(plaintext))
}

// RevokeRecord deletes an already-resolved token record.
func (s *TokenService) RevokeRecord(ctx context.Context, t *models.AccessToken) error {
	return s.tokens.DeleteTokenByHash(ctx, t.TokenHash)
}

// RevokeAllForUser drops every token the user holds, e.g. after a password
// change or deactivation.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	return s.tokens.DeleteTokensForUser(ctx, userID)
}

func (s *TokenService) CountActive(ctx context.Context, userID string) (int64, error) {
	return s.tokens.CountTokensForUser(ctx, userID)
}
