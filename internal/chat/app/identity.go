package app

import (
	"context"
	"errors"
	"fmt"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/database"
	"chat_sync_service/pkg/token"
)

// IdentityVerifier resolves a handshake credential into an identity
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (domain.Identity, error)
}

// JWTVerifier 驗證 JWT，若有 session store 則同時確認 redis 中的登入 session
type JWTVerifier struct {
	sessions database.RedisRepository[domain.Session]
}

// NewJWTVerifier sessions may be nil to accept any valid token
func NewJWTVerifier(sessions database.RedisRepository[domain.Session]) *JWTVerifier {
	return &JWTVerifier{sessions: sessions}
}

// Verify parse the token and check the session when configured
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, fmt.Errorf("empty credential: %w", domain.ErrAuthFailure)
	}
	claims, err := token.ParseJWT(credential)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%v: %w", err, domain.ErrAuthFailure)
	}
	identity := domain.Identity{ID: claims.MemberID, DisplayName: claims.DisplayName}
	if v.sessions == nil {
		return identity, nil
	}

	session, err := v.sessions.Get(ctx, claims.MemberID)
	switch {
	case errors.Is(err, database.ErrRedisNil):
		return domain.Identity{}, fmt.Errorf("session of %s not found: %w", claims.MemberID, domain.ErrAuthFailure)
	case err != nil:
		return domain.Identity{}, fmt.Errorf("session lookup: %v: %w", err, domain.ErrAuthFailure)
	}
	if session.Token != credential || session.IsExpired() {
		return domain.Identity{}, fmt.Errorf("session of %s expired: %w", claims.MemberID, domain.ErrAuthFailure)
	}
	return identity, nil
}
