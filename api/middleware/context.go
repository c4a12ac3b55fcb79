package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

type callerKey struct{}

// caller is the authenticated identity as carried in the token. Values stay
// raw strings until CallerFromContext validates them.
type caller struct {
	userID string
	role   string
}

func callerFrom(ctx context.Context) caller {
	if ctx == nil {
		return caller{}
	}
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

func UserIDFromContext(ctx context.Context) string { return callerFrom(ctx).userID }

func RoleFromContext(ctx context.Context) string { return callerFrom(ctx).role }

// CallerFromContext returns the authenticated caller. ok is false when the
// request skipped Auth or carries malformed claims.
func CallerFromContext(ctx context.Context) (uuid.UUID, enums.Role, bool) {
	c := callerFrom(ctx)
	id, err := uuid.Parse(c.userID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, "", false
	}
	role, err := enums.ParseRole(c.role)
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, role, true
}

func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := callerFrom(ctx)
	c.userID = userID
	return context.WithValue(ctx, callerKey{}, c)
}

func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	c := callerFrom(ctx)
	c.role = role
	return context.WithValue(ctx, callerKey{}, c)
}
