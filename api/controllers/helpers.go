package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketledger-backend/api/middleware"
	"github.com/angelmondragon/marketledger-backend/api/validators"
	"github.com/angelmondragon/marketledger-backend/internal/orders"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/pagination"
)

func callerFromRequest(r *http.Request) (uuid.UUID, enums.Role, error) {
	id, role, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return id, role, nil
}

func actorFromRequest(r *http.Request) (orders.Actor, error) {
	id, role, err := callerFromRequest(r)
	if err != nil {
		return orders.Actor{}, err
	}
	return orders.Actor{UserID: id, Role: role}, nil
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{
		Limit:  limit,
		Cursor: validators.SanitizeString(r.URL.Query().Get("cursor"), 512),
	}, nil
}

func unavailable(name string) error {
	return pkgerrors.New(pkgerrors.CodeInternal, name+" unavailable")
}
