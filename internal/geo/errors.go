package geo

import pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"

var (
	ErrInvalidPoint        = pkgerrors.New(pkgerrors.CodeValidation, "coordinates out of range")
	ErrLocationRequired    = pkgerrors.New(pkgerrors.CodeValidation, "coordinates or place id required")
	ErrResolverUnavailable = pkgerrors.New(pkgerrors.CodeDependency, "place lookup is not configured")
)
