package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

type payoutBody struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination" validate:"required,max=128"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10.50"}`))
	var body payoutBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "is required", details["destination"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1","destination":"x","extra":true}`))
	var body payoutBody
	require.True(t, pkgerrors.IsCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10.50","destination":"iban:DE00"}`))
	var body payoutBody
	require.NoError(t, DecodeJSONBody(req, &body))
	require.True(t, body.Amount.Equal(decimal.RequireFromString("10.5")))
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"1","destination":"x"}{"amount":"2"}`))
	var body payoutBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Contains(t, err.Error(), "single JSON object")
}

func TestDecodeJSONBodyRejectsEmptyAndOversizedBodies(t *testing.T) {
	var body payoutBody
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Contains(t, err.Error(), "required")

	huge := `{"destination":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge)), &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	require.Contains(t, err.Error(), "exceeds")
}

func TestDecodeJSONBodyNamesMistypedField(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"destination":42}`))
	var body payoutBody
	err := DecodeJSONBody(req, &body)
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be string", details["destination"])
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err := ParseQueryInt(req, "limit", 20, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	got, err := ParseQueryInt(req, "limit", 20, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 20, got)
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", id.String())
	got, err := ParseUUIDParam(req, "orderId")
	require.NoError(t, err)
	require.Equal(t, id, got)

	req = withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", "nope")
	_, err = ParseUUIDParam(req, "orderId")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPositiveAmount(t *testing.T) {
	require.NoError(t, PositiveAmount("amount", decimal.RequireFromString("0.01")))
	require.Error(t, PositiveAmount("amount", decimal.Zero))
	require.Error(t, PositiveAmount("amount", decimal.RequireFromString("-3")))
	require.Error(t, PositiveAmount("amount", decimal.RequireFromString("1.005")))
}

func withParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}
