package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketledger-backend/api/responses"
	"github.com/angelmondragon/marketledger-backend/api/validators"
	"github.com/angelmondragon/marketledger-backend/internal/dispatch"
	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

// CourierRequests lists the caller's live delivery requests.
func CourierRequests(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("dispatch service"))
			return
		}
		courierID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offers, err := svc.PendingFor(r.Context(), courierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if offers == nil {
			offers = []dispatch.Offer{}
		}
		responses.WriteSuccess(w, map[string]any{"items": offers})
	}
}

// AcceptRequest claims an order for the calling courier. Only the first
// accept wins; later ones get a conflict.
func AcceptRequest(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return courierAction(svc, logg, func(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, error) {
		return svc.Accept(ctx, orderID, courierID)
	})
}

// RejectRequest declines a pending request.
func RejectRequest(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("dispatch service"))
			return
		}
		courierID, _, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Reject(r.Context(), orderID, courierID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"order_id": orderID, "status": "rejected"})
	}
}

// codeRequest takes the code as typed; the service strips separators, and
// orders that never got a code accept anything.
type codeRequest struct {
	Code string `json:"code" validate:"max=32"`
}

// VerifyPickup checks the vendor's code and marks the order picked up.
func VerifyPickup(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return codeAction(svc, logg, func(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
		return svc.VerifyPickup(ctx, orderID, courierID, code)
	})
}

// VerifyDelivery checks the customer's code and completes the delivery.
func VerifyDelivery(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return codeAction(svc, logg, func(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error) {
		return svc.VerifyDelivery(ctx, orderID, courierID, code)
	})
}

func courierAction(svc dispatch.Service, logg *logger.Logger, fn func(ctx context.Context, orderID, courierID uuid.UUID) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("dispatch service"))
			return
		}
		courierID, role, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := fn(r.Context(), orderID, courierID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, courierID, role))
	}
}

func codeAction(svc dispatch.Service, logg *logger.Logger, fn func(ctx context.Context, orderID, courierID uuid.UUID, code string) (*models.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("dispatch service"))
			return
		}
		courierID, role, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body codeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := fn(r.Context(), orderID, courierID, body.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, courierID, role))
	}
}
