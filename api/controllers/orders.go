package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/api/responses"
	"github.com/angelmondragon/marketledger-backend/api/validators"
	"github.com/angelmondragon/marketledger-backend/internal/dispatch"
	"github.com/angelmondragon/marketledger-backend/internal/geo"
	"github.com/angelmondragon/marketledger-backend/internal/orders"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
	"github.com/angelmondragon/marketledger-backend/pkg/logger"
)

type placeOrderRequest struct {
	Kind          string           `json:"kind" validate:"required,oneof=delivery ride pickup"`
	VendorID      *uuid.UUID       `json:"vendor_id"`
	Category      string           `json:"category" validate:"max=64"`
	PaymentMethod string           `json:"payment_method" validate:"required,oneof=cash wallet gateway"`
	Subtotal      *decimal.Decimal `json:"subtotal" validate:"required"`
	Pickup        *geo.Location    `json:"pickup"`
	Dropoff       *geo.Location    `json:"dropoff"`
}

func (p placeOrderRequest) toInput(customerID uuid.UUID) (orders.PlaceInput, error) {
	kind, err := enums.ParseOrderKind(p.Kind)
	if err != nil {
		return orders.PlaceInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind")
	}
	method, err := enums.ParsePaymentMethod(p.PaymentMethod)
	if err != nil {
		return orders.PlaceInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment_method")
	}
	if err := validators.PositiveAmount("subtotal", *p.Subtotal); err != nil {
		return orders.PlaceInput{}, err
	}
	return orders.PlaceInput{
		Kind:          kind,
		CustomerID:    customerID,
		VendorID:      p.VendorID,
		Category:      strings.TrimSpace(p.Category),
		PaymentMethod: method,
		Subtotal:      *p.Subtotal,
		Pickup:        p.Pickup,
		Dropoff:       p.Dropoff,
	}, nil
}

// PlaceOrder creates an order for the calling customer.
func PlaceOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders service"))
			return
		}
		userID, role, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body placeOrderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := body.toInput(userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Place(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order, userID, role))
	}
}

// ListOrders returns orders where the caller is customer, vendor or courier.
func ListOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders service"))
			return
		}
		userID, role, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListForParty(r.Context(), userID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]orderResponse, 0, len(list.Items))
		for i := range list.Items {
			items = append(items, *newOrderResponse(&list.Items[i], userID, role))
		}
		responses.WriteSuccess(w, pageResponse[orderResponse]{Items: items, Cursor: list.Cursor})
	}
}

// OrderDetail returns one order with its history when the caller may see it.
func OrderDetail(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders service"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, actor.UserID, actor.Role))
	}
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

// TransitionOrder moves an order along its lifecycle. Whether the caller may
// make the move is decided by the order service.
func TransitionOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("orders service"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		to, err := enums.ParseOrderStatus(strings.TrimSpace(body.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		order, err := svc.Transition(r.Context(), orderID, to, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, actor.UserID, actor.Role))
	}
}

type candidateRequest struct {
	CourierID uuid.UUID  `json:"courier_id" validate:"required"`
	Location  *geo.Point `json:"location"`
}

type dispatchRequest struct {
	Candidates []candidateRequest `json:"candidates" validate:"required,min=1,max=50,dive"`
}

type dispatchResponse struct {
	OrderID  uuid.UUID                 `json:"order_id"`
	Requests []deliveryRequestResponse `json:"requests"`
}

// DispatchOrder broadcasts an order to a set of candidate couriers.
func DispatchOrder(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("dispatch service"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body dispatchRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		candidates := make([]dispatch.Candidate, 0, len(body.Candidates))
		for _, c := range body.Candidates {
			if c.CourierID == uuid.Nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "courier_id is required"))
				return
			}
			if c.Location != nil && !c.Location.Valid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "candidate location out of range").WithDetails(map[string]any{"courier_id": c.CourierID.String()}))
				return
			}
			candidates = append(candidates, dispatch.Candidate{CourierID: c.CourierID, Location: c.Location})
		}
		rows, err := svc.Broadcast(r.Context(), orderID, actor, candidates)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := dispatchResponse{OrderID: orderID, Requests: make([]deliveryRequestResponse, 0, len(rows))}
		for _, row := range rows {
			resp.Requests = append(resp.Requests, deliveryRequestResponse{
				CourierID:  row.CourierID,
				Status:     row.Status,
				DistanceKm: row.DistanceKm,
				ExpiresAt:  row.ExpiresAt,
			})
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// AssignSelf lets the vendor deliver the order personally.
func AssignSelf(svc dispatch.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, unavailable("dispatch service"))
			return
		}
		userID, role, err := callerFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.AssignSelf(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newOrderResponse(order, userID, role))
	}
}
