package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketledger-backend/pkg/db/models"
	"github.com/angelmondragon/marketledger-backend/pkg/enums"
)

type transactionResponse struct {
	ID          uuid.UUID               `json:"id"`
	AccountID   *uuid.UUID              `json:"account_id,omitempty"`
	ShardID     *int                    `json:"shard_id,omitempty"`
	Amount      decimal.Decimal         `json:"amount"`
	Type        enums.TransactionType   `json:"type"`
	Status      enums.TransactionStatus `json:"status"`
	OrderID     *uuid.UUID              `json:"order_id,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Destination *string                 `json:"destination,omitempty"`
	SettleAt    *time.Time              `json:"settle_at,omitempty"`
	SettledAt   *time.Time              `json:"settled_at,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
}

func newTransactionResponse(row *models.WalletTransaction) *transactionResponse {
	if row == nil {
		return nil
	}
	return &transactionResponse{
		ID:          row.ID,
		AccountID:   row.AccountID,
		ShardID:     row.ShardID,
		Amount:      row.Amount,
		Type:        row.Type,
		Status:      row.Status,
		OrderID:     row.OrderID,
		Description: row.Description,
		Destination: row.Destination,
		SettleAt:    row.SettleAt,
		SettledAt:   row.SettledAt,
		CreatedAt:   row.CreatedAt,
	}
}

func newTransactionList(rows []models.WalletTransaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(rows))
	for i := range rows {
		out = append(out, *newTransactionResponse(&rows[i]))
	}
	return out
}

type pageResponse[T any] struct {
	Items  []T    `json:"items"`
	Cursor string `json:"cursor,omitempty"`
}

type statusEventResponse struct {
	FromStatus *enums.OrderStatus `json:"from_status,omitempty"`
	Status     enums.OrderStatus  `json:"status"`
	ActorID    *uuid.UUID         `json:"actor_id,omitempty"`
	ActorRole  string             `json:"actor_role,omitempty"`
	Note       *string            `json:"note,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

type deliveryRequestResponse struct {
	CourierID   uuid.UUID                   `json:"courier_id"`
	Status      enums.DeliveryRequestStatus `json:"status"`
	DistanceKm  *float64                    `json:"distance_km,omitempty"`
	ExpiresAt   *time.Time                  `json:"expires_at,omitempty"`
	RespondedAt *time.Time                  `json:"responded_at,omitempty"`
}

type orderResponse struct {
	ID                uuid.UUID                 `json:"id"`
	Kind              enums.OrderKind           `json:"kind"`
	CustomerID        uuid.UUID                 `json:"customer_id"`
	VendorID          *uuid.UUID                `json:"vendor_id,omitempty"`
	AssignedCourierID *uuid.UUID                `json:"assigned_courier_id,omitempty"`
	SelfDelivered     bool                      `json:"self_delivered"`
	Category          string                    `json:"category,omitempty"`
	PaymentMethod     enums.PaymentMethod       `json:"payment_method"`
	Total             decimal.Decimal           `json:"total"`
	DeliveryFee       decimal.Decimal           `json:"delivery_fee"`
	Status            enums.OrderStatus         `json:"status"`
	PickupCode        *string                   `json:"pickup_code,omitempty"`
	DeliveryCode      *string                   `json:"delivery_code,omitempty"`
	DistanceKm        float64                   `json:"distance_km"`
	EtaMinutes        int                       `json:"eta_minutes"`
	History           []statusEventResponse     `json:"history,omitempty"`
	Requests          []deliveryRequestResponse `json:"requests,omitempty"`
	CreatedAt         time.Time                 `json:"created_at"`
	UpdatedAt         time.Time                 `json:"updated_at"`
}

// newOrderResponse shapes an order for one caller. The vendor hands the
// pickup code to the courier and the customer hands over the delivery code,
// so couriers never see either.
func newOrderResponse(order *models.Order, viewer uuid.UUID, role enums.Role) *orderResponse {
	if order == nil {
		return nil
	}
	resp := &orderResponse{
		ID:                order.ID,
		Kind:              order.Kind,
		CustomerID:        order.CustomerID,
		VendorID:          order.VendorID,
		AssignedCourierID: order.AssignedCourierID,
		SelfDelivered:     order.SelfDelivered,
		Category:          order.Category,
		PaymentMethod:     order.PaymentMethod,
		Total:             order.Total,
		DeliveryFee:       order.DeliveryFee,
		Status:            order.Status,
		DistanceKm:        order.DistanceKm,
		EtaMinutes:        order.EtaMinutes,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}

	isVendor := order.VendorID != nil && *order.VendorID == viewer
	isCustomer := order.CustomerID == viewer
	switch {
	case role == enums.RoleAdmin:
		resp.PickupCode = order.PickupCode
		resp.DeliveryCode = order.DeliveryCode
	case isVendor:
		resp.PickupCode = order.PickupCode
	case isCustomer:
		resp.DeliveryCode = order.DeliveryCode
		if order.VendorID == nil {
			resp.PickupCode = order.PickupCode
		}
	}

	for _, event := range order.History {
		resp.History = append(resp.History, statusEventResponse{
			FromStatus: event.FromStatus,
			Status:     event.Status,
			ActorID:    event.ActorID,
			ActorRole:  event.ActorRole,
			Note:       event.Note,
			CreatedAt:  event.CreatedAt,
		})
	}
	if role == enums.RoleAdmin || isVendor || isCustomer {
		for _, req := range order.Requests {
			resp.Requests = append(resp.Requests, deliveryRequestResponse{
				CourierID:   req.CourierID,
				Status:      req.Status,
				DistanceKm:  req.DistanceKm,
				ExpiresAt:   req.ExpiresAt,
				RespondedAt: req.RespondedAt,
			})
		}
	}
	return resp
}

type notificationResponse struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      json.RawMessage        `json:"data,omitempty"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func newNotificationList(rows []models.Notification) []notificationResponse {
	out := make([]notificationResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, notificationResponse{
			ID:        row.ID,
			Type:      row.Type,
			Title:     row.Title,
			Body:      row.Body,
			Data:      row.Data,
			ReadAt:    row.ReadAt,
			CreatedAt: row.CreatedAt,
		})
	}
	return out
}

type commissionRuleResponse struct {
	ID        uuid.UUID       `json:"id"`
	Category  string          `json:"category"`
	Rate      decimal.Decimal `json:"rate"`
	Active    bool            `json:"active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newCommissionRule(rule models.CommissionRule) commissionRuleResponse {
	return commissionRuleResponse{
		ID:        rule.ID,
		Category:  rule.Category,
		Rate:      rule.Rate,
		Active:    rule.Active,
		UpdatedAt: rule.UpdatedAt,
	}
}

type settlementResponse struct {
	OrderID      uuid.UUID       `json:"order_id"`
	ProductTotal decimal.Decimal `json:"product_total"`
	VendorAmount decimal.Decimal `json:"vendor_amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	DeliveryFee  decimal.Decimal `json:"delivery_fee"`
	RateApplied  decimal.Decimal `json:"rate_applied"`
	PayeeID      uuid.UUID       `json:"payee_id"`
	CourierID    *uuid.UUID      `json:"courier_id,omitempty"`
	SettledAt    time.Time       `json:"settled_at"`
	ReversedAt   *time.Time      `json:"reversed_at,omitempty"`
}

func newSettlementResponse(row *models.OrderSettlement) *settlementResponse {
	if row == nil {
		return nil
	}
	return &settlementResponse{
		OrderID:      row.OrderID,
		ProductTotal: row.ProductTotal,
		VendorAmount: row.VendorAmount,
		PlatformFee:  row.PlatformFee,
		DeliveryFee:  row.DeliveryFee,
		RateApplied:  row.RateApplied,
		PayeeID:      row.PayeeID,
		CourierID:    row.CourierID,
		SettledAt:    row.SettledAt,
		ReversedAt:   row.ReversedAt,
	}
}
