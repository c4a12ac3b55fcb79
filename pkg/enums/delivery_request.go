package enums

// DeliveryRequestStatus tracks a courier's answer to a broadcast.
type DeliveryRequestStatus string

const (
	DeliveryRequestPending  DeliveryRequestStatus = "pending"
	DeliveryRequestAccepted DeliveryRequestStatus = "accepted"
	DeliveryRequestRejected DeliveryRequestStatus = "rejected"
	DeliveryRequestExpired  DeliveryRequestStatus = "expired"
)

func (s DeliveryRequestStatus) IsValid() bool {
	switch s {
	case DeliveryRequestPending, DeliveryRequestAccepted, DeliveryRequestRejected, DeliveryRequestExpired:
		return true
	}
	return false
}
