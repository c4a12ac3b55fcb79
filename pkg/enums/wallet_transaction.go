package enums

import "fmt"

// TransactionType maps to the wallet_transaction_type enum in Postgres.
type TransactionType string

const (
	TransactionTypeTopup            TransactionType = "topup"
	TransactionTypePayment          TransactionType = "payment"
	TransactionTypeWithdrawal       TransactionType = "withdrawal"
	TransactionTypeRefund           TransactionType = "refund"
	TransactionTypeRefundReversal   TransactionType = "refund_reversal"
	TransactionTypeCommissionRefund TransactionType = "commission_refund"
	TransactionTypeDriverEarning    TransactionType = "driver_earning"
	TransactionTypeDeliveryEarning  TransactionType = "delivery_earning"
	TransactionTypePlatformFee      TransactionType = "platform_fee"
)

var validTransactionTypes = []TransactionType{
	TransactionTypeTopup,
	TransactionTypePayment,
	TransactionTypeWithdrawal,
	TransactionTypeRefund,
	TransactionTypeRefundReversal,
	TransactionTypeCommissionRefund,
	TransactionTypeDriverEarning,
	TransactionTypeDeliveryEarning,
	TransactionTypePlatformFee,
}

func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}

// TransactionStatus maps to the wallet_transaction_status enum in Postgres.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusRejected  TransactionStatus = "rejected"
)

func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted, TransactionStatusRejected:
		return true
	}
	return false
}
