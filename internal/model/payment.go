package model

// CheckoutRequest — тело POST /api/create-checkout-session.
type CheckoutRequest struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
}

// DefaultVerificationAmount — сумма проверки поставщика в USD, если клиент её не передал.
const DefaultVerificationAmount = 8

// MobileMoneyRequest — тело POST /api/initiate-mobile-money. Provider: ORANGE, AIRTEL, VODACOM.
type MobileMoneyRequest struct {
	UserID      string  `json:"userId"`
	UserEmail   string  `json:"userEmail"`
	PhoneNumber string  `json:"phoneNumber"`
	Provider    string  `json:"provider"`
	Amount      float64 `json:"amount,omitempty"`
}
