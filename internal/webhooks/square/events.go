package squarewebhook

import (
	sq "github.com/square/square-go-sdk"
)

// Event types Square delivers that this handler acts on. Anything else is
// acknowledged and dropped.
const (
	EventCheckoutCompleted    = "checkout.completed"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionDeleted  = "subscription.deleted"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventPaymentSucceeded     = "payment.succeeded"
)

// WebhookEvent is the envelope Square posts to the webhook endpoint.
type WebhookEvent struct {
	EventID string      `json:"event_id"`
	Type    string      `json:"type"`
	Data    WebhookData `json:"data"`
}

type WebhookData struct {
	Type   string        `json:"type"`
	ID     string        `json:"id"`
	Object WebhookObject `json:"object"`
}

type WebhookObject struct {
	Subscription *sq.Subscription `json:"subscription,omitempty"`
	Payment      *PaymentPayload  `json:"payment,omitempty"`
	Invoice      *InvoicePayload  `json:"invoice,omitempty"`
	Checkout     *CheckoutPayload `json:"checkout,omitempty"`
}

// PaymentPayload is the slice of Square's payment object the fraud gate and
// the intent state machine consume. ReferenceID carries the intent id the
// checkout was created with.
type PaymentPayload struct {
	ID                     string          `json:"id"`
	Status                 string          `json:"status"`
	CustomerID             string          `json:"customer_id,omitempty"`
	ReferenceID            string          `json:"reference_id,omitempty"`
	AmountMoney            Money           `json:"amount_money"`
	RiskEvaluation         *RiskEvaluation `json:"risk_evaluation,omitempty"`
	CardDetails            *CardDetails    `json:"card_details,omitempty"`
	BuyerVerificationToken string          `json:"buyer_verification_token,omitempty"`
}

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type RiskEvaluation struct {
	RiskLevel string `json:"risk_level"`
}

type CardDetails struct {
	AvsStatus string `json:"avs_status,omitempty"`
	CvvStatus string `json:"cvv_status,omitempty"`
}

// InvoicePayload covers the renewal events. Square's invoice object is much
// larger; only the subscription linkage matters here.
type InvoicePayload struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	CustomerID     string `json:"primary_recipient_customer_id,omitempty"`
}

// CheckoutPayload is the completed-checkout object. ReferenceID carries the
// intent id when the purchase flow started in this system.
type CheckoutPayload struct {
	ID             string `json:"id"`
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	PaymentID      string `json:"payment_id,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
}
