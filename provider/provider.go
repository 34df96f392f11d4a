package provider

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for the bridge's failure taxonomy. Callers match with
// errors.Is; lower layers wrap these with context via fmt.Errorf("%w").
var (
	// ErrDecode indicates a message id that cannot be decrypted back to its
	// embedded secret (bad base64, wrong ciphertext length, bad padding).
	ErrDecode = errors.New("malformed message id")

	// ErrSignatureVerification indicates an untrusted provider response.
	// This is fatal: an unverified response must never be acted on.
	ErrSignatureVerification = errors.New("provider signature is not valid")

	// ErrSessionNotFound indicates a webhook correlation id with no live
	// deposit session behind it. Treated as a reject condition, not a crash.
	ErrSessionNotFound = errors.New("deposit session not found")

	// ErrProviderNotConfigured indicates a request naming a provider that
	// was never added to the bridge service.
	ErrProviderNotConfigured = errors.New("provider is not configured")
)

// DepositRequest contains everything the front-end submits to start a deposit.
type DepositRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Amount    float64 `json:"amount" validate:"required,gt=0"`
	Password  string  `json:"password" validate:"required"`
	Currency  string  `json:"currency" validate:"required,len=3"`
	Country   string  `json:"country" validate:"required,len=2"`
	Locale    string  `json:"locale" validate:"required"`
	FailURL   string  `json:"failUrl" validate:"required,url"`
	PartnerID string  `json:"partnerId,omitempty"`
}

// DepositResponse is returned to the front-end verbatim.
type DepositResponse struct {
	URL       string `json:"url"`
	OrderID   string `json:"orderId"`
	MessageID string `json:"messageId"`
}

// NotificationKind discriminates the inbound webhook variants after a
// strict parse. Loosely-typed field poking stays inside ParseNotification.
type NotificationKind string

const (
	// KindPayerDetails carries the payer's KYC attributes and requires a
	// verification decision.
	KindPayerDetails NotificationKind = "payerDetails"
	// KindAcknowledge covers informational notifications (order status,
	// bank account) that only need the fixed "processed" acknowledgement.
	KindAcknowledge NotificationKind = "acknowledge"
	// KindAbort signals the provider aborted the flow; reply cancel, make
	// no downstream calls.
	KindAbort NotificationKind = "abort"
	// KindOther is the opaque passthrough escape hatch: the raw envelope is
	// relayed to the provider's upstream gateway untouched.
	KindOther NotificationKind = "other"
)

// PayerIdentity holds the KYC attributes delivered with a payer-details
// notification. Only first and last name are guaranteed present.
type PayerIdentity struct {
	FirstName string
	LastName  string
	BirthDate string // yyyy-mm-dd as delivered, empty when absent
	Country   string
	City      string
	Street    string
	ZipCode   string
}

// Notification is the strict, tagged form of an inbound webhook envelope.
type Notification struct {
	Kind NotificationKind

	UUID string
	Type string // provider's own discriminator value, echoed in replies

	// MessageID is the merchant-side correlation id (the encrypted message
	// id issued at deposit time). ProviderOrderID is the provider's own id.
	MessageID       string
	ProviderOrderID string

	MerchantPayerID string
	ProviderPayerID string

	Payer        *PayerIdentity
	AbortMessage string

	// AffiliateKey/AffiliateValue form the provider-specific transaction
	// parameter handed to the affiliate activation call.
	AffiliateKey   string
	AffiliateValue string

	// Raw is the unmodified envelope, kept for the passthrough path.
	Raw json.RawMessage
}

// Decision is the verification outcome reported back to the provider.
type Decision string

const (
	DecisionProceed          Decision = "proceed"
	DecisionProceedWithLimit Decision = "proceedWithLimit"
	DecisionCancel           Decision = "cancel"
	DecisionProcessed        Decision = "processed"
)

// AmountLimit bounds a proceedWithLimit decision.
type AmountLimit struct {
	Min string
	Max string
}

// NotificationReply is the fully rendered, provider-valid webhook answer.
type NotificationReply struct {
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// DepositSession links a message id to its deposit metadata until the
// provider calls back or the TTL expires.
type DepositSession struct {
	MessageID       string    `json:"messageId"`
	Provider        string    `json:"provider"`
	Email           string    `json:"email"`
	Currency        string    `json:"currency"`
	PartnerID       string    `json:"partnerId,omitempty"`
	SuccessLoginURL string    `json:"successLoginUrl,omitempty"`
	RequestOrigin   string    `json:"requestOrigin,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// SessionStore is the narrow CRUD contract the orchestrator depends on.
// Implementations enforce the TTL: Get never returns an expired session.
type SessionStore interface {
	CreateSession(ctx context.Context, session DepositSession) error
	GetSession(ctx context.Context, messageID string) (*DepositSession, error)
	UpdateSuccessLoginURL(ctx context.Context, messageID, successLoginURL string) error
	DeleteSession(ctx context.Context, messageID string) error
}

// IdentityRequest carries everything the partner registration API needs to
// check or create a user.
type IdentityRequest struct {
	Origin    string // casino site the deposit originated from
	FirstName string
	LastName  string
	Email     string
	Password  string
	BirthDate string
	Country   string
	City      string
	Street    string
	ZipCode   string
	PartnerID string
}

// IdentityResult is the partner's verdict. UserID is only set when the user
// exists (or was just created); SuccessLoginURL is optional.
type IdentityResult struct {
	Exists          bool
	UserID          string
	SuccessLoginURL string
}

// IdentityVerifier is the external check-or-create identity contract.
type IdentityVerifier interface {
	EnsureUser(ctx context.Context, req IdentityRequest) (*IdentityResult, error)
}

// AffiliateRequest carries the confirmed user to the affiliate key-obtain
// call that unlocks revenue attribution.
type AffiliateRequest struct {
	TransactionKey   string
	TransactionValue string
	Currency         string
	FirstName        string
	LastName         string
	Email            string
	UserID           string
	BirthDate        string
	Country          string
	City             string
	Street           string
	ZipCode          string
}

// AffiliateActivator activates commission tracking; its boolean result
// gates the final callback decision.
type AffiliateActivator interface {
	Activate(ctx context.Context, req AffiliateRequest) (bool, error)
}

// ConfigField describes one configuration entry a provider requires.
type ConfigField struct {
	Key         string `json:"key"`
	Required    bool   `json:"required"`
	Type        string `json:"type"` // "string", "url", "key"
	Description string `json:"description"`
	Example     string `json:"example"`
	Pattern     string `json:"pattern,omitempty"`
}

// PaymentProvider is the contract both payment-processor integrations
// implement. One interface, two wire formats; the orchestrator never
// branches on the concrete provider.
type PaymentProvider interface {
	// Initialize sets up the provider with credentials and endpoints.
	Initialize(config map[string]string) error

	// GetRequiredConfig returns the configuration fields this provider needs.
	GetRequiredConfig() []ConfigField

	// ValidateConfig validates the provided configuration.
	ValidateConfig(config map[string]string) error

	// Deposit builds, signs and posts a deposit request and returns the
	// redirect URL, provider order id and the issued message id.
	Deposit(ctx context.Context, request DepositRequest) (*DepositResponse, error)

	// ParseNotification decodes an inbound webhook body into its tagged
	// variant. It is tolerant: partially usable envelopes still come back
	// with whatever correlation fields could be recovered.
	ParseNotification(body []byte) (*Notification, error)

	// BuildNotificationReply renders the provider-valid webhook answer for
	// the given decision. limit is only consulted for proceedWithLimit.
	BuildNotificationReply(n *Notification, decision Decision, limit *AmountLimit) (*NotificationReply, error)

	// RecoverSecret decodes a message id back to the one-time secret that
	// was embedded at deposit time.
	RecoverSecret(messageID string) (string, error)

	// GatewayURL is the upstream target for opaque passthrough envelopes.
	GatewayURL() string
}

// ProviderFactory is a function type that creates a new PaymentProvider.
type ProviderFactory func() PaymentProvider
