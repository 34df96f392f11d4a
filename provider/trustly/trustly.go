package trustly

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mobinc/pnpbridge/infra/config"
	"github.com/mobinc/pnpbridge/provider"
	"github.com/shopspring/decimal"
)

const (
	// JSON-RPC method names
	methodDeposit = "Deposit"
	methodKYC     = "kyc"

	apiVersion = "1.1"

	// Decision statuses on KYC notification replies
	statusContinue = "CONTINUE"
	statusFinish   = "FINISH"

	// Replies must carry the client identification the gateway expects.
	replyUserAgent = "trustly-api-client/0.0.9"

	// The payer's real name arrives later with the KYC notification; the
	// deposit call only needs placeholders.
	placeholderFirstname = "John"
	placeholderLastname  = "Doe"

	defaultShopperStatement = "Mobile Incorporated Ltd"
)

// TrustlyProvider implements the provider.PaymentProvider interface for the
// Trustly JSON-RPC gateway. Every request and response body is signed over
// a canonicalized plaintext; inbound response signatures are verified and a
// mismatch is fatal.
type TrustlyProvider struct {
	username         string
	password         string
	apiURL           string
	gatewayURL       string
	notificationURL  string
	successURLBase   string
	shopperStatement string

	codec      *provider.MessageCodec
	signer     *provider.RequestSigner
	httpClient *provider.BridgeHTTPClient
}

// NewProvider creates a new Trustly payment provider
func NewProvider() provider.PaymentProvider {
	return &TrustlyProvider{}
}

// GetRequiredConfig returns the configuration fields required for Trustly
func (p *TrustlyProvider) GetRequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "apiUrl",
			Required:    true,
			Type:        "url",
			Description: "Trustly JSON-RPC endpoint",
			Example:     "https://test.trustly.com/api/1",
		},
		{
			Key:         "username",
			Required:    true,
			Type:        "string",
			Description: "Merchant API username (provided by Trustly)",
			Example:     "merchant_username",
		},
		{
			Key:         "password",
			Required:    true,
			Type:        "string",
			Description: "Merchant API password (provided by Trustly)",
			Example:     "merchant_password",
		},
		{
			Key:         "encryptionKey",
			Required:    true,
			Type:        "key",
			Description: "AES key for message id encoding (16, 24 or 32 bytes)",
			Example:     "0123456789abcdef",
		},
		{
			Key:         "privateKeyFile",
			Required:    true,
			Type:        "string",
			Description: "File name of the merchant RSA private key in the keys directory",
			Example:     "trustly_private.pem",
		},
		{
			Key:         "publicKeyFile",
			Required:    true,
			Type:        "string",
			Description: "File name of Trustly's RSA public key in the keys directory",
			Example:     "trustly_public.pem",
		},
		{
			Key:         "gatewayUrl",
			Required:    false,
			Type:        "url",
			Description: "Upstream gateway for unrecognized notification methods",
			Example:     "https://gateway.example.com/trustly/gate/merchant/",
		},
		{
			Key:         "shopperStatement",
			Required:    false,
			Type:        "string",
			Description: "Statement text shown on the payer's bank record",
			Example:     "Mobile Incorporated Ltd",
		},
	}
}

// ValidateConfig validates the provided configuration against Trustly requirements
func (p *TrustlyProvider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields("trustly", conf, p.GetRequiredConfig())
}

// Initialize sets up the Trustly payment provider with credentials and key material
func (p *TrustlyProvider) Initialize(conf map[string]string) error {
	p.username = conf["username"]
	p.password = conf["password"]
	p.apiURL = conf["apiUrl"]
	p.gatewayURL = conf["gatewayUrl"]

	if p.username == "" || p.password == "" {
		return errors.New("trustly: username and password are required")
	}
	if p.apiURL == "" {
		return errors.New("trustly: apiUrl is required")
	}

	p.shopperStatement = conf["shopperStatement"]
	if p.shopperStatement == "" {
		p.shopperStatement = defaultShopperStatement
	}

	appURL := config.GetAppConfig().AppURL
	p.notificationURL = appURL + "/trustly/notifications"
	p.successURLBase = appURL + "/success?messageid="

	codec, err := provider.NewMessageCodec([]byte(conf["encryptionKey"]))
	if err != nil {
		return fmt.Errorf("trustly: %w", err)
	}
	p.codec = codec

	privateKey, err := config.ReadKey(conf["privateKeyFile"])
	if err != nil {
		return fmt.Errorf("trustly: %w", err)
	}
	publicKey, err := config.ReadKey(conf["publicKeyFile"])
	if err != nil {
		return fmt.Errorf("trustly: %w", err)
	}

	signer, err := provider.NewRequestSigner(privateKey, publicKey, crypto.SHA1)
	if err != nil {
		return fmt.Errorf("trustly: %w", err)
	}
	p.signer = signer

	p.httpClient = provider.NewBridgeHTTPClient(provider.CreateHTTPClientConfig(p.apiURL, 0))

	return nil
}

// Deposit builds, signs and posts a JSON-RPC Deposit call and returns the
// redirect URL, Trustly order id and the issued message id.
func (p *TrustlyProvider) Deposit(ctx context.Context, request provider.DepositRequest) (*provider.DepositResponse, error) {
	messageID, err := p.codec.Encode(request.Password)
	if err != nil {
		return nil, fmt.Errorf("trustly: failed to encode message id: %w", err)
	}

	requestUUID := uuid.New().String()
	data := map[string]any{
		"Username":        p.username,
		"Password":        p.password,
		"NotificationURL": p.notificationURL,
		"EndUserID":       hashEndUserID(request.Email),
		"MessageID":       messageID,
		"Attributes": map[string]any{
			"Locale":           request.Locale,
			"Country":          request.Country,
			"Currency":         request.Currency,
			"Amount":           decimal.NewFromFloat(request.Amount).String(),
			"Firstname":        placeholderFirstname,
			"Lastname":         placeholderLastname,
			"Email":            request.Email,
			"ShopperStatement": p.shopperStatement,
			"SuccessURL":       p.successURLBase + messageID,
			"FailURL":          request.FailURL,
			"RequestKYC":       "1",
		},
	}

	signature, err := p.signer.Sign(provider.Canonicalize([]string{methodDeposit, requestUUID}, data))
	if err != nil {
		return nil, fmt.Errorf("trustly: %w", err)
	}

	body := map[string]any{
		"method": methodDeposit,
		"params": map[string]any{
			"Signature": signature,
			"UUID":      requestUUID,
			"Data":      data,
		},
		"version": apiVersion,
	}

	resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:   "POST",
		Endpoint: p.apiURL,
		Body:     body,
	})
	if err != nil {
		return nil, fmt.Errorf("trustly: deposit request failed: %w", err)
	}

	result, err := p.verifyResponse(resp.Body)
	if err != nil {
		return nil, err
	}

	url, _ := result.Data["url"].(string)
	orderID, _ := result.Data["orderid"].(string)
	if url == "" {
		return nil, fmt.Errorf("trustly: deposit response carries no redirect URL")
	}

	return &provider.DepositResponse{
		URL:       url,
		OrderID:   orderID,
		MessageID: messageID,
	}, nil
}

type rpcResult struct {
	Signature string         `json:"signature"`
	UUID      string         `json:"uuid"`
	Method    string         `json:"method"`
	Data      map[string]any `json:"data"`
}

// verifyResponse parses a JSON-RPC response envelope and verifies its
// signature before anything in it is trusted.
func (p *TrustlyProvider) verifyResponse(body []byte) (*rpcResult, error) {
	var envelope struct {
		Result *rpcResult `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("trustly: failed to parse response: %w", err)
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("trustly: response carries no result: %s", string(body))
	}

	plaintext := provider.Canonicalize([]string{envelope.Result.Method, envelope.Result.UUID}, envelope.Result.Data)
	if err := p.signer.Verify(envelope.Result.Signature, plaintext); err != nil {
		return nil, fmt.Errorf("trustly: %w", err)
	}

	return envelope.Result, nil
}

// notificationEnvelope is the strict shape of an inbound JSON-RPC webhook.
type notificationEnvelope struct {
	Method string `json:"method"`
	Params struct {
		UUID string `json:"uuid"`
		Data struct {
			MessageID    string `json:"messageid"`
			OrderID      string `json:"orderid"`
			AbortMessage string `json:"abortmessage"`
			Attributes   struct {
				Firstname string `json:"firstname"`
				Lastname  string `json:"lastname"`
				DOB       string `json:"dob"`
				Street    string `json:"street"`
				ZipCode   string `json:"zipcode"`
				City      string `json:"city"`
				Country   string `json:"country"`
			} `json:"attributes"`
		} `json:"data"`
	} `json:"params"`
}

// ParseNotification decodes an inbound KYC webhook into its tagged variant.
// Unknown methods come back as KindOther for the passthrough path.
func (p *TrustlyProvider) ParseNotification(body []byte) (*provider.Notification, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &provider.Notification{Kind: provider.KindPayerDetails, Type: methodKYC}, fmt.Errorf("trustly: failed to parse notification: %w", err)
	}

	if envelope.Method != methodKYC {
		return &provider.Notification{
			Kind: provider.KindOther,
			UUID: envelope.Params.UUID,
			Type: envelope.Method,
			Raw:  json.RawMessage(body),
		}, nil
	}

	n := &provider.Notification{
		UUID: envelope.Params.UUID,
		Type: envelope.Method,
		Raw:  json.RawMessage(body),
	}

	if envelope.Params.Data.AbortMessage != "" {
		n.Kind = provider.KindAbort
		n.AbortMessage = envelope.Params.Data.AbortMessage
		return n, nil
	}

	attrs := envelope.Params.Data.Attributes
	n.Kind = provider.KindPayerDetails
	n.MessageID = envelope.Params.Data.MessageID
	n.ProviderOrderID = envelope.Params.Data.OrderID
	n.Payer = &provider.PayerIdentity{
		FirstName: attrs.Firstname,
		LastName:  attrs.Lastname,
		BirthDate: attrs.DOB,
		Country:   attrs.Country,
		City:      attrs.City,
		Street:    attrs.Street,
		ZipCode:   attrs.ZipCode,
	}
	n.AffiliateKey = "trustly_uuid"
	n.AffiliateValue = envelope.Params.Data.OrderID

	return n, nil
}

// BuildNotificationReply renders the signed JSON-RPC result envelope for
// the given decision. Trustly understands two statuses: CONTINUE and FINISH.
func (p *TrustlyProvider) BuildNotificationReply(n *provider.Notification, decision provider.Decision, _ *provider.AmountLimit) (*provider.NotificationReply, error) {
	status := statusFinish
	if decision == provider.DecisionProceed || decision == provider.DecisionProceedWithLimit {
		status = statusContinue
	}

	method := n.Type
	if method == "" {
		method = methodKYC
	}

	data := map[string]any{"status": status}
	signature, err := p.signer.Sign(provider.Canonicalize([]string{method, n.UUID}, data))
	if err != nil {
		return nil, fmt.Errorf("trustly: failed to sign notification reply: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"result": map[string]any{
			"signature": signature,
			"uuid":      n.UUID,
			"method":    method,
			"data":      data,
		},
		"version": apiVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("trustly: failed to marshal notification reply: %w", err)
	}

	return &provider.NotificationReply{
		ContentType: "application/json",
		Headers:     map[string]string{"User-Agent": replyUserAgent},
		Body:        body,
	}, nil
}

// RecoverSecret decodes a message id back to its embedded one-time secret
func (p *TrustlyProvider) RecoverSecret(messageID string) (string, error) {
	return p.codec.Decode(messageID)
}

// GatewayURL is the upstream target for opaque passthrough envelopes
func (p *TrustlyProvider) GatewayURL() string {
	return p.gatewayURL
}

// hashEndUserID derives the stable pseudonymous end-user id from the email
func hashEndUserID(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
