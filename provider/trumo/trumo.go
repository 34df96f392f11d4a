package trumo

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mobinc/pnpbridge/infra/config"
	"github.com/mobinc/pnpbridge/provider"
	"github.com/shopspring/decimal"
)

const (
	// API endpoints
	endpointDeposit = "deposit"

	// The gateway verifies signatures over the versioned URL path, not the
	// endpoint the request is posted to.
	signPathDeposit = "/v1/deposit"

	// Notification types
	typePayerDetails = "payerDetails"
	typeOrderStatus  = "orderStatus"
	typeBankAccount  = "bankAccount"

	// orderStatus notifications only get acknowledged for this combination
	orderTypeDeposit     = "deposit"
	orderStatusInitiated = "initiated"
)

// TrumoProvider implements the provider.PaymentProvider interface for the
// Trumo REST gateway. Requests are signed with SHA-256 over a canonicalized
// plaintext; responses are not signed by the gateway and are used as-is.
type TrumoProvider struct {
	merchantID      string
	apiURL          string
	gatewayURL      string
	notificationURL string
	successURLBase  string

	codec      *provider.MessageCodec
	signer     *provider.RequestSigner
	httpClient *provider.BridgeHTTPClient
}

// NewProvider creates a new Trumo payment provider
func NewProvider() provider.PaymentProvider {
	return &TrumoProvider{}
}

// GetRequiredConfig returns the configuration fields required for Trumo
func (p *TrumoProvider) GetRequiredConfig() []provider.ConfigField {
	return []provider.ConfigField{
		{
			Key:         "apiUrl",
			Required:    true,
			Type:        "url",
			Description: "Trumo API base URL",
			Example:     "https://api.trumo.example/v1",
		},
		{
			Key:         "merchantId",
			Required:    true,
			Type:        "string",
			Description: "Merchant identifier (provided by Trumo)",
			Example:     "merchant-1234",
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
			Example:     "trumo_private.pem",
		},
		{
			Key:         "gatewayUrl",
			Required:    false,
			Type:        "url",
			Description: "Upstream gateway for unrecognized notification types",
			Example:     "https://gateway.example.com/gate/trumo/",
		},
	}
}

// ValidateConfig validates the provided configuration against Trumo requirements
func (p *TrumoProvider) ValidateConfig(conf map[string]string) error {
	return provider.ValidateConfigFields("trumo", conf, p.GetRequiredConfig())
}

// Initialize sets up the Trumo payment provider with credentials and key material
func (p *TrumoProvider) Initialize(conf map[string]string) error {
	p.merchantID = conf["merchantId"]
	p.apiURL = conf["apiUrl"]
	p.gatewayURL = conf["gatewayUrl"]

	if p.merchantID == "" {
		return errors.New("trumo: merchantId is required")
	}
	if p.apiURL == "" {
		return errors.New("trumo: apiUrl is required")
	}

	appURL := config.GetAppConfig().AppURL
	p.notificationURL = appURL + "/trumo/notifications"
	p.successURLBase = appURL + "/success?messageid="

	codec, err := provider.NewMessageCodec([]byte(conf["encryptionKey"]))
	if err != nil {
		return fmt.Errorf("trumo: %w", err)
	}
	p.codec = codec

	privateKey, err := config.ReadKey(conf["privateKeyFile"])
	if err != nil {
		return fmt.Errorf("trumo: %w", err)
	}

	// Trumo never signs its responses, so no public key is configured.
	signer, err := provider.NewRequestSigner(privateKey, nil, crypto.SHA256)
	if err != nil {
		return fmt.Errorf("trumo: %w", err)
	}
	p.signer = signer

	p.httpClient = provider.NewBridgeHTTPClient(provider.CreateHTTPClientConfig(p.apiURL, 0))

	return nil
}

// Deposit builds, signs and posts a deposit order and returns the redirect
// URL, Trumo order id and the issued message id.
func (p *TrumoProvider) Deposit(ctx context.Context, request provider.DepositRequest) (*provider.DepositResponse, error) {
	messageID, err := p.codec.Encode(request.Password)
	if err != nil {
		return nil, fmt.Errorf("trumo: failed to encode message id: %w", err)
	}

	requestUUID := uuid.New().String()
	data := map[string]any{
		"notificationURL": p.notificationURL,
		"successURL":      p.successURLBase + messageID,
		"failureURL":      request.FailURL,
		"orderDetails": map[string]any{
			"merchantOrderID": messageID,
			"amount":          decimal.NewFromFloat(request.Amount).StringFixed(2),
			"currency":        request.Currency,
			"country":         request.Country,
			"locale":          request.Locale,
		},
	}

	signature, err := p.signer.Sign(provider.Canonicalize([]string{signPathDeposit, requestUUID}, data))
	if err != nil {
		return nil, fmt.Errorf("trumo: %w", err)
	}

	body := map[string]any{
		"signature": signature,
		"UUID":      requestUUID,
		"data":      data,
	}

	resp, err := p.httpClient.SendJSON(ctx, &provider.HTTPRequest{
		Method:   "POST",
		Endpoint: endpointDeposit,
		Headers:  map[string]string{"X-Merchant-ID": p.merchantID},
		Body:     body,
	})
	if err != nil {
		return nil, fmt.Errorf("trumo: deposit request failed: %w", err)
	}

	var depositResp struct {
		Data struct {
			OrderDetails struct {
				URL          string `json:"url"`
				TrumoOrderID string `json:"trumoOrderID"`
			} `json:"orderDetails"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &depositResp); err != nil {
		return nil, fmt.Errorf("trumo: failed to parse deposit response: %w", err)
	}
	if depositResp.Data.OrderDetails.URL == "" {
		return nil, fmt.Errorf("trumo: deposit response carries no redirect URL: %s", string(resp.Body))
	}

	return &provider.DepositResponse{
		URL:       depositResp.Data.OrderDetails.URL,
		OrderID:   depositResp.Data.OrderDetails.TrumoOrderID,
		MessageID: messageID,
	}, nil
}

// notificationEnvelope is the strict shape of an inbound Trumo webhook.
type notificationEnvelope struct {
	UUID string `json:"UUID"`
	Type string `json:"type"`
	Data struct {
		PayerDetails struct {
			MerchantPayerID string `json:"merchantPayerID"`
			TrumoPayerID    string `json:"trumoPayerID"`
			FirstName       string `json:"firstName"`
			LastName        string `json:"lastName"`
			BirthDate       string `json:"birthDate"`
			Country         string `json:"country"`
			City            string `json:"city"`
			Street          string `json:"street"`
			ZipCode         string `json:"zipcode"`
		} `json:"payerDetails"`
		OrderDetails struct {
			MerchantOrderID string `json:"merchantOrderID"`
			TrumoOrderID    string `json:"trumoOrderID"`
			Type            string `json:"type"`
			Status          string `json:"status"`
		} `json:"orderDetails"`
	} `json:"data"`
}

// ParseNotification decodes an inbound webhook into its tagged variant.
// Only payerDetails needs a verification decision; orderStatus for an
// initiated deposit and bankAccount get the fixed acknowledgement, and
// everything else is passthrough.
func (p *TrumoProvider) ParseNotification(body []byte) (*provider.Notification, error) {
	var envelope notificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &provider.Notification{Kind: provider.KindPayerDetails, Type: typePayerDetails}, fmt.Errorf("trumo: failed to parse notification: %w", err)
	}

	n := &provider.Notification{
		UUID:            envelope.UUID,
		Type:            envelope.Type,
		MessageID:       envelope.Data.OrderDetails.MerchantOrderID,
		ProviderOrderID: envelope.Data.OrderDetails.TrumoOrderID,
		MerchantPayerID: envelope.Data.PayerDetails.MerchantPayerID,
		ProviderPayerID: envelope.Data.PayerDetails.TrumoPayerID,
		Raw:             json.RawMessage(body),
	}

	switch {
	case envelope.Type == typePayerDetails:
		n.Kind = provider.KindPayerDetails
		n.Payer = &provider.PayerIdentity{
			FirstName: envelope.Data.PayerDetails.FirstName,
			LastName:  envelope.Data.PayerDetails.LastName,
			BirthDate: envelope.Data.PayerDetails.BirthDate,
			Country:   envelope.Data.PayerDetails.Country,
			City:      envelope.Data.PayerDetails.City,
			Street:    envelope.Data.PayerDetails.Street,
			ZipCode:   envelope.Data.PayerDetails.ZipCode,
		}
		n.AffiliateKey = "trumo_uuid"
		n.AffiliateValue = n.MessageID + ":" + n.ProviderOrderID

	case envelope.Type == typeOrderStatus &&
		envelope.Data.OrderDetails.Type == orderTypeDeposit &&
		envelope.Data.OrderDetails.Status == orderStatusInitiated:
		n.Kind = provider.KindAcknowledge

	case envelope.Type == typeBankAccount:
		n.Kind = provider.KindAcknowledge

	default:
		n.Kind = provider.KindOther
	}

	return n, nil
}

// BuildNotificationReply renders the webhook answer for the given decision.
// Trumo replies are plain JSON echoing the correlation ids; a
// proceedWithLimit decision additionally bounds the allowed amount.
func (p *TrumoProvider) BuildNotificationReply(n *provider.Notification, decision provider.Decision, limit *provider.AmountLimit) (*provider.NotificationReply, error) {
	orderDetails := map[string]any{
		"merchantOrderID": n.MessageID,
		"trumoOrderID":    n.ProviderOrderID,
	}
	if decision == provider.DecisionProceedWithLimit && limit != nil {
		if limit.Min != "" {
			orderDetails["minAmount"] = limit.Min
		}
		if limit.Max != "" {
			orderDetails["maxAmount"] = limit.Max
		}
	}

	replyType := n.Type
	if replyType == "" {
		replyType = typePayerDetails
	}

	body, err := json.Marshal(map[string]any{
		"UUID": n.UUID,
		"type": replyType,
		"data": map[string]any{
			"response": string(decision),
			"payerDetails": map[string]any{
				"merchantPayerID": n.MerchantPayerID,
				"trumoPayerID":    n.ProviderPayerID,
			},
			"orderDetails": orderDetails,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("trumo: failed to marshal notification reply: %w", err)
	}

	return &provider.NotificationReply{
		ContentType: "application/json",
		Body:        body,
	}, nil
}

// RecoverSecret decodes a message id back to its embedded one-time secret
func (p *TrumoProvider) RecoverSecret(messageID string) (string, error) {
	return p.codec.Decode(messageID)
}

// GatewayURL is the upstream target for opaque passthrough envelopes
func (p *TrumoProvider) GatewayURL() string {
	return p.gatewayURL
}
