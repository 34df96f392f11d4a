package affiliate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mobinc/pnpbridge/casino"
	"github.com/mobinc/pnpbridge/infra/logger"
	"github.com/mobinc/pnpbridge/provider"
)

// Config holds the affiliate key-obtain API settings.
type Config struct {
	BaseURL    string
	SiteID     string
	Secret     string
	CustomerIP string
	Timeout    time.Duration
}

// Client calls the affiliate key-obtain endpoint that unlocks commission
// tracking for a confirmed user. It implements provider.AffiliateActivator.
type Client struct {
	config     Config
	httpClient *provider.BridgeHTTPClient
}

// NewClient creates a new affiliate activation client
func NewClient(config Config) *Client {
	return &Client{
		config:     config,
		httpClient: provider.NewBridgeHTTPClient(provider.CreateHTTPClientConfig("", config.Timeout)),
	}
}

// Activate obtains an affiliate key for the user. Its boolean result gates
// the final notification decision.
func (c *Client) Activate(ctx context.Context, req provider.AffiliateRequest) (bool, error) {
	params := c.activationParams(req)
	params["signature"] = signParams(params, c.config.Secret)

	resp, err := c.httpClient.SendRaw(ctx, &provider.HTTPRequest{
		Method:   "GET",
		Endpoint: c.config.BaseURL,
		RawQuery: buildQuery(params, req.TransactionKey),
	})
	if err != nil {
		return false, fmt.Errorf("affiliate: key obtain request failed: %w", err)
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := c.httpClient.ParseJSONResponse(resp, &result); err != nil {
		return false, fmt.Errorf("affiliate: failed to parse key obtain response: %w", err)
	}

	logger.Debug("affiliate key obtain completed", logger.LogContext{
		Fields: map[string]any{"success": result.Success},
	})
	return result.Success, nil
}

func (c *Client) activationParams(req provider.AffiliateRequest) map[string]string {
	params := map[string]string{
		"site_id":          c.config.SiteID,
		"site_login":       req.UserID,
		"user_email":       req.Email,
		"customer_ip":      c.config.CustomerIP,
		"user_name":        req.FirstName + " " + req.LastName,
		"first_name":       req.FirstName,
		"last_name":        req.LastName,
		"currency":         strings.ToUpper(req.Currency),
		req.TransactionKey: req.TransactionValue,
	}
	if req.BirthDate != "" {
		params["birthdate"] = casino.FormatBirthdate(req.BirthDate)
	}
	if req.Country != "" {
		params["user_country"] = req.Country
	}
	if req.City != "" {
		params["user_city"] = req.City
	}
	if req.Street != "" {
		params["user_address"] = req.Street
	}
	if req.ZipCode != "" {
		params["user_postal"] = req.ZipCode
	}
	return params
}

// signParams computes the SHA-1 over "key:value;" pairs in ascending key
// order with the shared secret appended.
func signParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(":")
		b.WriteString(params[key])
		b.WriteString(";")
	}
	b.WriteString(secret)

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// buildQuery encodes the parameters by hand because the verifier on the
// other side expects the colon inside the transaction parameter's value to
// stay unescaped.
func buildQuery(params map[string]string, transactionKey string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(params))
	for _, key := range keys {
		value := params[key]

		var encoded string
		if key == transactionKey {
			parts := strings.Split(value, ":")
			for i, part := range parts {
				parts[i] = escapeQueryValue(part)
			}
			encoded = strings.Join(parts, ":")
		} else {
			encoded = escapeQueryValue(value)
		}

		pairs = append(pairs, escapeQueryValue(key)+"="+encoded)
	}

	return strings.Join(pairs, "&")
}

// escapeQueryValue percent-encodes with space as %20, matching the
// encoding the affiliate endpoint validates against.
func escapeQueryValue(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
