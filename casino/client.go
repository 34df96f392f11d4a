package casino

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mobinc/pnpbridge/infra/logger"
	"github.com/mobinc/pnpbridge/provider"
)

const identCode = "ma"

// Config holds the casino registration API settings.
type Config struct {
	// DefaultDomain is used when a deposit session carries no request origin.
	DefaultDomain string
	Secret        string
	BasicAuthUser string
	BasicAuthPass string
	Timeout       time.Duration
}

// Client talks to the partner casino registration API. It implements
// provider.IdentityVerifier with a check-then-create sequence: an existing
// account short-circuits, an unknown but valid one is registered on the fly.
type Client struct {
	config     Config
	httpClient *provider.BridgeHTTPClient
}

// NewClient creates a new casino registration client
func NewClient(config Config) *Client {
	return &Client{
		config:     config,
		httpClient: provider.NewBridgeHTTPClient(provider.CreateHTTPClientConfig("", config.Timeout)),
	}
}

type checkUserResponse struct {
	Exists          bool   `json:"exists"`
	Valid           bool   `json:"valid"`
	Errors          int    `json:"error"`
	UserID          string `json:"user_id"`
	SuccessLoginURL string `json:"success_login_url"`
}

// EnsureUser checks whether the payer already has an account and registers
// one when the check reports the details as valid but unknown.
func (c *Client) EnsureUser(ctx context.Context, req provider.IdentityRequest) (*provider.IdentityResult, error) {
	domain := strings.TrimSuffix(req.Origin, "/")
	if domain == "" {
		domain = c.config.DefaultDomain
	}

	check, err := c.checkUser(ctx, domain, req)
	if err != nil {
		return nil, err
	}

	if check.Exists {
		logger.Debug("casino user already exists", logger.LogContext{
			Fields: map[string]any{"user_id": check.UserID},
		})
		return &provider.IdentityResult{
			Exists:          true,
			UserID:          check.UserID,
			SuccessLoginURL: check.SuccessLoginURL,
		}, nil
	}

	if !check.Valid || check.Errors != 0 {
		logger.Info("casino rejected user details", logger.LogContext{
			Fields: map[string]any{"valid": check.Valid, "errors": check.Errors},
		})
		return &provider.IdentityResult{Exists: false}, nil
	}

	created, err := c.createUser(ctx, domain, req)
	if err != nil {
		return nil, err
	}

	userID := created.UserID
	if userID == "" {
		userID = check.UserID
	}
	successLoginURL := created.SuccessLoginURL
	if successLoginURL == "" {
		successLoginURL = check.SuccessLoginURL
	}

	return &provider.IdentityResult{
		Exists:          true,
		UserID:          userID,
		SuccessLoginURL: successLoginURL,
	}, nil
}

// checkUser posts the registration check. The sign parameter is the SHA-1
// of key-sorted key‖value pairs with the shared secret appended.
func (c *Client) checkUser(ctx context.Context, domain string, req provider.IdentityRequest) (*checkUserResponse, error) {
	params := c.userParams(req)
	params["sign"] = sha1Hex(concatSorted(params) + c.config.Secret)

	resp, err := c.httpClient.SendRaw(ctx, &provider.HTTPRequest{
		Method:      "POST",
		Endpoint:    domain + "/registration/api/",
		QueryParams: params,
		BasicAuth:   [2]string{c.config.BasicAuthUser, c.config.BasicAuthPass},
	})
	if err != nil {
		return nil, fmt.Errorf("casino: check user request failed: %w", err)
	}

	var check checkUserResponse
	if err := c.httpClient.ParseJSONResponse(resp, &check); err != nil {
		return nil, fmt.Errorf("casino: failed to parse check user response: %w", err)
	}
	return &check, nil
}

// createUser registers the user. The endpoint path embeds the SHA-1 of
// email plus the shared secret instead of a sign query parameter.
func (c *Client) createUser(ctx context.Context, domain string, req provider.IdentityRequest) (*checkUserResponse, error) {
	params := c.userParams(req)
	hash := sha1Hex(req.Email + c.config.Secret)

	resp, err := c.httpClient.SendRaw(ctx, &provider.HTTPRequest{
		Method:      "GET",
		Endpoint:    fmt.Sprintf("%s/a/pr/%s/%s/", domain, identCode, hash),
		QueryParams: params,
		BasicAuth:   [2]string{c.config.BasicAuthUser, c.config.BasicAuthPass},
	})
	if err != nil {
		return nil, fmt.Errorf("casino: create user request failed: %w", err)
	}

	// The registration endpoint answers with the same shape as the check;
	// tolerate an empty or non-JSON body from older deployments.
	var created checkUserResponse
	if err := c.httpClient.ParseJSONResponse(resp, &created); err != nil {
		return &checkUserResponse{}, nil
	}
	return &created, nil
}

func (c *Client) userParams(req provider.IdentityRequest) map[string]string {
	params := map[string]string{
		"ident":      identCode,
		"email":      req.Email,
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"password":   req.Password,
	}
	if req.PartnerID != "" {
		params["partner_id"] = req.PartnerID
	}
	if req.BirthDate != "" {
		params["birthdate"] = FormatBirthdate(req.BirthDate)
	}
	if req.Country != "" {
		params["country"] = req.Country
	}
	if req.City != "" {
		params["city"] = req.City
	}
	if req.Street != "" {
		params["address"] = req.Street
	}
	if req.ZipCode != "" {
		params["postal"] = req.ZipCode
	}
	return params
}

// concatSorted joins key then value for every pair in ascending key order.
func concatSorted(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString(params[key])
	}
	return b.String()
}

func sha1Hex(plain string) string {
	sum := sha1.Sum([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// FormatBirthdate converts a yyyy-mm-dd date of birth to the dd-MM-yyyy
// form the partner APIs expect. Unparseable input is passed through.
func FormatBirthdate(birthDate string) string {
	t, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return birthDate
	}
	return t.Format("02-01-2006")
}
