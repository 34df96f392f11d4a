package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mobinc/pnpbridge/infra/logger"
)

// DefaultSessionTTL is how long a deposit session stays retrievable when
// no explicit TTL is configured.
const DefaultSessionTTL = 24 * time.Hour

// BridgeService orchestrates deposits and webhook notifications across the
// registered payment providers. Each webhook is processed independently;
// the session store provides the only cross-request state.
type BridgeService struct {
	providers       map[string]PaymentProvider
	defaultProvider string
	mu              sync.RWMutex

	sessions  SessionStore
	identity  IdentityVerifier
	affiliate AffiliateActivator

	passthroughClient *BridgeHTTPClient

	sessionTTL     time.Duration
	deleteOnReject bool
}

// NewBridgeService creates a new bridge service
func NewBridgeService(sessions SessionStore, identity IdentityVerifier, affiliate AffiliateActivator) *BridgeService {
	return &BridgeService{
		providers:         make(map[string]PaymentProvider),
		sessions:          sessions,
		identity:          identity,
		affiliate:         affiliate,
		passthroughClient: NewBridgeHTTPClient(CreateHTTPClientConfig("", 0)),
		sessionTTL:        DefaultSessionTTL,
	}
}

// SetSessionTTL overrides the deposit session lifetime.
func (s *BridgeService) SetSessionTTL(ttl time.Duration) {
	if ttl > 0 {
		s.sessionTTL = ttl
	}
}

// SetDeleteOnReject enables session cleanup after a rejected verification.
// Off by default: the TTL sweep is the authoritative cleanup path.
func (s *BridgeService) SetDeleteOnReject(enabled bool) {
	s.deleteOnReject = enabled
}

// AddProvider creates, configures and registers a provider by name.
func (s *BridgeService) AddProvider(name string, config map[string]string) error {
	p, err := CreateProvider(name)
	if err != nil {
		return err
	}
	if err := p.ValidateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration for provider %s: %w", name, err)
	}
	if err := p.Initialize(config); err != nil {
		return fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[name] = p
	return nil
}

// SetDefaultProvider sets the provider used when a request names none.
func (s *BridgeService) SetDefaultProvider(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.providers[name]; !exists {
		return fmt.Errorf("provider %s is not added", name)
	}
	s.defaultProvider = name
	return nil
}

func (s *BridgeService) getProvider(name string) (PaymentProvider, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name == "" {
		name = s.defaultProvider
	}
	p, exists := s.providers[name]
	if !exists {
		return nil, "", fmt.Errorf("%w: %s", ErrProviderNotConfigured, name)
	}
	return p, name, nil
}

// Deposit forwards a deposit request to the named provider and records the
// pending session keyed by the issued message id.
func (s *BridgeService) Deposit(ctx context.Context, providerName, requestOrigin string, request DepositRequest) (*DepositResponse, error) {
	p, name, err := s.getProvider(providerName)
	if err != nil {
		return nil, err
	}

	resp, err := p.Deposit(ctx, request)
	if err != nil {
		logger.Error("deposit request failed", err, logger.LogContext{Provider: name})
		return nil, err
	}

	now := time.Now().UTC()
	session := DepositSession{
		MessageID:     resp.MessageID,
		Provider:      name,
		Email:         request.Email,
		Currency:      request.Currency,
		PartnerID:     request.PartnerID,
		RequestOrigin: requestOrigin,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.sessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		logger.Error("failed to persist deposit session", err, logger.LogContext{Provider: name, MessageID: resp.MessageID})
		return nil, err
	}

	logger.Info("deposit session created", logger.LogContext{
		Provider:  name,
		MessageID: resp.MessageID,
		Fields: map[string]any{
			"order_id": resp.OrderID,
			"currency": request.Currency,
		},
	})
	return resp, nil
}

// HandleNotification runs the webhook state machine and always returns a
// provider-valid reply when one can be constructed. Internal failures
// downgrade to a cancel decision; the provider must never be left without
// an answer.
func (s *BridgeService) HandleNotification(ctx context.Context, providerName string, body []byte) (*NotificationReply, error) {
	p, name, err := s.getProvider(providerName)
	if err != nil {
		return nil, err
	}

	n, parseErr := p.ParseNotification(body)
	if n == nil {
		n = &Notification{Kind: KindPayerDetails}
	}
	if parseErr != nil {
		logger.Warn("unparseable notification, replying cancel", logger.LogContext{
			Provider:  name,
			MessageID: n.MessageID,
			Fields:    map[string]any{"error": parseErr.Error()},
		})
		return p.BuildNotificationReply(n, DecisionCancel, nil)
	}

	switch n.Kind {
	case KindAbort:
		logger.Info("notification carries an abort message, replying cancel", logger.LogContext{
			Provider:  name,
			MessageID: n.MessageID,
			Fields:    map[string]any{"abort_message": n.AbortMessage},
		})
		return p.BuildNotificationReply(n, DecisionCancel, nil)

	case KindAcknowledge:
		logger.Info("informational notification acknowledged", logger.LogContext{
			Provider:  name,
			MessageID: n.MessageID,
			Fields:    map[string]any{"type": n.Type},
		})
		return p.BuildNotificationReply(n, DecisionProcessed, nil)

	case KindOther:
		return s.passthrough(ctx, name, p, n)
	}

	decision := s.verifyPayer(ctx, name, p, n)
	return p.BuildNotificationReply(n, decision, nil)
}

// verifyPayer executes the identity and affiliate checks for a payer
// details notification. It never propagates an error or panic: any failure
// collapses to a cancel decision so the caller still replies exactly once.
func (s *BridgeService) verifyPayer(ctx context.Context, providerName string, p PaymentProvider, n *Notification) (decision Decision) {
	logCtx := logger.LogContext{Provider: providerName, MessageID: n.MessageID}
	decision = DecisionCancel
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during payer verification, replying cancel", fmt.Errorf("%v", r), logCtx)
			decision = DecisionCancel
		}
	}()

	session, err := s.sessions.GetSession(ctx, n.MessageID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			logger.Warn("no session for notification, replying cancel", logCtx)
		} else {
			logger.Error("session lookup failed, replying cancel", err, logCtx)
		}
		return DecisionCancel
	}

	secret, err := p.RecoverSecret(n.MessageID)
	if err != nil {
		logger.Error("failed to recover secret from message id, replying cancel", err, logCtx)
		return DecisionCancel
	}

	payer := n.Payer
	if payer == nil {
		payer = &PayerIdentity{}
	}

	identity, err := s.identity.EnsureUser(ctx, IdentityRequest{
		Origin:    session.RequestOrigin,
		FirstName: payer.FirstName,
		LastName:  payer.LastName,
		Email:     session.Email,
		Password:  secret,
		BirthDate: payer.BirthDate,
		Country:   payer.Country,
		City:      payer.City,
		Street:    payer.Street,
		ZipCode:   payer.ZipCode,
		PartnerID: session.PartnerID,
	})
	if err != nil {
		logger.Error("identity verification failed, replying cancel", err, logCtx)
		return DecisionCancel
	}
	if !identity.Exists || identity.UserID == "" {
		logger.Info("identity not confirmed, replying cancel", logCtx)
		s.rejectCleanup(ctx, n.MessageID)
		return DecisionCancel
	}

	activated, err := s.affiliate.Activate(ctx, AffiliateRequest{
		TransactionKey:   n.AffiliateKey,
		TransactionValue: n.AffiliateValue,
		Currency:         session.Currency,
		FirstName:        payer.FirstName,
		LastName:         payer.LastName,
		Email:            session.Email,
		UserID:           identity.UserID,
		BirthDate:        payer.BirthDate,
		Country:          payer.Country,
		City:             payer.City,
		Street:           payer.Street,
		ZipCode:          payer.ZipCode,
	})
	if err != nil {
		logger.Error("affiliate activation failed, replying cancel", err, logCtx)
		s.rejectCleanup(ctx, n.MessageID)
		return DecisionCancel
	}
	if !activated {
		logger.Info("affiliate activation declined, replying cancel", logCtx)
		s.rejectCleanup(ctx, n.MessageID)
		return DecisionCancel
	}

	if identity.SuccessLoginURL != "" {
		if err := s.sessions.UpdateSuccessLoginURL(ctx, n.MessageID, identity.SuccessLoginURL); err != nil {
			logger.Error("failed to store success login URL, replying cancel", err, logCtx)
			return DecisionCancel
		}
	}

	logger.Info("payer verified, replying proceed", logCtx)
	return DecisionProceed
}

func (s *BridgeService) rejectCleanup(ctx context.Context, messageID string) {
	if !s.deleteOnReject {
		return
	}
	if err := s.sessions.DeleteSession(ctx, messageID); err != nil {
		logger.Warn("failed to delete rejected session", logger.LogContext{
			MessageID: messageID,
			Fields:    map[string]any{"error": err.Error()},
		})
	}
}

// passthrough relays an unrecognized envelope to the provider's upstream
// gateway and returns its raw response verbatim.
func (s *BridgeService) passthrough(ctx context.Context, providerName string, p PaymentProvider, n *Notification) (*NotificationReply, error) {
	gateway := p.GatewayURL()
	if gateway == "" {
		return nil, fmt.Errorf("provider %s has no passthrough gateway configured", providerName)
	}

	// n.Raw stays a json.RawMessage so the envelope is relayed verbatim.
	resp, err := s.passthroughClient.SendJSON(ctx, &HTTPRequest{
		Method:   "POST",
		Endpoint: gateway,
		Body:     n.Raw,
	})
	if err != nil && resp == nil {
		logger.Error("passthrough relay failed", err, logger.LogContext{Provider: providerName})
		return nil, err
	}

	logger.Info("notification relayed to upstream gateway", logger.LogContext{
		Provider: providerName,
		Fields:   map[string]any{"status_code": resp.StatusCode},
	})
	contentType := resp.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return &NotificationReply{ContentType: contentType, Body: resp.Body}, nil
}
