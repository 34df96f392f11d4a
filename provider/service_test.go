package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// stubProvider is a controllable PaymentProvider for orchestration tests.
type stubProvider struct {
	depositResp  *DepositResponse
	depositErr   error
	notification *Notification
	parseErr     error
	secret       string
	secretErr    error
	gatewayURL   string

	lastDecision Decision
	replyCount   int
}

func (s *stubProvider) Initialize(config map[string]string) error     { return nil }
func (s *stubProvider) GetRequiredConfig() []ConfigField              { return nil }
func (s *stubProvider) ValidateConfig(config map[string]string) error { return nil }

func (s *stubProvider) Deposit(ctx context.Context, request DepositRequest) (*DepositResponse, error) {
	return s.depositResp, s.depositErr
}

func (s *stubProvider) ParseNotification(body []byte) (*Notification, error) {
	return s.notification, s.parseErr
}

func (s *stubProvider) BuildNotificationReply(n *Notification, decision Decision, limit *AmountLimit) (*NotificationReply, error) {
	s.lastDecision = decision
	s.replyCount++
	return &NotificationReply{ContentType: "application/json", Body: []byte(decision)}, nil
}

func (s *stubProvider) RecoverSecret(messageID string) (string, error) {
	return s.secret, s.secretErr
}

func (s *stubProvider) GatewayURL() string { return s.gatewayURL }

type fakeSessionStore struct {
	sessions  map[string]DepositSession
	createErr error
	getErr    error
	updateErr error
	deleted   []string
	updated   map[string]string
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[string]DepositSession),
		updated:  make(map[string]string),
	}
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, session DepositSession) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.sessions[session.MessageID] = session
	return nil
}

func (f *fakeSessionStore) GetSession(ctx context.Context, messageID string) (*DepositSession, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	session, ok := f.sessions[messageID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (f *fakeSessionStore) UpdateSuccessLoginURL(ctx context.Context, messageID, successLoginURL string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated[messageID] = successLoginURL
	return nil
}

func (f *fakeSessionStore) DeleteSession(ctx context.Context, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	delete(f.sessions, messageID)
	return nil
}

type fakeIdentity struct {
	result  *IdentityResult
	err     error
	panics  bool
	calls   int
	lastReq IdentityRequest
}

func (f *fakeIdentity) EnsureUser(ctx context.Context, req IdentityRequest) (*IdentityResult, error) {
	f.calls++
	f.lastReq = req
	if f.panics {
		panic("identity backend blew up")
	}
	return f.result, f.err
}

type fakeAffiliate struct {
	ok      bool
	err     error
	calls   int
	lastReq AffiliateRequest
}

func (f *fakeAffiliate) Activate(ctx context.Context, req AffiliateRequest) (bool, error) {
	f.calls++
	f.lastReq = req
	return f.ok, f.err
}

func newTestBridge(store *fakeSessionStore, identity *fakeIdentity, aff *fakeAffiliate, stub *stubProvider) *BridgeService {
	s := NewBridgeService(store, identity, aff)
	s.providers["stub"] = stub
	return s
}

func payerNotification() *Notification {
	return &Notification{
		Kind:            KindPayerDetails,
		UUID:            "uuid-1",
		Type:            "payerDetails",
		MessageID:       "m1",
		ProviderOrderID: "order-9",
		Payer: &PayerIdentity{
			FirstName: "Matti",
			LastName:  "Meikäläinen",
			BirthDate: "1990-05-01",
			Country:   "FI",
		},
		AffiliateKey:   "stub_uuid",
		AffiliateValue: "m1:order-9",
	}
}

func seedSession(store *fakeSessionStore) {
	store.sessions["m1"] = DepositSession{
		MessageID:     "m1",
		Provider:      "stub",
		Email:         "payer@example.com",
		Currency:      "EUR",
		PartnerID:     "p7",
		RequestOrigin: "https://casino.example",
		CreatedAt:     time.Now().UTC(),
		ExpiresAt:     time.Now().UTC().Add(time.Hour),
	}
}

func TestBridgeService_Deposit(t *testing.T) {
	store := newFakeSessionStore()
	stub := &stubProvider{
		depositResp: &DepositResponse{URL: "https://pay.example/redirect", OrderID: "order-9", MessageID: "m1"},
	}
	bridge := newTestBridge(store, &fakeIdentity{}, &fakeAffiliate{}, stub)

	req := DepositRequest{
		Email:    "payer@example.com",
		Amount:   25,
		Password: "pw",
		Currency: "EUR",
		Country:  "FI",
		Locale:   "fi_FI",
		FailURL:  "https://casino.example/fail",
	}

	resp, err := bridge.Deposit(context.Background(), "stub", "https://casino.example", req)
	if err != nil {
		t.Fatalf("Deposit() error = %v", err)
	}
	if resp.MessageID != "m1" {
		t.Errorf("MessageID = %q, want m1", resp.MessageID)
	}

	session, ok := store.sessions["m1"]
	if !ok {
		t.Fatal("deposit did not persist a session")
	}
	if session.Provider != "stub" || session.Email != req.Email || session.Currency != "EUR" {
		t.Errorf("session = %+v, missing deposit metadata", session)
	}
	if session.RequestOrigin != "https://casino.example" {
		t.Errorf("RequestOrigin = %q, want the request origin", session.RequestOrigin)
	}
	if ttl := session.ExpiresAt.Sub(session.CreatedAt); ttl != DefaultSessionTTL {
		t.Errorf("session TTL = %v, want %v", ttl, DefaultSessionTTL)
	}
}

func TestBridgeService_Deposit_UnknownProvider(t *testing.T) {
	bridge := newTestBridge(newFakeSessionStore(), &fakeIdentity{}, &fakeAffiliate{}, &stubProvider{})

	_, err := bridge.Deposit(context.Background(), "nope", "", DepositRequest{})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Errorf("Deposit() error = %v, want ErrProviderNotConfigured", err)
	}
}

func TestBridgeService_Deposit_ProviderFailure(t *testing.T) {
	store := newFakeSessionStore()
	stub := &stubProvider{depositErr: errors.New("gateway down")}
	bridge := newTestBridge(store, &fakeIdentity{}, &fakeAffiliate{}, stub)

	if _, err := bridge.Deposit(context.Background(), "stub", "", DepositRequest{}); err == nil {
		t.Fatal("Deposit() succeeded, want error")
	}
	if len(store.sessions) != 0 {
		t.Error("a session was persisted for a failed deposit")
	}
}

func TestBridgeService_Deposit_DefaultProvider(t *testing.T) {
	store := newFakeSessionStore()
	stub := &stubProvider{depositResp: &DepositResponse{URL: "u", MessageID: "m1"}}
	bridge := newTestBridge(store, &fakeIdentity{}, &fakeAffiliate{}, stub)

	if err := bridge.SetDefaultProvider("stub"); err != nil {
		t.Fatalf("SetDefaultProvider() error = %v", err)
	}

	if _, err := bridge.Deposit(context.Background(), "", "", DepositRequest{}); err != nil {
		t.Errorf("Deposit() with empty provider name error = %v", err)
	}
}

func TestBridgeService_HandleNotification_ParseFailure(t *testing.T) {
	identity := &fakeIdentity{}
	stub := &stubProvider{
		notification: &Notification{Kind: KindPayerDetails},
		parseErr:     errors.New("bad json"),
	}
	bridge := newTestBridge(newFakeSessionStore(), identity, &fakeAffiliate{}, stub)

	reply, err := bridge.HandleNotification(context.Background(), "stub", []byte("{broken"))
	if err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if reply == nil {
		t.Fatal("HandleNotification() returned no reply")
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel", stub.lastDecision)
	}
	if identity.calls != 0 {
		t.Error("identity verifier was called for an unparseable notification")
	}
}

func TestBridgeService_HandleNotification_Abort(t *testing.T) {
	identity := &fakeIdentity{}
	aff := &fakeAffiliate{}
	stub := &stubProvider{
		notification: &Notification{Kind: KindAbort, UUID: "uuid-1", MessageID: "m1", AbortMessage: "user cancelled"},
	}
	bridge := newTestBridge(newFakeSessionStore(), identity, aff, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel", stub.lastDecision)
	}
	if identity.calls != 0 || aff.calls != 0 {
		t.Error("downstream calls were made for an aborted flow")
	}
}

func TestBridgeService_HandleNotification_Acknowledge(t *testing.T) {
	stub := &stubProvider{
		notification: &Notification{Kind: KindAcknowledge, Type: "orderStatus"},
	}
	bridge := newTestBridge(newFakeSessionStore(), &fakeIdentity{}, &fakeAffiliate{}, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionProcessed {
		t.Errorf("decision = %q, want processed", stub.lastDecision)
	}
}

func TestBridgeService_HandleNotification_UnknownCorrelation(t *testing.T) {
	identity := &fakeIdentity{}
	aff := &fakeAffiliate{}
	stub := &stubProvider{notification: payerNotification(), secret: "pw"}
	bridge := newTestBridge(newFakeSessionStore(), identity, aff, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel", stub.lastDecision)
	}
	if identity.calls != 0 || aff.calls != 0 {
		t.Error("downstream calls were made without a live session")
	}
}

func TestBridgeService_HandleNotification_HappyPath(t *testing.T) {
	store := newFakeSessionStore()
	seedSession(store)
	identity := &fakeIdentity{result: &IdentityResult{Exists: true, UserID: "42", SuccessLoginURL: "https://casino.example/login?token=x"}}
	aff := &fakeAffiliate{ok: true}
	stub := &stubProvider{notification: payerNotification(), secret: "pw"}
	bridge := newTestBridge(store, identity, aff, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionProceed {
		t.Errorf("decision = %q, want proceed", stub.lastDecision)
	}

	if identity.lastReq.Password != "pw" {
		t.Errorf("identity Password = %q, want the recovered secret", identity.lastReq.Password)
	}
	if identity.lastReq.Origin != "https://casino.example" {
		t.Errorf("identity Origin = %q, want the session request origin", identity.lastReq.Origin)
	}
	if identity.lastReq.Email != "payer@example.com" {
		t.Errorf("identity Email = %q, want the session email", identity.lastReq.Email)
	}

	if aff.lastReq.TransactionKey != "stub_uuid" || aff.lastReq.TransactionValue != "m1:order-9" {
		t.Errorf("affiliate transaction = %q=%q, want the notification's pair", aff.lastReq.TransactionKey, aff.lastReq.TransactionValue)
	}
	if aff.lastReq.UserID != "42" {
		t.Errorf("affiliate UserID = %q, want the confirmed user id", aff.lastReq.UserID)
	}

	if store.updated["m1"] != "https://casino.example/login?token=x" {
		t.Errorf("stored SuccessLoginURL = %q", store.updated["m1"])
	}
}

func TestBridgeService_HandleNotification_SecretRecoveryFailure(t *testing.T) {
	store := newFakeSessionStore()
	seedSession(store)
	identity := &fakeIdentity{}
	stub := &stubProvider{notification: payerNotification(), secretErr: ErrDecode}
	bridge := newTestBridge(store, identity, &fakeAffiliate{}, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel", stub.lastDecision)
	}
	if identity.calls != 0 {
		t.Error("identity verifier was called without a recoverable secret")
	}
}

func TestBridgeService_HandleNotification_IdentityRejected(t *testing.T) {
	store := newFakeSessionStore()
	seedSession(store)
	identity := &fakeIdentity{result: &IdentityResult{Exists: false}}
	aff := &fakeAffiliate{}
	stub := &stubProvider{notification: payerNotification(), secret: "pw"}
	bridge := newTestBridge(store, identity, aff, stub)
	bridge.SetDeleteOnReject(true)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel", stub.lastDecision)
	}
	if aff.calls != 0 {
		t.Error("affiliate was activated for an unconfirmed identity")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "m1" {
		t.Errorf("deleted sessions = %v, want [m1]", store.deleted)
	}
}

func TestBridgeService_HandleNotification_AffiliateDeclined(t *testing.T) {
	store := newFakeSessionStore()
	seedSession(store)
	identity := &fakeIdentity{result: &IdentityResult{Exists: true, UserID: "42", SuccessLoginURL: "https://x/login"}}
	aff := &fakeAffiliate{ok: false}
	stub := &stubProvider{notification: payerNotification(), secret: "pw"}
	bridge := newTestBridge(store, identity, aff, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel", stub.lastDecision)
	}
	if len(store.updated) != 0 {
		t.Error("SuccessLoginURL was stored for a declined activation")
	}
}

func TestBridgeService_HandleNotification_IdentityPanic(t *testing.T) {
	store := newFakeSessionStore()
	seedSession(store)
	identity := &fakeIdentity{panics: true}
	stub := &stubProvider{notification: payerNotification(), secret: "pw"}
	bridge := newTestBridge(store, identity, &fakeAffiliate{}, stub)

	reply, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}"))
	if err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if reply == nil {
		t.Fatal("HandleNotification() returned no reply after a panic")
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel", stub.lastDecision)
	}
	if stub.replyCount != 1 {
		t.Errorf("reply built %d times, want exactly once", stub.replyCount)
	}
}

func TestBridgeService_HandleNotification_UpdateFailure(t *testing.T) {
	store := newFakeSessionStore()
	seedSession(store)
	store.updateErr = errors.New("disk full")
	identity := &fakeIdentity{result: &IdentityResult{Exists: true, UserID: "42", SuccessLoginURL: "https://x/login"}}
	stub := &stubProvider{notification: payerNotification(), secret: "pw"}
	bridge := newTestBridge(store, identity, &fakeAffiliate{ok: true}, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte("{}")); err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if stub.lastDecision != DecisionCancel {
		t.Errorf("decision = %q, want cancel when the login URL cannot be stored", stub.lastDecision)
	}
}

func TestBridgeService_HandleNotification_Passthrough(t *testing.T) {
	var received string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"upstream":"ok"}`))
	}))
	defer upstream.Close()

	raw := `{"method":"account","params":{}}`
	stub := &stubProvider{
		notification: &Notification{Kind: KindOther, Type: "account", Raw: []byte(raw)},
		gatewayURL:   upstream.URL,
	}
	bridge := newTestBridge(newFakeSessionStore(), &fakeIdentity{}, &fakeAffiliate{}, stub)

	reply, err := bridge.HandleNotification(context.Background(), "stub", []byte(raw))
	if err != nil {
		t.Fatalf("HandleNotification() error = %v", err)
	}
	if received != raw {
		t.Errorf("upstream received %q, want the raw envelope", received)
	}
	if !strings.Contains(string(reply.Body), "upstream") {
		t.Errorf("reply body = %q, want the upstream response", reply.Body)
	}
	if stub.replyCount != 0 {
		t.Error("a provider reply was built for a passthrough envelope")
	}
}

func TestBridgeService_HandleNotification_PassthroughNoGateway(t *testing.T) {
	stub := &stubProvider{
		notification: &Notification{Kind: KindOther, Raw: []byte(`{}`)},
	}
	bridge := newTestBridge(newFakeSessionStore(), &fakeIdentity{}, &fakeAffiliate{}, stub)

	if _, err := bridge.HandleNotification(context.Background(), "stub", []byte(`{}`)); err == nil {
		t.Error("HandleNotification() succeeded without a passthrough gateway, want error")
	}
}

func TestBridgeService_AddProvider_Unregistered(t *testing.T) {
	bridge := NewBridgeService(newFakeSessionStore(), &fakeIdentity{}, &fakeAffiliate{})

	if err := bridge.AddProvider("never-registered", map[string]string{}); err == nil {
		t.Error("AddProvider() for an unregistered provider succeeded, want error")
	}
}
