package webhook

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sadaqah/internal/domain"
	stripeprovider "sadaqah/internal/provider/stripe"
	kyderrors "sadaqah/pkg/errors"
	"sadaqah/pkg/logger"
)

const secret = "whsec_processor_test"

// --- Mocks and fakes ---

type MockAccountUpdater struct {
	mock.Mock
}

func (m *MockAccountUpdater) ApplyAccountUpdate(ctx context.Context, snap *domain.AccountSnapshot) (bool, error) {
	args := m.Called(ctx, snap)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountUpdater) FetchAccount(ctx context.Context, accountID string) (*domain.AccountSnapshot, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AccountSnapshot), args.Error(1)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) PublishDonationSucceeded(ctx context.Context, d domain.DonationSucceeded) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

type memLedger struct {
	mu      sync.Mutex
	byID    map[string]*domain.DonationSucceeded
	failErr error
	calls   int
}

func newMemLedger() *memLedger {
	return &memLedger{byID: map[string]*domain.DonationSucceeded{}}
}

func (l *memLedger) Record(_ context.Context, d *domain.DonationSucceeded) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failErr != nil {
		return false, l.failErr
	}
	if _, ok := l.byID[d.ProviderIntentID]; ok {
		return false, nil
	}
	l.byID[d.ProviderIntentID] = d
	return true, nil
}

type memEventLog struct {
	mu   sync.Mutex
	seen map[string]string
	// forget makes Seen always report false, as if the log were lost.
	forget bool
}

func newMemEventLog() *memEventLog {
	return &memEventLog{seen: map[string]string{}}
}

func (e *memEventLog) Seen(_ context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.forget {
		return false, nil
	}
	_, ok := e.seen[id]
	return ok, nil
}

func (e *memEventLog) MarkProcessed(_ context.Context, id, typ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen[id] = typ
	return nil
}

type memGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemGuard() *memGuard { return &memGuard{keys: map[string]bool{}} }

func (g *memGuard) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[key] {
		return false, nil
	}
	g.keys[key] = true
	return true, nil
}

func (g *memGuard) Delete(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.keys, key)
	return nil
}

// --- Helpers ---

type fixture struct {
	proc     *Processor
	accounts *MockAccountUpdater
	ledger   *memLedger
	events   *memEventLog
	guard    *memGuard
	sink     *MockSink
}

func newFixture(t *testing.T, withGuard bool) *fixture {
	t.Helper()
	f := &fixture{
		accounts: new(MockAccountUpdater),
		ledger:   newMemLedger(),
		events:   newMemEventLog(),
		sink:     new(MockSink),
	}
	opts := Options{Sink: f.sink}
	if withGuard {
		f.guard = newMemGuard()
		opts.Guard = f.guard
	}
	f.proc = NewProcessor(stripeprovider.NewCodec(secret), f.accounts, f.ledger, f.events, opts, logger.NewNop())
	return f
}

func signed(t *testing.T, payload []byte) string {
	t.Helper()
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func intentEvent(eventID, intentID string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": "payment_intent.succeeded",
  "created": 1700000000,
  "data": {"object": {
    "id": %q,
    "object": "payment_intent",
    "amount": 1043,
    "currency": "eur",
    "metadata": {"recipient_id": "grande-mosquee", "net_amount": "10.00", "cover_fees": "true", "fee_amount": "0.43"}
  }}
}`, eventID, intentID))
}

func checkoutEvent(eventID, intentID, paymentStatus string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": "checkout.session.completed",
  "created": 1700000100,
  "data": {"object": {
    "id": "cs_1",
    "object": "checkout.session",
    "payment_intent": %q,
    "payment_status": %q,
    "amount_total": 1043,
    "currency": "eur",
    "metadata": {"recipient_id": "grande-mosquee", "net_amount": "10.00", "cover_fees": "true"}
  }}
}`, eventID, intentID, paymentStatus))
}

var accountEvent = []byte(`{
  "id": "evt_acct_1",
  "object": "event",
  "type": "account.updated",
  "created": 1700000200,
  "data": {"object": {
    "id": "acct_1",
    "object": "account",
    "details_submitted": true,
    "capabilities": {"card_payments": "active", "transfers": "active"}
  }}
}`)

// --- Tests ---

func TestProcess_PaymentIntentSucceededRecordsDonation(t *testing.T) {
	f := newFixture(t, false)
	f.sink.On("PublishDonationSucceeded", mock.Anything, mock.MatchedBy(func(d domain.DonationSucceeded) bool {
		return d.ProviderIntentID == "pi_1" &&
			d.RecipientID == "grande-mosquee" &&
			d.NetAmount.StringFixed(2) == "10.00" &&
			d.GrossAmount.StringFixed(2) == "10.43" &&
			d.CoverFees &&
			d.Source == domain.SourcePaymentIntent
	})).Return(nil).Once()
	payload := intentEvent("evt_1", "pi_1")

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, res.Handled)
	f.sink.AssertExpectations(t)
}

func TestProcess_ReplayProducesOneSideEffect(t *testing.T) {
	for _, withGuard := range []bool{false, true} {
		t.Run(fmt.Sprintf("guard=%v", withGuard), func(t *testing.T) {
			f := newFixture(t, withGuard)
			f.sink.On("PublishDonationSucceeded", mock.Anything, mock.Anything).Return(nil)
			payload := intentEvent("evt_1", "pi_1")
			header := signed(t, payload)

			first, err := f.proc.Process(context.Background(), payload, header)
			require.NoError(t, err)
			second, err := f.proc.Process(context.Background(), payload, header)
			require.NoError(t, err)

			assert.True(t, first.Handled)
			assert.True(t, second.Duplicate)
			f.sink.AssertNumberOfCalls(t, "PublishDonationSucceeded", 1)
			assert.Len(t, f.ledger.byID, 1)
		})
	}
}

func TestProcess_ReplayWithoutEventLogStillDedupedByIntent(t *testing.T) {
	f := newFixture(t, false)
	f.events.forget = true
	f.sink.On("PublishDonationSucceeded", mock.Anything, mock.Anything).Return(nil)
	payload := intentEvent("evt_1", "pi_1")

	_, err := f.proc.Process(context.Background(), payload, signed(t, payload))
	require.NoError(t, err)
	_, err = f.proc.Process(context.Background(), payload, signed(t, payload))
	require.NoError(t, err)

	assert.Equal(t, 2, f.ledger.calls)
	f.sink.AssertNumberOfCalls(t, "PublishDonationSucceeded", 1)
}

func TestProcess_CheckoutAndIntentDeduplicated(t *testing.T) {
	f := newFixture(t, true)
	f.sink.On("PublishDonationSucceeded", mock.Anything, mock.Anything).Return(nil)
	intent := intentEvent("evt_pi", "pi_77")
	checkout := checkoutEvent("evt_cs", "pi_77", "paid")

	_, err := f.proc.Process(context.Background(), checkout, signed(t, checkout))
	require.NoError(t, err)
	_, err = f.proc.Process(context.Background(), intent, signed(t, intent))
	require.NoError(t, err)

	f.sink.AssertNumberOfCalls(t, "PublishDonationSucceeded", 1)
	require.Contains(t, f.ledger.byID, "pi_77")
	assert.Equal(t, domain.SourceCheckoutSession, f.ledger.byID["pi_77"].Source)
}

func TestProcess_UnpaidCheckoutNotReconciled(t *testing.T) {
	f := newFixture(t, false)
	payload := checkoutEvent("evt_cs", "pi_8", "unpaid")

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Empty(t, f.ledger.byID)
	f.sink.AssertNotCalled(t, "PublishDonationSucceeded", mock.Anything, mock.Anything)
}

func TestProcess_TamperedBodyRejectedBeforeDispatch(t *testing.T) {
	f := newFixture(t, true)
	payload := intentEvent("evt_1", "pi_1")
	header := signed(t, payload)
	tampered := intentEvent("evt_1", "pi_attacker")

	res, err := f.proc.Process(context.Background(), tampered, header)

	assert.Nil(t, res)
	assert.ErrorIs(t, err, kyderrors.ErrSignatureInvalid)
	assert.Equal(t, 0, f.ledger.calls)
	assert.Empty(t, f.guard.keys)
	assert.Empty(t, f.events.seen)
	f.sink.AssertNotCalled(t, "PublishDonationSucceeded", mock.Anything, mock.Anything)
	f.accounts.AssertNotCalled(t, "ApplyAccountUpdate", mock.Anything, mock.Anything)
}

func TestProcess_TamperedAccountEventChangesNothing(t *testing.T) {
	f := newFixture(t, false)
	header := signed(t, accountEvent)
	tampered := []byte(string(accountEvent) + "\n")

	_, err := f.proc.Process(context.Background(), tampered, header)

	assert.ErrorIs(t, err, kyderrors.ErrSignatureInvalid)
	f.accounts.AssertNotCalled(t, "ApplyAccountUpdate", mock.Anything, mock.Anything)
}

func TestProcess_MissingSecretRejectsAll(t *testing.T) {
	ledger := newMemLedger()
	proc := NewProcessor(stripeprovider.NewCodec(""), new(MockAccountUpdater), ledger, newMemEventLog(), Options{}, logger.NewNop())
	payload := intentEvent("evt_1", "pi_1")

	_, err := proc.Process(context.Background(), payload, signed(t, payload))

	assert.ErrorIs(t, err, kyderrors.ErrSignatureInvalid)
	assert.Equal(t, 0, ledger.calls)
}

func TestProcess_MalformedSignedPayload(t *testing.T) {
	f := newFixture(t, false)
	payload := []byte(`not json`)

	_, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	assert.ErrorIs(t, err, kyderrors.ErrMalformedEvent)
}

func TestProcess_UnknownTypeAcknowledged(t *testing.T) {
	f := newFixture(t, false)
	payload := []byte(`{"id":"evt_x","object":"event","type":"payout.paid","created":1700000000,"data":{"object":{"id":"po_1"}}}`)

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, res.Unrecognized)
	assert.False(t, res.Handled)
}

func TestProcess_InvoiceLoggedOnly(t *testing.T) {
	f := newFixture(t, false)
	payload := []byte(`{"id":"evt_inv","object":"event","type":"invoice.payment_succeeded","created":1700000000,"data":{"object":{"id":"in_1","object":"invoice","amount_paid":2900}}}`)

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, 0, f.ledger.calls)
}

func TestProcess_AccountUpdated(t *testing.T) {
	f := newFixture(t, false)
	f.accounts.On("ApplyAccountUpdate", mock.Anything, mock.MatchedBy(func(s *domain.AccountSnapshot) bool {
		return s.AccountID == "acct_1" &&
			s.Capabilities.Active("card_payments", "transfers") &&
			s.ObservedAt.Unix() == 1700000200
	})).Return(true, nil).Once()

	res, err := f.proc.Process(context.Background(), accountEvent, signed(t, accountEvent))

	require.NoError(t, err)
	assert.True(t, res.Handled)
	f.accounts.AssertExpectations(t)
}

func TestProcess_ThinCapabilityEventFetchesAccount(t *testing.T) {
	f := newFixture(t, false)
	snap := &domain.AccountSnapshot{AccountID: "acct_42", Capabilities: domain.Capabilities{"card_payments": "active", "transfers": "active"}}
	f.accounts.On("FetchAccount", mock.Anything, "acct_42").Return(snap, nil).Once()
	f.accounts.On("ApplyAccountUpdate", mock.Anything, snap).Return(true, nil).Once()
	payload := []byte(`{
  "id": "evt_thin",
  "object": "v2.core.event",
  "type": "v2.core.account[configuration.merchant].capability_status_updated",
  "created": "2025-01-02T03:04:05.000Z",
  "related_object": {"id": "acct_42", "type": "v2.core.account"}
}`)

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, res.Handled)
	f.accounts.AssertExpectations(t)
}

func TestProcess_HandlerFailureStillAcknowledged(t *testing.T) {
	f := newFixture(t, true)
	f.ledger.failErr = errors.New("database unavailable")
	payload := intentEvent("evt_1", "pi_1")

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.False(t, res.Handled)
	assert.Contains(t, res.HandlerError, "database unavailable")
	assert.Empty(t, f.guard.keys)
	assert.Empty(t, f.events.seen)
}

func TestProcess_ManualReplayAfterHandlerFailure(t *testing.T) {
	f := newFixture(t, true)
	f.sink.On("PublishDonationSucceeded", mock.Anything, mock.Anything).Return(nil)
	f.ledger.failErr = errors.New("database unavailable")
	payload := intentEvent("evt_1", "pi_1")

	first, err := f.proc.Process(context.Background(), payload, signed(t, payload))
	require.NoError(t, err)
	require.False(t, first.Handled)

	f.ledger.failErr = nil
	replay, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, replay.Handled)
	assert.False(t, replay.Duplicate)
	assert.Len(t, f.ledger.byID, 1)
	assert.Contains(t, f.events.seen, "evt_1")
}

func TestProcess_SinkFailureDoesNotFailDelivery(t *testing.T) {
	f := newFixture(t, false)
	f.sink.On("PublishDonationSucceeded", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	payload := intentEvent("evt_1", "pi_1")

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Empty(t, res.HandlerError)
	assert.Len(t, f.ledger.byID, 1)
}

func TestProcess_EventWithoutDonationMetadataIgnored(t *testing.T) {
	f := newFixture(t, false)
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.succeeded","created":1700000000,"data":{"object":{"id":"pi_other","object":"payment_intent","amount":500,"currency":"eur","metadata":{}}}}`)

	res, err := f.proc.Process(context.Background(), payload, signed(t, payload))

	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Equal(t, 0, f.ledger.calls)
}
