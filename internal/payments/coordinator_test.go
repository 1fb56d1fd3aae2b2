package payments_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
	"github.com/odyssey-erp/scaffold-erp/internal/payments"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/lock"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
	"github.com/odyssey-erp/scaffold-erp/internal/testing/memstore"
)

type recorder struct {
	mu     sync.Mutex
	scopes []string
}

func (r *recorder) ScheduleRecompute(ctx context.Context, scopeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scopeID)
	return nil
}

type harness struct {
	coord     *payments.Coordinator
	dunning   *dunning.Service
	invoices  *memstore.Invoices
	notices   *memstore.Notices
	ledger    *memstore.Ledger
	scheduler *recorder
}

func newHarness(t *testing.T, locker lock.Locker) harness {
	t.Helper()
	h := harness{
		invoices:  memstore.NewInvoices(),
		notices:   memstore.NewNotices(),
		ledger:    memstore.NewLedger(),
		scheduler: &recorder{},
	}
	h.dunning = dunning.NewService(h.notices, h.invoices, memstore.DefaultSettings(), nil, nil, nil)
	ledgerSvc := ledger.NewService(h.ledger, ledger.NewEngine(h.ledger, locker, nil, nil), h.scheduler, nil, nil)
	h.coord = payments.NewCoordinator(h.invoices, h.dunning, ledgerSvc, locker, nil, nil)

	due := time.Now().AddDate(0, 0, -20)
	h.invoices.Put(invoices.Invoice{
		ID:           "inv-1",
		Number:       "RE-2026-0100",
		CustomerID:   "cust-1",
		CustomerName: "Bau GmbH",
		ProjectID:    "proj-1",
		ScopeID:      "site-1",
		Gross:        decimal.RequireFromString("1190.00"),
		Net:          decimal.RequireFromString("1000.00"),
		Tax:          decimal.RequireFromString("190.00"),
		PaidAmount:   decimal.Zero,
		Status:       invoices.StatusOpen,
		IssuedAt:     time.Now().AddDate(0, 0, -34),
		DueAt:        &due,
	})
	return h
}

func (h harness) sendNotice(t *testing.T, ctx context.Context) dunning.Notice {
	t.Helper()
	n, err := h.dunning.CreateFirstNotice(ctx, "inv-1", 1, dunning.Overrides{})
	require.NoError(t, err)
	_, err = h.dunning.Approve(ctx, n.ID)
	require.NoError(t, err)
	n, err = h.dunning.Send(ctx, n.ID, dunning.SendInput{Channel: dunning.ChannelPDFDownload})
	require.NoError(t, err)
	return n
}

func (h harness) bookedIncome() []ledger.Entry {
	var out []ledger.Entry
	for _, e := range h.ledger.Entries() {
		if e.Source == ledger.SourceInvoiceAuto && e.Status == ledger.EntryBooked {
			out = append(out, e)
		}
	}
	return out
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func paid() payments.StatusChange {
	return payments.StatusChange{Status: invoices.StatusPaid}
}

func TestSetStatusPaidRunsCascade(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	notice := h.sendNotice(t, ctx)

	inv, err := h.coord.SetStatus(ctx, "inv-1", paid())
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, inv.Status)
	requireMoney(t, "1190.00", inv.PaidAmount)
	require.NotNil(t, inv.PaidAt)
	require.NotEmpty(t, inv.IncomeEntryID)
	require.True(t, inv.AutoIncomeCreated)

	settled, err := h.dunning.Get(ctx, notice.ID)
	require.NoError(t, err)
	require.Equal(t, dunning.StatusSettled, settled.Status)
	require.Equal(t, dunning.ActionSettled, settled.Chronik[len(settled.Chronik)-1].Action)
	require.Contains(t, settled.Chronik[len(settled.Chronik)-1].Details, "RE-2026-0100")

	income := h.bookedIncome()
	require.Len(t, income, 1)
	require.Equal(t, inv.IncomeEntryID, income[0].ID)
	requireMoney(t, "1190.00", income[0].Amount)
	requireMoney(t, "1000.00", income[0].NetAmount)
	requireMoney(t, "190.00", income[0].Tax)
	require.Equal(t, ledger.InvoiceSettlementCategory, income[0].CategoryName)
	require.Equal(t, "site-1", income[0].ScopeID)

	totals := h.invoices.ProjectTotals("proj-1")
	requireMoney(t, "0", totals.OpenBalance)
	requireMoney(t, "1190.00", totals.Billed)
}

func TestSetStatusPaidIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	notice := h.sendNotice(t, ctx)

	first, err := h.coord.SetStatus(ctx, "inv-1", paid())
	require.NoError(t, err)
	afterFirst, err := h.dunning.Get(ctx, notice.ID)
	require.NoError(t, err)

	second, err := h.coord.SetStatus(ctx, "inv-1", paid())
	require.NoError(t, err)
	require.Equal(t, first.IncomeEntryID, second.IncomeEntryID)
	require.Len(t, h.bookedIncome(), 1)

	afterSecond, err := h.dunning.Get(ctx, notice.ID)
	require.NoError(t, err)
	require.Len(t, afterSecond.Chronik, len(afterFirst.Chronik))
}

func TestReopeningPaidInvoiceCancelsIncome(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	notice := h.sendNotice(t, ctx)

	paidInv, err := h.coord.SetStatus(ctx, "inv-1", paid())
	require.NoError(t, err)

	reopened, err := h.coord.SetStatus(ctx, "inv-1", payments.StatusChange{Status: invoices.StatusOpen, Note: "Rücklastschrift"})
	require.NoError(t, err)
	require.Equal(t, invoices.StatusOpen, reopened.Status)
	require.Nil(t, reopened.PaidAt)
	requireMoney(t, "0", reopened.PaidAmount)
	require.Empty(t, reopened.PaymentNote)
	require.Empty(t, reopened.IncomeEntryID)
	require.False(t, reopened.AutoIncomeCreated)

	entry, err := h.ledger.GetEntry(ctx, paidInv.IncomeEntryID)
	require.NoError(t, err)
	require.Equal(t, ledger.EntryCancelled, entry.Status)
	require.Contains(t, entry.Note, "open")
	require.Empty(t, h.bookedIncome())

	stillSettled, err := h.dunning.Get(ctx, notice.ID)
	require.NoError(t, err)
	require.Equal(t, dunning.StatusSettled, stillSettled.Status, "settled notices are not reactivated")

	requireMoney(t, "1190.00", h.invoices.ProjectTotals("proj-1").OpenBalance)

	repaid, err := h.coord.SetStatus(ctx, "inv-1", paid())
	require.NoError(t, err)
	require.NotEqual(t, paidInv.IncomeEntryID, repaid.IncomeEntryID)
	require.Len(t, h.bookedIncome(), 1)
}

func TestPartialPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	inv, err := h.coord.SetStatus(ctx, "inv-1", payments.StatusChange{Status: invoices.StatusPartiallyPaid})
	require.NoError(t, err)
	requireMoney(t, "0", inv.PaidAmount)

	amount := decimal.RequireFromString("500.00")
	inv, err = h.coord.SetStatus(ctx, "inv-1", payments.StatusChange{Status: invoices.StatusPartiallyPaid, PaidAmount: &amount, Note: "Abschlag"})
	require.NoError(t, err)
	requireMoney(t, "500.00", inv.PaidAmount)
	require.Equal(t, "Abschlag", inv.PaymentNote)
	require.Nil(t, inv.PaidAt)
	require.Empty(t, h.bookedIncome())
	requireMoney(t, "690.00", h.invoices.ProjectTotals("proj-1").OpenBalance)
}

func TestSetStatusWithExplicitPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	paidAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("1100.00")

	inv, err := h.coord.SetStatus(ctx, "inv-1", payments.StatusChange{Status: invoices.StatusPaid, PaidAt: &paidAt, PaidAmount: &amount})
	require.NoError(t, err)
	require.True(t, paidAt.Equal(*inv.PaidAt))
	requireMoney(t, "1100.00", inv.PaidAmount)

	income := h.bookedIncome()
	require.Len(t, income, 1)
	requireMoney(t, "1190.00", income[0].Amount)
	require.True(t, paidAt.Equal(income[0].BookedAt))
}

func TestSetStatusValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.coord.SetStatus(ctx, "inv-1", payments.StatusChange{Status: invoices.StatusDraft})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = h.coord.SetStatus(ctx, "missing", paid())
	require.ErrorIs(t, err, shared.ErrNotFound)

	negative := decimal.RequireFromString("-1")
	_, err = h.coord.SetStatus(ctx, "inv-1", payments.StatusChange{Status: invoices.StatusPartiallyPaid, PaidAmount: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPaymentUpdatesBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.ledger.CreateSnapshot(ctx, ledger.Snapshot{
		ID:      "base",
		ScopeID: "site-1",
		Amount:  decimal.RequireFromString("1000"),
		Type:    ledger.SnapshotManual,
		TakenAt: time.Now().Add(-48 * time.Hour),
	}))

	_, err := h.coord.SetStatus(ctx, "inv-1", paid())
	require.NoError(t, err)
	autos := h.ledger.AutomaticSnapshots("site-1")
	require.Len(t, autos, 1)
	requireMoney(t, "2190", autos[0].Amount)

	_, err = h.coord.SetStatus(ctx, "inv-1", payments.StatusChange{Status: invoices.StatusOpen})
	require.NoError(t, err)
	autos = h.ledger.AutomaticSnapshots("site-1")
	require.Len(t, autos, 1)
	requireMoney(t, "1000", autos[0].Amount)
}

func TestRecomputeFailureDoesNotFailStatusChange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.ledger.FailRecompute = errors.New("deadlock detected")

	inv, err := h.coord.SetStatus(ctx, "inv-1", paid())
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, inv.Status)
	require.Len(t, h.bookedIncome(), 1)
	require.Equal(t, []string{"site-1"}, h.scheduler.scopes)
}

func TestConcurrentPaymentsBookOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newHarness(t, lock.NewRedisLocker(rdb, time.Second, nil))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.SetStatus(context.Background(), "inv-1", paid())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, h.bookedIncome(), 1)
}
