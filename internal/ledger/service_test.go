package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
	"github.com/odyssey-erp/scaffold-erp/internal/testing/memstore"
)

type recordingScheduler struct {
	mu     sync.Mutex
	scopes []string
}

func (s *recordingScheduler) ScheduleRecompute(ctx context.Context, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes = append(s.scopes, scopeID)
	return nil
}

func newService(repo *memstore.Ledger, scheduler ledger.RecomputeScheduler) *ledger.Service {
	engine := ledger.NewEngine(repo, nil, nil, nil)
	return ledger.NewService(repo, engine, scheduler, nil, nil)
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func requireAmount(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, amount(want).Equal(got), "want %d, got %s", want, got)
}

func TestRecomputeBalanceFromBaseline(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewLedger()
	svc := newService(repo, nil)
	base := time.Now().Add(-72 * time.Hour)

	_, err := svc.CreateManualSnapshot(ctx, ledger.SnapshotInput{Amount: amount(1000), TakenAt: base})
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, ledger.EntryInput{Kind: ledger.KindIncome, Amount: amount(300), BookedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	expense, err := svc.CreateEntry(ctx, ledger.EntryInput{Kind: ledger.KindExpense, Amount: amount(120), BookedAt: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	res, err := svc.RecomputeBalance(ctx, "")
	require.NoError(t, err)
	require.False(t, res.Skipped)
	requireAmount(t, 1180, res.Balance)
	requireAmount(t, 300, res.Income)
	requireAmount(t, 120, res.Expense)
	require.Equal(t, 2, res.Entries)

	autos := repo.AutomaticSnapshots("")
	require.Len(t, autos, 1, "recompute replaces earlier automatic snapshots")
	requireAmount(t, 1180, autos[0].Amount)
	require.True(t, autos[0].TakenAt.After(base))
	require.Contains(t, autos[0].Note, "1.000,00 €")

	_, err = svc.CancelEntry(ctx, expense.ID, "Fehlbuchung")
	require.NoError(t, err)

	autos = repo.AutomaticSnapshots("")
	require.Len(t, autos, 1)
	requireAmount(t, 1300, autos[0].Amount)
}

func TestRecomputeSkipsWithoutBaseline(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewLedger()
	svc := newService(repo, nil)

	_, err := svc.CreateEntry(ctx, ledger.EntryInput{Kind: ledger.KindIncome, Amount: amount(50)})
	require.NoError(t, err)

	res, err := svc.RecomputeBalance(ctx, "")
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Empty(t, repo.Snapshots())
}

func TestRecomputeIgnoresOlderCancelledAndForeignEntries(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewLedger()
	svc := newService(repo, nil)
	base := time.Now().Add(-24 * time.Hour)

	_, err := svc.CreateManualSnapshot(ctx, ledger.SnapshotInput{ScopeID: "a", Amount: amount(500), TakenAt: base})
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, ledger.EntryInput{ScopeID: "a", Kind: ledger.KindIncome, Amount: amount(70), BookedAt: base.Add(-time.Hour)})
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, ledger.EntryInput{ScopeID: "b", Kind: ledger.KindIncome, Amount: amount(80), BookedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	cancelled, err := svc.CreateEntry(ctx, ledger.EntryInput{ScopeID: "a", Kind: ledger.KindExpense, Amount: amount(40), BookedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = svc.CancelEntry(ctx, cancelled.ID, "")
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, ledger.EntryInput{ScopeID: "a", Kind: ledger.KindIncome, Amount: amount(10), BookedAt: base.Add(2 * time.Hour)})
	require.NoError(t, err)

	res, err := svc.RecomputeBalance(ctx, "a")
	require.NoError(t, err)
	requireAmount(t, 510, res.Balance)
	require.Equal(t, 1, res.Entries)

	_, err = svc.CancelEntry(ctx, cancelled.ID, "")
	require.NoError(t, err, "cancelling twice is a no-op")
}

func TestReconcileFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewLedger()
	repo.FailRecompute = errors.New("connection reset")
	scheduler := &recordingScheduler{}
	svc := newService(repo, scheduler)

	entry, err := svc.CreateEntry(ctx, ledger.EntryInput{ScopeID: "site-1", Kind: ledger.KindIncome, Amount: amount(25)})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)
	require.Equal(t, []string{"site-1"}, scheduler.scopes)

	_, err = svc.RecomputeBalance(ctx, "site-1")
	require.Error(t, err)
}

func TestCreateEntryValidation(t *testing.T) {
	svc := newService(memstore.NewLedger(), nil)
	_, err := svc.CreateEntry(context.Background(), ledger.EntryInput{Kind: "transfer", Amount: amount(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.CreateEntry(context.Background(), ledger.EntryInput{Kind: ledger.KindIncome, Amount: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateEntryRecomputes(t *testing.T) {
	ctx := context.Background()
	repo := memstore.NewLedger()
	svc := newService(repo, nil)
	base := time.Now().Add(-time.Hour)
	_, err := svc.CreateManualSnapshot(ctx, ledger.SnapshotInput{Amount: amount(100), TakenAt: base})
	require.NoError(t, err)
	e, err := svc.CreateEntry(ctx, ledger.EntryInput{Kind: ledger.KindIncome, Amount: amount(20), BookedAt: base.Add(time.Minute)})
	require.NoError(t, err)

	kind := ledger.KindExpense
	newAmount := amount(30)
	updated, err := svc.UpdateEntry(ctx, e.ID, ledger.EntryPatch{Kind: &kind, Amount: &newAmount})
	require.NoError(t, err)
	require.Equal(t, ledger.KindExpense, updated.Kind)

	autos := repo.AutomaticSnapshots("")
	require.Len(t, autos, 1)
	requireAmount(t, 70, autos[0].Amount)

	require.NoError(t, svc.DeleteEntry(ctx, e.ID))
	autos = repo.AutomaticSnapshots("")
	require.Len(t, autos, 1)
	requireAmount(t, 100, autos[0].Amount)
}

func TestBookInvoiceIncome(t *testing.T) {
	ctx := shared.ContextWithActor(context.Background(), "buchhaltung")
	repo := memstore.NewLedger()
	svc := newService(repo, nil)

	in := ledger.InvoiceIncome{
		EntryID:       "entry-1",
		InvoiceID:     "inv-1",
		InvoiceNumber: "RE-2026-0042",
		Gross:         decimal.RequireFromString("1190.00"),
		Net:           decimal.RequireFromString("1000.00"),
		Tax:           decimal.RequireFromString("190.00"),
	}
	entry, err := svc.BookInvoiceIncome(ctx, in)
	require.NoError(t, err)
	require.Equal(t, ledger.SourceInvoiceAuto, entry.Source)
	require.Equal(t, ledger.DefaultIncomeCategory.ID, entry.CategoryID)
	require.Equal(t, "buchhaltung", entry.CreatedBy)

	in.EntryID = "entry-2"
	_, err = svc.BookInvoiceIncome(ctx, in)
	require.ErrorIs(t, err, ledger.ErrDuplicateInvoiceIncome)
	require.ErrorIs(t, err, shared.ErrConflict)

	err = svc.DeleteEntry(ctx, entry.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	cancelled, changed, err := svc.CancelInvoiceIncome(ctx, entry.ID, "Rechnung wieder offen")
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, ledger.EntryCancelled, cancelled.Status)
	require.Contains(t, cancelled.Note, "Rechnung wieder offen")

	_, changed, err = svc.CancelInvoiceIncome(ctx, "missing", "")
	require.NoError(t, err)
	require.False(t, changed)

	_, err = svc.BookInvoiceIncome(ctx, in)
	require.NoError(t, err, "a cancelled entry does not block a new booking")
}

func TestIncomeCategoryLookup(t *testing.T) {
	repo := memstore.NewLedger()
	svc := newService(repo, nil)
	require.Equal(t, ledger.DefaultIncomeCategory, svc.IncomeCategoryForInvoices(context.Background()))

	cat := ledger.Category{ID: "cat-7", Name: ledger.InvoiceSettlementCategory, Kind: ledger.KindIncome}
	repo.AddCategory(cat)
	require.Equal(t, cat, svc.IncomeCategoryForInvoices(context.Background()))
}
