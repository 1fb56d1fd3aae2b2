package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/scaffold-erp/internal/ledger"
)

// Ledger is an in-memory ledger.Repository.
type Ledger struct {
	mu         sync.Mutex
	entries    map[string]ledger.Entry
	snapshots  []ledger.Snapshot
	categories []ledger.Category

	// FailRecompute makes every recomputation transaction fail with this error.
	FailRecompute error
}

var _ ledger.Repository = (*Ledger)(nil)

// NewLedger returns an empty store.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string]ledger.Entry)}
}

// AddCategory registers a finance category.
func (l *Ledger) AddCategory(c ledger.Category) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.categories = append(l.categories, c)
}

// Entries returns all entries ordered by booking time.
func (l *Ledger) Entries() []ledger.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookedAt.Before(out[j].BookedAt) })
	return out
}

// Snapshots returns all snapshots in insertion order.
func (l *Ledger) Snapshots() []ledger.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Snapshot(nil), l.snapshots...)
}

// AutomaticSnapshots returns the automatic snapshots of a scope.
func (l *Ledger) AutomaticSnapshots(scopeID string) []ledger.Snapshot {
	var out []ledger.Snapshot
	for _, s := range l.Snapshots() {
		if s.Type == ledger.SnapshotAutomatic && inScope(s.ScopeID, scopeID) {
			out = append(out, s)
		}
	}
	return out
}

func inScope(value, scope string) bool {
	return scope == "" || value == scope
}

func (l *Ledger) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	if l.FailRecompute != nil {
		return l.FailRecompute
	}
	return fn(ctx, ledgerTx{l: l})
}

func (l *Ledger) duplicateIncome(e ledger.Entry) bool {
	if e.Source != ledger.SourceInvoiceAuto || e.Status != ledger.EntryBooked {
		return false
	}
	for id, other := range l.entries {
		if id != e.ID && other.InvoiceID == e.InvoiceID && other.Source == ledger.SourceInvoiceAuto && other.Status == ledger.EntryBooked {
			return true
		}
	}
	return false
}

func (l *Ledger) CreateEntry(ctx context.Context, e ledger.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.duplicateIncome(e) {
		return ledger.ErrDuplicateInvoiceIncome
	}
	l.entries[e.ID] = e
	return nil
}

func (l *Ledger) GetEntry(ctx context.Context, id string) (ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (l *Ledger) UpdateEntry(ctx context.Context, e ledger.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[e.ID]; !ok {
		return ledger.ErrEntryNotFound
	}
	if l.duplicateIncome(e) {
		return ledger.ErrDuplicateInvoiceIncome
	}
	l.entries[e.ID] = e
	return nil
}

func (l *Ledger) DeleteEntry(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[id]; !ok {
		return ledger.ErrEntryNotFound
	}
	delete(l.entries, id)
	return nil
}

func (l *Ledger) ListEntries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range l.Entries() {
		switch {
		case f.ScopeID != "" && e.ScopeID != f.ScopeID:
		case f.Kind != "" && e.Kind != f.Kind:
		case f.Status != "" && e.Status != f.Status:
		case f.InvoiceID != "" && e.InvoiceID != f.InvoiceID:
		case !f.From.IsZero() && e.BookedAt.Before(f.From):
		case !f.To.IsZero() && e.BookedAt.After(f.To):
		default:
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BookedAt.After(out[j].BookedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (l *Ledger) CreateSnapshot(ctx context.Context, s ledger.Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, s)
	return nil
}

func (l *Ledger) ListSnapshots(ctx context.Context, scopeID string, limit int) ([]ledger.Snapshot, error) {
	var out []ledger.Snapshot
	for _, s := range l.Snapshots() {
		if inScope(s.ScopeID, scopeID) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *Ledger) CategoryByName(ctx context.Context, kind ledger.Kind, name string) (ledger.Category, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.categories {
		if c.Kind == kind && c.Name == name {
			return c, nil
		}
	}
	return ledger.Category{}, ledger.ErrCategoryNotFound
}

type ledgerTx struct {
	l *Ledger
}

func (t ledgerTx) LatestManualSnapshot(ctx context.Context, scopeID string) (ledger.Snapshot, error) {
	var latest *ledger.Snapshot
	for _, s := range t.l.Snapshots() {
		if s.Type != ledger.SnapshotManual || !inScope(s.ScopeID, scopeID) {
			continue
		}
		if latest == nil || s.TakenAt.After(latest.TakenAt) {
			s := s
			latest = &s
		}
	}
	if latest == nil {
		return ledger.Snapshot{}, ledger.ErrNoBaseline
	}
	return *latest, nil
}

func (t ledgerTx) EntriesAfter(ctx context.Context, scopeID string, after time.Time) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range t.l.Entries() {
		if e.Status != ledger.EntryCancelled && e.BookedAt.After(after) && inScope(e.ScopeID, scopeID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t ledgerTx) DeleteAutomaticSnapshotsAfter(ctx context.Context, scopeID string, after time.Time) (int64, error) {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	kept := t.l.snapshots[:0]
	var deleted int64
	for _, s := range t.l.snapshots {
		if s.Type == ledger.SnapshotAutomatic && s.TakenAt.After(after) && inScope(s.ScopeID, scopeID) {
			deleted++
			continue
		}
		kept = append(kept, s)
	}
	t.l.snapshots = kept
	return deleted, nil
}

func (t ledgerTx) CreateSnapshot(ctx context.Context, s ledger.Snapshot) error {
	return t.l.CreateSnapshot(ctx, s)
}
