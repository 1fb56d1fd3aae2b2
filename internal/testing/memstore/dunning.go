package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/scaffold-erp/internal/dunning"
	"github.com/odyssey-erp/scaffold-erp/internal/settings"
)

// Notices is an in-memory dunning.Repository.
type Notices struct {
	mu       sync.Mutex
	notices  map[string]dunning.Notice
	counters map[int]int
}

var _ dunning.Repository = (*Notices)(nil)

// NewNotices returns an empty store.
func NewNotices() *Notices {
	return &Notices{notices: make(map[string]dunning.Notice), counters: make(map[int]int)}
}

// Count returns the number of stored notices.
func (s *Notices) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notices)
}

func clone(n dunning.Notice) dunning.Notice {
	n.Chronik = append([]dunning.ChronikEntry(nil), n.Chronik...)
	return n
}

func (s *Notices) Get(ctx context.Context, id string) (dunning.Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notices[id]
	if !ok {
		return dunning.Notice{}, dunning.ErrNoticeNotFound
	}
	return clone(n), nil
}

func (s *Notices) Create(ctx context.Context, n dunning.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices[n.ID] = clone(n)
	return nil
}

func (s *Notices) Save(ctx context.Context, n dunning.Notice, entries ...dunning.ChronikEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.notices[n.ID]
	if !ok {
		return dunning.ErrNoticeNotFound
	}
	n.Chronik = append(append([]dunning.ChronikEntry(nil), stored.Chronik...), entries...)
	n.ParentID = stored.ParentID
	n.ChildID = stored.ChildID
	n.Number = stored.Number
	s.notices[n.ID] = n
	return nil
}

func (s *Notices) LinkChild(ctx context.Context, parentID, childID string, entry dunning.ChronikEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.notices[parentID]
	if !ok || parent.ChildID != "" {
		return dunning.ErrChildExists
	}
	parent.ChildID = childID
	parent.Chronik = append(parent.Chronik, entry)
	s.notices[parentID] = parent
	return nil
}

func (s *Notices) UnlinkChild(ctx context.Context, parentID, childID string, entry dunning.ChronikEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.notices[parentID]
	if !ok || parent.ChildID != childID {
		return nil
	}
	parent.ChildID = ""
	parent.Chronik = append(parent.Chronik, entry)
	s.notices[parentID] = parent
	return nil
}

func (s *Notices) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notices[id]; !ok {
		return dunning.ErrNoticeNotFound
	}
	delete(s.notices, id)
	return nil
}

func (s *Notices) ListByInvoice(ctx context.Context, invoiceID string) ([]dunning.Notice, error) {
	return s.List(ctx, dunning.Filter{InvoiceID: invoiceID})
}

func (s *Notices) List(ctx context.Context, f dunning.Filter) ([]dunning.Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []dunning.Notice
	for _, n := range s.notices {
		switch {
		case f.Status != "" && n.Status != f.Status:
		case f.Stage > 0 && n.Stage != f.Stage:
		case f.CustomerID != "" && n.CustomerID != f.CustomerID:
		case f.ProjectID != "" && n.ProjectID != f.ProjectID:
		case f.InvoiceID != "" && n.InvoiceID != f.InvoiceID:
		case f.Approval != "" && n.Approval.Status != f.Approval:
		default:
			out = append(out, clone(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stage != out[j].Stage {
			return out[i].Stage < out[j].Stage
		}
		return out[i].Number < out[j].Number
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Notices) NextSequence(ctx context.Context, year int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[year]++
	return s.counters[year], nil
}

// Settings returns a fixed dunning configuration.
type Settings struct {
	Value settings.DunningSettings
}

// DefaultSettings serves the built-in defaults.
func DefaultSettings() *Settings {
	return &Settings{Value: settings.Defaults()}
}

func (s *Settings) Current(ctx context.Context) (settings.DunningSettings, error) {
	return s.Value, nil
}
