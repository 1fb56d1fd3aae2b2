// Package memstore provides in-memory repositories for service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
)

type customer struct {
	allowed   bool
	reason    string
	blockedBy string
	email     string
}

// Invoices is an in-memory invoices.Repository.
type Invoices struct {
	mu        sync.Mutex
	invoices  map[string]invoices.Invoice
	customers map[string]customer
	overrides map[string]bool
	totals    map[string]invoices.ProjectTotals
}

var _ invoices.Repository = (*Invoices)(nil)

// NewInvoices returns an empty store.
func NewInvoices() *Invoices {
	return &Invoices{
		invoices:  make(map[string]invoices.Invoice),
		customers: make(map[string]customer),
		overrides: make(map[string]bool),
		totals:    make(map[string]invoices.ProjectTotals),
	}
}

// Put stores inv, registering its customer as dunning-allowed when unknown.
func (s *Invoices) Put(inv invoices.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = inv
	if _, ok := s.customers[inv.CustomerID]; !ok {
		s.customers[inv.CustomerID] = customer{allowed: true}
	}
}

// SetCustomerDunning sets the customer's dunning flag and block reason.
func (s *Invoices) SetCustomerDunning(customerID string, allowed bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.customers[customerID]
	c.allowed, c.reason = allowed, reason
	s.customers[customerID] = c
}

// SetCustomerEmail stores the customer's e-mail address.
func (s *Invoices) SetCustomerEmail(customerID, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		c.allowed = true
	}
	c.email = email
	s.customers[customerID] = c
}

// SetProjectOverride sets the project's dunning override.
func (s *Invoices) SetProjectOverride(projectID string, allowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[projectID] = allowed
}

// ProjectTotals returns the last stored aggregate of a project.
func (s *Invoices) ProjectTotals(projectID string) invoices.ProjectTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[projectID]
}

// CustomerBlockedBy reports who blocked the customer, empty when not blocked.
func (s *Invoices) CustomerBlockedBy(customerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[customerID].blockedBy
}

func (s *Invoices) Get(ctx context.Context, id string) (invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoices.Invoice{}, invoices.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *Invoices) ApplyPayment(ctx context.Context, id string, update invoices.PaymentUpdate) (invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoices.Invoice{}, invoices.ErrInvoiceNotFound
	}
	inv.Status = update.Status
	inv.PaidAt = update.PaidAt
	inv.PaidAmount = decimal.Zero
	if update.PaidAmount != nil {
		inv.PaidAmount = *update.PaidAmount
	}
	inv.PaymentNote = update.PaymentNote
	inv.UpdatedAt = time.Now()
	s.invoices[id] = inv
	return inv, nil
}

func (s *Invoices) SetDunningStage(ctx context.Context, id string, stage int, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return invoices.ErrInvoiceNotFound
	}
	inv.DunningStage = stage
	inv.LastDunningAt = at
	s.invoices[id] = inv
	return nil
}

func (s *Invoices) ClaimIncomeEntry(ctx context.Context, id, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok || inv.IncomeEntryID != "" {
		return false, nil
	}
	inv.IncomeEntryID = entryID
	inv.AutoIncomeCreated = true
	s.invoices[id] = inv
	return true, nil
}

func (s *Invoices) ReleaseIncomeEntry(ctx context.Context, id, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok || inv.IncomeEntryID != entryID {
		return nil
	}
	inv.IncomeEntryID = ""
	inv.AutoIncomeCreated = false
	s.invoices[id] = inv
	return nil
}

func (s *Invoices) ListByProject(ctx context.Context, projectID string) ([]invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoices.Invoice
	for _, inv := range s.invoices {
		if inv.ProjectID == projectID {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Invoices) ListOverdue(ctx context.Context, asOf time.Time) ([]invoices.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []invoices.Invoice
	for _, inv := range s.invoices {
		if inv.DueAt == nil || !inv.DueAt.Before(asOf) || inv.DunningStage >= 3 {
			continue
		}
		switch inv.Status {
		case invoices.StatusDraft, invoices.StatusSent, invoices.StatusOpen, invoices.StatusPartiallyPaid, invoices.StatusOverdue:
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return out, nil
}

func (s *Invoices) UpdateProjectTotals(ctx context.Context, projectID string, totals invoices.ProjectTotals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[projectID] = totals
	return nil
}

func (s *Invoices) Eligibility(ctx context.Context, customerID, projectID string) (invoices.Eligibility, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return invoices.Eligibility{}, invoices.ErrCustomerNotFound
	}
	return invoices.Eligibility{
		CustomerID:      customerID,
		DunningAllowed:  c.allowed,
		BlockReason:     c.reason,
		ProjectOverride: projectID != "" && s.overrides[projectID],
	}, nil
}

func (s *Invoices) BlockCustomerDunning(ctx context.Context, customerID, reason, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return invoices.ErrCustomerNotFound
	}
	c.allowed, c.reason, c.blockedBy = false, reason, actor
	s.customers[customerID] = c
	return nil
}

func (s *Invoices) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok {
		return "", invoices.ErrCustomerNotFound
	}
	return c.email, nil
}
