package dunning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/scaffold-erp/internal/invoices"
	"github.com/odyssey-erp/scaffold-erp/internal/observability"
	"github.com/odyssey-erp/scaffold-erp/internal/platform/lock"
	"github.com/odyssey-erp/scaffold-erp/internal/settings"
	"github.com/odyssey-erp/scaffold-erp/internal/shared"
)

// SettingsSource yields the dunning settings in force for one operation.
type SettingsSource interface {
	Current(ctx context.Context) (settings.DunningSettings, error)
}

// Delivery is an e-mail hand-off of a sent notice.
type Delivery struct {
	NoticeID  string `json:"notice_id"`
	Number    string `json:"number"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Notifier queues notice deliveries.
type Notifier interface {
	EnqueueDelivery(ctx context.Context, d Delivery) error
}

// Service runs the dunning notice lifecycle.
type Service struct {
	repo     Repository
	invoices invoices.Repository
	settings SettingsSource
	numberer *Numberer
	notifier Notifier
	locker   lock.Locker
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the dunning service. notifier may be nil.
func NewService(repo Repository, invoiceRepo invoices.Repository, source SettingsSource, notifier Notifier, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		invoices: invoiceRepo,
		settings: source,
		numberer: NewNumberer(repo),
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// WithLocker serialises notice creation per invoice with the same key that
// guards invoice status changes.
func (s *Service) WithLocker(locker lock.Locker) *Service {
	s.locker = locker
	return s
}

func chronik(ctx context.Context, action string, at time.Time, details string) ChronikEntry {
	return ChronikEntry{Action: action, Actor: shared.ActorFromContext(ctx), At: at, Details: details}
}

// Interest computes default interest: open × rate% × days / 365, rounded to cents.
func Interest(open, ratePercent decimal.Decimal, daysOverdue int) decimal.Decimal {
	if !ratePercent.IsPositive() || daysOverdue <= 0 || !open.IsPositive() {
		return decimal.Zero
	}
	return open.Mul(ratePercent).Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(daysOverdue))).
		Div(decimal.NewFromInt(365)).
		Round(2)
}

func openAmount(inv invoices.Invoice) decimal.Decimal {
	open := inv.Gross.Sub(inv.PaidAmount)
	if open.IsNegative() {
		return decimal.Zero
	}
	return open
}

func (s *Service) checkEligibility(ctx context.Context, inv invoices.Invoice) error {
	elig, err := s.invoices.Eligibility(ctx, inv.CustomerID, inv.ProjectID)
	if errors.Is(err, invoices.ErrCustomerNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !elig.Allowed() {
		return &shared.PermissionError{Op: "create dunning notice", Reason: elig.Reason()}
	}
	return nil
}

// CreateFirstNotice issues a notice for an invoice at the given stage.
func (s *Service) CreateFirstNotice(ctx context.Context, invoiceID string, stage int, ov Overrides) (Notice, error) {
	if !settings.ValidStage(stage) {
		return Notice{}, shared.Validationf("stage must be between 1 and %d", settings.MaxStage)
	}
	var n Notice
	err := lock.BestEffort(ctx, s.locker, s.logger, shared.InvoiceLockKey(invoiceID), func(ctx context.Context) error {
		var err error
		n, err = s.createFirstNotice(ctx, invoiceID, stage, ov)
		return err
	})
	if err != nil {
		return Notice{}, err
	}
	return n, nil
}

func (s *Service) createFirstNotice(ctx context.Context, invoiceID string, stage int, ov Overrides) (Notice, error) {
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return Notice{}, err
	}
	if inv.Status == invoices.StatusPaid || inv.Status == invoices.StatusCancelled {
		return Notice{}, shared.Conflictf("invoice %s is %s", inv.Number, inv.Status)
	}
	if err := s.checkEligibility(ctx, inv); err != nil {
		return Notice{}, err
	}
	existing, err := s.repo.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return Notice{}, err
	}
	for _, n := range existing {
		if !n.Status.Closed() && n.ChildID == "" {
			return Notice{}, shared.Conflictf("invoice %s already has open notice %s; create a follow-up instead", inv.Number, n.Number)
		}
	}
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return Notice{}, err
	}

	now := s.now()
	fee := cfg.FeeFor(stage)
	if ov.Fee != nil {
		fee = *ov.Fee
	}
	term := cfg.TermFor(stage)
	if ov.TermDays != nil && *ov.TermDays > 0 {
		term = *ov.TermDays
	}
	open := openAmount(inv)
	interest := Interest(open, cfg.InterestRate, inv.DaysOverdue(now))
	if ov.Interest != nil {
		interest = *ov.Interest
	}
	if fee.IsNegative() || interest.IsNegative() {
		return Notice{}, shared.Validationf("fee and interest must not be negative")
	}

	n := s.newNotice(ctx, inv, stage, now, term, open, fee, interest)
	previous := now
	if inv.LastDunningAt != nil {
		previous = *inv.LastDunningAt
	}
	n.Body = strings.TrimSpace(ov.Body)
	if n.Body == "" {
		if n.Body, err = RenderBody(stage, templateData(inv, n, previous), cfg.TextFor(stage)); err != nil {
			return Notice{}, err
		}
	}
	if n.Number, err = s.numberer.Next(ctx, now.Year()); err != nil {
		return Notice{}, err
	}
	entry := chronik(ctx, ActionCreated, now, fmt.Sprintf("Mahnung %s (Stufe %d) erstellt", n.Number, stage))
	entry.NewStatus = n.Status
	n.Chronik = []ChronikEntry{entry}
	if err := s.repo.Create(ctx, n); err != nil {
		return Notice{}, err
	}
	if err := s.invoices.SetDunningStage(ctx, inv.ID, stage, &now); err != nil {
		return Notice{}, fmt.Errorf("dunning: update invoice stage: %w", err)
	}
	s.metrics.NoticeCreated(stage)
	s.logger.Info("dunning notice created",
		slog.String("notice", n.Number), slog.String("invoice", inv.Number), slog.Int("stage", stage))
	return n, nil
}

func (s *Service) newNotice(ctx context.Context, inv invoices.Invoice, stage int, now time.Time, term int, open, fee, interest decimal.Decimal) Notice {
	n := Notice{
		ID:             uuid.NewString(),
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.Number,
		CustomerID:     inv.CustomerID,
		CustomerName:   inv.CustomerName,
		ProjectID:      inv.ProjectID,
		ScopeID:        inv.ScopeID,
		Stage:          stage,
		Status:         StatusPendingApproval,
		IssuedAt:       now,
		DueAt:          now.AddDate(0, 0, term),
		OriginalAmount: inv.Gross,
		OpenAmount:     open,
		Fee:            fee,
		Interest:       interest,
		BodyVersion:    1,
		Approval:       Approval{Status: ApprovalPending},
		CreatedBy:      shared.ActorFromContext(ctx),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	n.RecomputeTotal()
	return n
}

func templateData(inv invoices.Invoice, n Notice, previous time.Time) TemplateData {
	data := TemplateData{
		CustomerName:       inv.CustomerName,
		InvoiceNumber:      inv.Number,
		InvoiceDate:        inv.IssuedAt,
		OpenAmount:         n.OpenAmount,
		Fee:                n.Fee,
		Interest:           n.Interest,
		TotalClaim:         n.TotalClaim,
		PaymentDeadline:    n.DueAt,
		PreviousNoticeDate: previous,
	}
	if inv.DueAt != nil {
		data.InvoiceDueDate = *inv.DueAt
	}
	return data
}

// CreateFollowUpNotice escalates a sent notice to the next stage.
func (s *Service) CreateFollowUpNotice(ctx context.Context, parentID string) (Notice, error) {
	parent, err := s.repo.Get(ctx, parentID)
	if err != nil {
		return Notice{}, err
	}
	if parent.Status != StatusSent {
		return Notice{}, shared.Conflictf("notice %s must be sent before a follow-up can be created (status %s)", parent.Number, parent.Status)
	}
	if parent.Stage >= settings.MaxStage {
		return Notice{}, shared.Conflictf("notice %s is already at the final stage", parent.Number)
	}
	if parent.ChildID != "" {
		return Notice{}, shared.Conflictf("notice %s already has a follow-up", parent.Number)
	}
	inv, err := s.invoices.Get(ctx, parent.InvoiceID)
	if err != nil {
		return Notice{}, err
	}
	if inv.Status == invoices.StatusPaid {
		return Notice{}, shared.Conflictf("invoice %s is already paid", inv.Number)
	}
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return Notice{}, err
	}

	now := s.now()
	stage := parent.Stage + 1
	open := openAmount(inv)
	child := s.newNotice(ctx, inv, stage, now, cfg.TermFor(stage), open, cfg.FeeFor(stage),
		Interest(open, cfg.InterestRate, inv.DaysOverdue(now)))
	child.ParentID = parent.ID
	previous := parent.IssuedAt
	if parent.SentAt != nil {
		previous = *parent.SentAt
	}
	if child.Body, err = RenderBody(stage, templateData(inv, child, previous), cfg.TextFor(stage)); err != nil {
		return Notice{}, err
	}
	if child.Number, err = s.numberer.Next(ctx, now.Year()); err != nil {
		return Notice{}, err
	}
	created := chronik(ctx, ActionCreated, now, fmt.Sprintf("Folgemahnung zu %s (Stufe %d) erstellt", parent.Number, stage))
	created.NewStatus = child.Status
	created.LinkedNoticeID = parent.ID
	child.Chronik = []ChronikEntry{created}
	if err := s.repo.Create(ctx, child); err != nil {
		return Notice{}, err
	}

	linked := chronik(ctx, ActionFollowUpCreated, now, fmt.Sprintf("Folgemahnung %s erstellt", child.Number))
	linked.LinkedNoticeID = child.ID
	if err := s.repo.LinkChild(ctx, parent.ID, child.ID, linked); err != nil {
		if derr := s.repo.Delete(ctx, child.ID); derr != nil {
			s.logger.Error("roll back follow-up notice", slog.String("notice", child.ID), slog.Any("error", derr))
		}
		return Notice{}, err
	}
	if err := s.invoices.SetDunningStage(ctx, inv.ID, stage, &now); err != nil {
		return Notice{}, fmt.Errorf("dunning: update invoice stage: %w", err)
	}
	s.metrics.NoticeCreated(stage)
	s.logger.Info("dunning follow-up created",
		slog.String("notice", child.Number), slog.String("parent", parent.Number), slog.Int("stage", stage))
	return child, nil
}

// ownedTargets are statuses reached only through their dedicated operation.
var ownedTargets = map[Status]string{
	StatusApproved: "approval",
	StatusRejected: "rejection",
	StatusSent:     "sending",
	StatusSettled:  "payment",
}

// UpdateNotice applies an explicit patch and records one history entry.
func (s *Service) UpdateNotice(ctx context.Context, id string, patch NoticePatch) (Notice, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return Notice{}, err
	}
	if n.Status.Terminal() {
		return Notice{}, shared.Conflictf("notice %s is %s and can no longer be edited", n.Number, n.Status)
	}
	now := s.now()
	var changed []string
	if patch.Body != nil && *patch.Body != n.Body {
		n.Body = *patch.Body
		n.BodyVersion++
		changed = append(changed, "body")
	}
	if patch.Notes != nil && *patch.Notes != n.Notes {
		n.Notes = *patch.Notes
		changed = append(changed, "notes")
	}
	if patch.Fee != nil {
		if patch.Fee.IsNegative() {
			return Notice{}, shared.Validationf("fee must not be negative")
		}
		n.Fee = *patch.Fee
		changed = append(changed, "fee")
	}
	if patch.Interest != nil {
		if patch.Interest.IsNegative() {
			return Notice{}, shared.Validationf("interest must not be negative")
		}
		n.Interest = *patch.Interest
		changed = append(changed, "interest")
	}
	n.RecomputeTotal()

	entry := chronik(ctx, ActionEdited, now, "")
	if patch.Status != nil && *patch.Status != n.Status {
		next := *patch.Status
		if !next.Valid() {
			return Notice{}, shared.Validationf("unknown status %q", next)
		}
		if op, owned := ownedTargets[next]; owned {
			return Notice{}, shared.Validationf("status %s is set by %s, not by editing", next, op)
		}
		if !CanTransition(n.Status, next) {
			return Notice{}, shared.Conflictf("notice %s cannot move from %s to %s", n.Number, n.Status, next)
		}
		entry.OldStatus, entry.NewStatus = n.Status, next
		entry.Details = fmt.Sprintf("Status geändert von %s zu %s", n.Status, next)
		applyStatus(&n, next, now, shared.ActorFromContext(ctx))
	} else {
		if len(changed) == 0 {
			return n, nil
		}
		entry.Details = "Geändert: " + strings.Join(changed, ", ")
	}
	n.UpdatedAt = now
	if err := s.repo.Save(ctx, n, entry); err != nil {
		return Notice{}, err
	}
	n.Chronik = append(n.Chronik, entry)
	return n, nil
}

func applyStatus(n *Notice, next Status, now time.Time, actor string) {
	n.Status = next
	switch next {
	case StatusApproved:
		n.Approval = Approval{Status: ApprovalApproved, DecidedBy: actor, DecidedAt: &now}
	case StatusRejected:
		n.Approval = Approval{Status: ApprovalRejected, DecidedBy: actor, DecidedAt: &now, Reason: n.Approval.Reason}
	case StatusSent:
		n.SentAt = &now
	case StatusSettled:
		n.SettledAt = &now
	}
}

// DeleteNotice removes a notice that has not been sent.
func (s *Service) DeleteNotice(ctx context.Context, id string) error {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.Status == StatusSent || n.SentAt != nil {
		return shared.Conflictf("notice %s has been sent and cannot be deleted", n.Number)
	}
	if n.ChildID != "" {
		return shared.Conflictf("notice %s has a follow-up and cannot be deleted", n.Number)
	}
	if err := s.repo.Delete(ctx, n.ID); err != nil {
		return err
	}
	now := s.now()
	if n.ParentID != "" {
		entry := chronik(ctx, ActionChildDeleted, now, fmt.Sprintf("Folgemahnung %s gelöscht", n.Number))
		entry.LinkedNoticeID = n.ID
		if err := s.repo.UnlinkChild(ctx, n.ParentID, n.ID, entry); err != nil {
			return err
		}
	}
	if err := s.resetInvoiceStage(ctx, n.InvoiceID); err != nil {
		return err
	}
	s.logger.Info("dunning notice deleted", slog.String("notice", n.Number))
	return nil
}

// resetInvoiceStage points the invoice marker at the highest remaining notice.
func (s *Service) resetInvoiceStage(ctx context.Context, invoiceID string) error {
	remaining, err := s.repo.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	stage := 0
	var at *time.Time
	for _, r := range remaining {
		if r.Stage < stage {
			continue
		}
		stage = r.Stage
		issued := r.IssuedAt
		if r.SentAt != nil {
			issued = *r.SentAt
		}
		at = &issued
	}
	if err := s.invoices.SetDunningStage(ctx, invoiceID, stage, at); err != nil {
		return fmt.Errorf("dunning: reset invoice stage: %w", err)
	}
	return nil
}

func awaitingDecision(n Notice) bool {
	return (n.Status == StatusPendingApproval || n.Status == StatusCreated) && n.Approval.Status != ApprovalApproved && n.Approval.Status != ApprovalRejected
}

// Approve releases a pending notice for sending.
func (s *Service) Approve(ctx context.Context, id string) (Notice, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return Notice{}, err
	}
	if !awaitingDecision(n) {
		return Notice{}, shared.Conflictf("notice %s is not awaiting approval (status %s)", n.Number, n.Status)
	}
	now := s.now()
	entry := chronik(ctx, ActionApproved, now, "Mahnung genehmigt")
	entry.OldStatus, entry.NewStatus = n.Status, StatusApproved
	applyStatus(&n, StatusApproved, now, entry.Actor)
	n.UpdatedAt = now
	if err := s.repo.Save(ctx, n, entry); err != nil {
		return Notice{}, err
	}
	n.Chronik = append(n.Chronik, entry)
	return n, nil
}

// Reject declines a pending notice, optionally blocking the customer from further dunning.
func (s *Service) Reject(ctx context.Context, id, reason string, blockCustomer bool) (Notice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Notice{}, shared.Validationf("a reason is required to reject a notice")
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return Notice{}, err
	}
	if !awaitingDecision(n) {
		return Notice{}, shared.Conflictf("notice %s is not awaiting approval (status %s)", n.Number, n.Status)
	}
	now := s.now()
	entry := chronik(ctx, ActionRejected, now, "Mahnung abgelehnt: "+reason)
	entry.OldStatus, entry.NewStatus = n.Status, StatusRejected
	n.Approval.Reason = reason
	applyStatus(&n, StatusRejected, now, entry.Actor)
	n.UpdatedAt = now
	if err := s.repo.Save(ctx, n, entry); err != nil {
		return Notice{}, err
	}
	n.Chronik = append(n.Chronik, entry)
	if blockCustomer {
		if err := s.invoices.BlockCustomerDunning(ctx, n.CustomerID, reason, entry.Actor); err != nil {
			return Notice{}, fmt.Errorf("dunning: block customer: %w", err)
		}
		s.logger.Info("customer blocked for dunning", slog.String("customer", n.CustomerID), slog.String("notice", n.Number))
	}
	return n, nil
}

// Decide applies one approval decision.
func (s *Service) Decide(ctx context.Context, id string, in DecisionInput) (Notice, error) {
	switch in.Decision {
	case DecisionApprove:
		return s.Approve(ctx, id)
	case DecisionReject:
		return s.Reject(ctx, id, in.Reason, in.BlockCustomer)
	default:
		return Notice{}, shared.Validationf("decision must be approve or reject")
	}
}

// BatchDecide applies the same decision to each notice independently.
func (s *Service) BatchDecide(ctx context.Context, ids []string, in DecisionInput) (BatchResult, error) {
	if in.Decision != DecisionApprove && in.Decision != DecisionReject {
		return BatchResult{}, shared.Validationf("decision must be approve or reject")
	}
	if in.Decision == DecisionReject && strings.TrimSpace(in.Reason) == "" {
		return BatchResult{}, shared.Validationf("a reason is required to reject notices")
	}
	res := BatchResult{Succeeded: []string{}, Failed: map[string]string{}}
	for _, id := range ids {
		if _, err := s.Decide(ctx, id, in); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

func validChannel(c Channel) error {
	if c != ChannelEmail && c != ChannelPDFDownload {
		return shared.Validationf("channel must be email or pdf_download")
	}
	return nil
}

// Send marks an approved notice as sent and queues e-mail delivery. E-mail
// without an explicit recipient goes to the customer's stored address.
func (s *Service) Send(ctx context.Context, id string, in SendInput) (Notice, error) {
	if err := validChannel(in.Channel); err != nil {
		return Notice{}, err
	}
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return Notice{}, err
	}
	if n.Approval.Status != ApprovalApproved || n.Status != StatusApproved {
		return Notice{}, shared.Conflictf("notice %s must be approved before sending (status %s)", n.Number, n.Status)
	}
	recipient := strings.TrimSpace(in.Recipient)
	if in.Channel == ChannelEmail && recipient == "" {
		recipient, err = s.invoices.CustomerEmail(ctx, n.CustomerID)
		if err != nil && !errors.Is(err, invoices.ErrCustomerNotFound) {
			return Notice{}, err
		}
		if recipient = strings.TrimSpace(recipient); recipient == "" {
			return Notice{}, shared.Validationf("notice %s: no recipient given and customer %s has no e-mail address", n.Number, n.CustomerName)
		}
	}
	now := s.now()
	entry := chronik(ctx, ActionSent, now, fmt.Sprintf("Versendet per %s", in.Channel))
	entry.OldStatus, entry.NewStatus = n.Status, StatusSent
	n.Channel = in.Channel
	n.Recipient = recipient
	applyStatus(&n, StatusSent, now, entry.Actor)
	n.UpdatedAt = now
	if err := s.repo.Save(ctx, n, entry); err != nil {
		return Notice{}, err
	}
	n.Chronik = append(n.Chronik, entry)
	if n.Channel == ChannelEmail && s.notifier != nil {
		d := Delivery{
			NoticeID:  n.ID,
			Number:    n.Number,
			Recipient: n.Recipient,
			Subject:   fmt.Sprintf("Mahnung %s zu Rechnung %s", n.Number, n.InvoiceNumber),
			Body:      n.Body,
		}
		if err := s.notifier.EnqueueDelivery(ctx, d); err != nil {
			s.logger.Error("enqueue notice delivery", slog.String("notice", n.Number), slog.Any("error", err))
		}
	}
	return n, nil
}

// BatchSend sends each notice independently and reports per-notice outcomes.
func (s *Service) BatchSend(ctx context.Context, ids []string, in SendInput) (BatchResult, error) {
	if err := validChannel(in.Channel); err != nil {
		return BatchResult{}, err
	}
	res := BatchResult{Succeeded: []string{}, Failed: map[string]string{}}
	for _, id := range ids {
		if _, err := s.Send(ctx, id, in); err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	s.logger.Info("dunning batch sent", slog.Int("sent", len(res.Succeeded)), slog.Int("failed", len(res.Failed)))
	return res, nil
}

// Cancel withdraws a notice that is not yet settled or cancelled.
func (s *Service) Cancel(ctx context.Context, id, reason string) (Notice, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return Notice{}, err
	}
	if n.Status.Terminal() {
		return Notice{}, shared.Conflictf("notice %s is already %s", n.Number, n.Status)
	}
	now := s.now()
	details := "Mahnung storniert"
	if reason = strings.TrimSpace(reason); reason != "" {
		details += ": " + reason
	}
	entry := chronik(ctx, ActionCancelled, now, details)
	entry.OldStatus, entry.NewStatus = n.Status, StatusCancelled
	applyStatus(&n, StatusCancelled, now, entry.Actor)
	n.UpdatedAt = now
	if err := s.repo.Save(ctx, n, entry); err != nil {
		return Notice{}, err
	}
	n.Chronik = append(n.Chronik, entry)
	return n, nil
}

// SettleForInvoice closes every open notice of a paid invoice. Running it again
// changes nothing.
func (s *Service) SettleForInvoice(ctx context.Context, invoiceID, reason string) (int, error) {
	notices, err := s.repo.ListByInvoice(ctx, invoiceID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	settled := 0
	for _, n := range notices {
		if n.Status.Terminal() {
			continue
		}
		entry := chronik(ctx, ActionSettled, now, reason)
		entry.OldStatus, entry.NewStatus = n.Status, StatusSettled
		applyStatus(&n, StatusSettled, now, entry.Actor)
		n.UpdatedAt = now
		if err := s.repo.Save(ctx, n, entry); err != nil {
			return settled, err
		}
		settled++
	}
	s.metrics.NoticesSettled(settled)
	return settled, nil
}

// Get loads one notice.
func (s *Service) Get(ctx context.Context, id string) (Notice, error) {
	return s.repo.Get(ctx, id)
}

// List returns notices matching the filter.
func (s *Service) List(ctx context.Context, f Filter) ([]Notice, error) {
	return s.repo.List(ctx, f)
}

// NoticeDetail bundles a notice with its invoice and the customer's dunning eligibility.
type NoticeDetail struct {
	Notice      Notice                `json:"notice"`
	Invoice     invoices.Invoice      `json:"invoice"`
	Eligibility *invoices.Eligibility `json:"eligibility,omitempty"`
}

// Detail loads a notice and its surroundings concurrently.
func (s *Service) Detail(ctx context.Context, id string) (NoticeDetail, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return NoticeDetail{}, err
	}
	detail := NoticeDetail{Notice: n}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		inv, err := s.invoices.Get(gctx, n.InvoiceID)
		if err != nil {
			return err
		}
		detail.Invoice = inv
		return nil
	})
	g.Go(func() error {
		elig, err := s.invoices.Eligibility(gctx, n.CustomerID, n.ProjectID)
		if errors.Is(err, invoices.ErrCustomerNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		detail.Eligibility = &elig
		return nil
	})
	if err := g.Wait(); err != nil {
		return NoticeDetail{}, err
	}
	return detail, nil
}

// OverdueCandidates lists unpaid overdue invoices below the final stage,
// split by whether the customer may be dunned.
func (s *Service) OverdueCandidates(ctx context.Context, asOf time.Time) (Candidates, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	list, err := s.invoices.ListOverdue(ctx, asOf)
	if err != nil {
		return Candidates{}, err
	}
	out := Candidates{Allowed: []Candidate{}, Blocked: []Candidate{}}
	seen := make(map[string]invoices.Eligibility)
	for _, inv := range list {
		if inv.Status == invoices.StatusPaid || inv.Status == invoices.StatusCancelled || inv.DunningStage >= settings.MaxStage || inv.DueAt == nil {
			continue
		}
		key := inv.CustomerID + "|" + inv.ProjectID
		elig, ok := seen[key]
		if !ok {
			elig, err = s.invoices.Eligibility(ctx, inv.CustomerID, inv.ProjectID)
			if errors.Is(err, invoices.ErrCustomerNotFound) {
				elig, err = invoices.Eligibility{CustomerID: inv.CustomerID, DunningAllowed: true}, nil
			}
			if err != nil {
				return Candidates{}, err
			}
			seen[key] = elig
		}
		c := Candidate{
			InvoiceID:      inv.ID,
			InvoiceNumber:  inv.Number,
			CustomerID:     inv.CustomerID,
			CustomerName:   inv.CustomerName,
			ProjectID:      inv.ProjectID,
			OpenAmount:     openAmount(inv),
			DueAt:          *inv.DueAt,
			DaysOverdue:    inv.DaysOverdue(asOf),
			CurrentStage:   inv.DunningStage,
			SuggestedStage: inv.DunningStage + 1,
		}
		if elig.Allowed() {
			out.Allowed = append(out.Allowed, c)
			continue
		}
		c.BlockReason = elig.Reason()
		out.Blocked = append(out.Blocked, c)
	}
	return out, nil
}
