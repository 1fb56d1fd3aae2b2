package dunning

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates the lifecycle states of a dunning notice.
type Status string

const (
	StatusCreated         Status = "created"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusSent            Status = "sent"
	StatusSettled         Status = "settled"
	StatusCancelled       Status = "cancelled"
)

// ApprovalStatus tracks the four-eyes decision on a notice.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Channel is how a notice reaches the customer.
type Channel string

const (
	ChannelEmail       Channel = "email"
	ChannelPDFDownload Channel = "pdf_download"
)

// Chronik actions.
const (
	ActionCreated         = "created"
	ActionFollowUpCreated = "follow_up_created"
	ActionEdited          = "edited"
	ActionApproved        = "approved"
	ActionRejected        = "rejected"
	ActionSent            = "sent"
	ActionCancelled       = "cancelled"
	ActionSettled         = "settled_by_payment"
	ActionChildDeleted    = "follow_up_deleted"
)

var transitions = map[Status][]Status{
	StatusCreated:         {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:        {StatusSent, StatusCancelled},
	StatusSent:            {StatusSettled, StatusCancelled},
	StatusRejected:        {StatusCancelled},
}

// CanTransition reports whether a notice may move from one status to another.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// Closed reports whether the notice no longer represents an open claim.
// Rejected notices count as closed for the one-open-notice rule.
func (s Status) Closed() bool {
	return s.Terminal() || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok || s.Terminal()
}

// Approval captures the approval decision.
type Approval struct {
	Status    ApprovalStatus `json:"status"`
	DecidedBy string         `json:"decided_by,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// ChronikEntry is one line of a notice's audit history.
type ChronikEntry struct {
	Action         string    `json:"action"`
	Actor          string    `json:"actor"`
	At             time.Time `json:"at"`
	Details        string    `json:"details,omitempty"`
	OldStatus      Status    `json:"old_status,omitempty"`
	NewStatus      Status    `json:"new_status,omitempty"`
	LinkedNoticeID string    `json:"linked_notice_id,omitempty"`
}

// Notice is a dunning notice (Mahnung) for one invoice.
type Notice struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	InvoiceID      string          `json:"invoice_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name"`
	ProjectID      string          `json:"project_id,omitempty"`
	ScopeID        string          `json:"scope_id,omitempty"`
	Stage          int             `json:"stage"`
	Status         Status          `json:"status"`
	IssuedAt       time.Time       `json:"issued_at"`
	DueAt          time.Time       `json:"due_at"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	OpenAmount     decimal.Decimal `json:"open_amount"`
	Fee            decimal.Decimal `json:"fee"`
	Interest       decimal.Decimal `json:"interest"`
	TotalClaim     decimal.Decimal `json:"total_claim"`
	Body           string          `json:"body"`
	BodyVersion    int             `json:"body_version"`
	Notes          string          `json:"notes,omitempty"`
	Approval       Approval        `json:"approval"`
	Channel        Channel         `json:"channel,omitempty"`
	Recipient      string          `json:"recipient,omitempty"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	SettledAt      *time.Time      `json:"settled_at,omitempty"`
	ParentID       string          `json:"parent_id,omitempty"`
	ChildID        string          `json:"child_id,omitempty"`
	Chronik        []ChronikEntry  `json:"chronik"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// RecomputeTotal sets TotalClaim to open + fee + interest.
func (n *Notice) RecomputeTotal() {
	n.TotalClaim = n.OpenAmount.Add(n.Fee).Add(n.Interest)
}

// Filter narrows notice listings. Zero values are ignored.
type Filter struct {
	Status     Status
	Stage      int
	CustomerID string
	ProjectID  string
	InvoiceID  string
	Approval   ApprovalStatus
	Limit      int
}

// Overrides replaces settings-derived values when creating a first notice.
type Overrides struct {
	Fee      *decimal.Decimal
	Interest *decimal.Decimal
	TermDays *int
	Body     string
}

// NoticePatch lists the editable fields of a notice; nil leaves a field unchanged.
type NoticePatch struct {
	Body     *string
	Status   *Status
	Notes    *string
	Fee      *decimal.Decimal
	Interest *decimal.Decimal
}

// Decision is an approval outcome.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// DecisionInput carries one approval decision.
type DecisionInput struct {
	Decision      Decision
	Reason        string
	BlockCustomer bool
}

// BatchResult reports the per-notice outcome of a batch decision.
type BatchResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// SendInput selects the delivery channel.
type SendInput struct {
	Channel   Channel
	Recipient string
}

// Candidate is an overdue invoice that may receive its next notice.
type Candidate struct {
	InvoiceID      string          `json:"invoice_id"`
	InvoiceNumber  string          `json:"invoice_number"`
	CustomerID     string          `json:"customer_id"`
	CustomerName   string          `json:"customer_name"`
	ProjectID      string          `json:"project_id,omitempty"`
	OpenAmount     decimal.Decimal `json:"open_amount"`
	DueAt          time.Time       `json:"due_at"`
	DaysOverdue    int             `json:"days_overdue"`
	CurrentStage   int             `json:"current_stage"`
	SuggestedStage int             `json:"suggested_stage"`
	BlockReason    string          `json:"block_reason,omitempty"`
}

// Candidates splits overdue invoices by whether dunning is allowed.
type Candidates struct {
	Allowed []Candidate `json:"allowed"`
	Blocked []Candidate `json:"blocked"`
}
