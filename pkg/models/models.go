package models

import (
	"time"

	"github.com/google/uuid"
)

/* =============================== Enums ================================== */

// Role is the self-declared function of a user in the portal.
// It is part of profile completion and carries no privilege; the admin
// privilege lives in User.IsAdmin.
type Role string

const (
	RoleAuthor   Role = "author"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

// PaperStatus defines lifecycle states for a paper.
type PaperStatus string

const (
	PaperDraft          PaperStatus = "draft"
	PaperSubmitted      PaperStatus = "submitted"
	PaperUnderReview    PaperStatus = "under_review"
	PaperActionRequired PaperStatus = "action_required"
	PaperAccepted       PaperStatus = "accepted"
	PaperRejected       PaperStatus = "rejected"
	PaperPaymentPending PaperStatus = "payment_pending"
	PaperPublished      PaperStatus = "published"

	// PaperPaymentOverdue is display-only: derived from PaymentDueDate at
	// read time, never written to the status column.
	PaperPaymentOverdue PaperStatus = "payment_overdue"
)

// ValidPaperStatus reports whether s is a persistable status value.
func ValidPaperStatus(s PaperStatus) bool {
	switch s {
	case PaperDraft, PaperSubmitted, PaperUnderReview, PaperActionRequired,
		PaperAccepted, PaperRejected, PaperPaymentPending, PaperPublished:
		return true
	}
	return false
}

// PaymentOption is the fee choice made at submission time.
type PaymentOption string

const (
	PayNow   PaymentOption = "pay_now"
	PayLater PaymentOption = "pay_later"
)

// PayStatus defines lifecycle states for a payment attempt.
type PayStatus string

const (
	PayInitiated PayStatus = "initiated"
	PayPaid      PayStatus = "paid"
	PayFailed    PayStatus = "failed"
)

// AuthProvider identifies how an account signs in.
type AuthProvider string

const (
	ProviderEmail  AuthProvider = "email"
	ProviderGoogle AuthProvider = "google"
	ProviderGitHub AuthProvider = "github"
)

/* =============================== Entities =============================== */

// User is a portal profile. Username, Role and PhoneNumber stay null until
// the user completes their profile; uniqueness applies only to non-null
// values (Postgres unique indexes ignore NULLs).
type User struct {
	ID           uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email        string       `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string       `json:"-"`
	Provider     AuthProvider `gorm:"type:varchar(20);default:'email'" json:"provider"`
	DisplayName  string       `json:"display_name"`
	PhotoURL     string       `json:"photo_url"`
	Username     *string      `gorm:"uniqueIndex" json:"username"`
	Role         *Role        `gorm:"type:varchar(20)" json:"role"`
	PhoneNumber  *string      `gorm:"uniqueIndex" json:"phone_number"`
	Institution  string       `json:"institution"`
	ResearcherID string       `json:"researcher_id"`
	IsAdmin      bool         `gorm:"not null;default:false" json:"is_admin"`

	// Post-login navigation intent; set once, consumed once, then cleared.
	PendingRedirect *string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Paper is a submission owned by a user. File bytes live in object storage;
// the row keeps the key plus a retrievable URL.
type Paper struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OwnerID  uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title    string    `gorm:"not null" json:"title"`
	Abstract string    `json:"abstract"`

	Authors  []string `gorm:"serializer:json" json:"authors"`
	Keywords []string `gorm:"serializer:json" json:"keywords"`

	FileName string `gorm:"not null" json:"file_name"`
	FileKey  string `gorm:"not null" json:"-"`
	FileURL  string `json:"file_url"`

	Status     PaperStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	UploadedAt time.Time   `gorm:"not null;index" json:"uploaded_at"`

	PlagiarismScore     *float64 `json:"plagiarism_score"`
	HighlightedSections []string `gorm:"serializer:json" json:"highlighted_sections"`
	AcceptanceScore     *float64 `json:"acceptance_score"`
	AcceptanceReasoning string   `json:"acceptance_reasoning"`

	AdminFeedback string `json:"admin_feedback"`

	PaymentOption  PaymentOption `gorm:"type:varchar(20);not null" json:"payment_option"`
	SubmissionDate *time.Time    `json:"submission_date"`
	PaymentDueDate *time.Time    `json:"payment_due_date"`
	PaidAt         *time.Time    `json:"paid_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Payment is one submission-fee attempt for a paper.
type Payment struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	PaperID         uuid.UUID `gorm:"type:uuid;not null;index" json:"paper_id"`
	OwnerID         uuid.UUID `gorm:"type:uuid;not null" json:"owner_id"`
	AmountCents     int64     `gorm:"not null" json:"amount_cents"`
	Provider        string    `gorm:"type:varchar(20);not null" json:"provider"`
	Status          PayStatus `gorm:"type:varchar(20);default:'initiated'" json:"status"`
	StripeSessionID *string   `gorm:"uniqueIndex:ux_pay_session_filled" json:"-"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

// PaperHistory is an audit log entry for paper status changes.
type PaperHistory struct {
	ID        uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	PaperID   uuid.UUID   `gorm:"type:uuid;not null;index"`
	ActorID   uuid.UUID   `gorm:"type:uuid;not null;index"`
	Action    string      `gorm:"type:varchar(50);not null"` // e.g. submitted, status_changed, feedback, paid, deleted
	OldStatus PaperStatus `gorm:"type:varchar(20)"`
	NewStatus PaperStatus `gorm:"type:varchar(20)"`
	Reason    string      `gorm:"type:text"`
	CreatedAt time.Time   `gorm:"autoCreateTime"`
}
