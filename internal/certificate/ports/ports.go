// Package ports declares the collaborator contracts the certificate service
// consumes. Implementations are thin typed RPC clients wired in cmd/server;
// tests use in-memory fakes.
package ports

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"crcert/internal/certificate/models"
)

// ErrNotFound signals "no data available" from a registry lookup. The
// resolver treats it as a valid absence and continues down the fallback
// chain; anything else is a registry failure.
var ErrNotFound = errors.New("not found")

// Address is a resolved public-service address.
type Address struct {
	Country  string
	Region   string
	District string
	City     string
}

type AddressClient interface {
	PublicServiceAddress(ctx context.Context, resourceID string) (*Address, error)
}

// Passport carries the subset of passport data the resolver consumes.
type Passport struct {
	BirthCountry string
}

// RegistrationAddress is the registry's registration record shape.
type RegistrationAddress struct {
	RegionName     string
	RegionDistrict string
	SettlementType string
	SettlementName string
}

type PassportWithRegistration struct {
	Passport     *Passport
	Registration *RegistrationAddress
}

type IdentityDocumentType string

const (
	IdentityInternalPassport         IdentityDocumentType = "internal-passport"
	IdentityForeignPassport          IdentityDocumentType = "foreign-passport"
	IdentityResidencePermitPermanent IdentityDocumentType = "residence-permit-permanent"
	IdentityResidencePermitTemporary IdentityDocumentType = "residence-permit-temporary"
)

type Nationality struct {
	Name      string
	CodeAlfa3 string
}

type PermitRegistration struct {
	City       string
	RegionName string
}

type ResidencePermit struct {
	Nationalities    []Nationality
	RegistrationInfo *PermitRegistration
}

type IdentityDocument struct {
	Type            IdentityDocumentType
	ResidencePermit *ResidencePermit
}

type DocumentsClient interface {
	// PassportWithRegistration looks up the internal passport and digital
	// registration by the user's tax number.
	PassportWithRegistration(ctx context.Context, user *models.User) (*PassportWithRegistration, error)
	IdentityDocument(ctx context.Context, user *models.User) (*IdentityDocument, error)
}

type DocStatus string

const (
	DocStatusOk         DocStatus = "ok"
	DocStatusConfirming DocStatus = "confirming"
)

type DocumentType string

const DocumentTaxpayerCard DocumentType = "taxpayer-card"

type DocumentFilter struct {
	DocumentType DocumentType
	Statuses     []DocStatus
}

type UserDocument struct {
	DocumentType DocumentType
	DocStatus    DocStatus
}

type UserClient interface {
	UserDocuments(ctx context.Context, userIdentifier string, filters []DocumentFilter) ([]UserDocument, error)
}

// Notifier dispatches push notifications. Best-effort: callers log failures
// and move on.
type Notifier interface {
	CreatePushByMobileUID(ctx context.Context, notification models.PushNotification) error
}

// Event names on the integration bus.
const (
	EventCertificateStatusUpdated = "criminal-certificate-status-updated"
	EventRateService              = "rate-service"
)

type EventBus interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Signer produces the detached signature attached to every provider-bound
// request. The signature covers a placeholder payload, not request content;
// an integration quirk preserved as-is.
type Signer interface {
	DetachedSignature(ctx context.Context) (string, error)
}

type ContextMenuItem struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type NavigationPanel struct {
	Header      string            `json:"header"`
	ContextMenu []ContextMenuItem `json:"contextMenu,omitempty"`
}

type PublicServiceSettings struct {
	Code            models.PublicServiceCode
	IsActive        bool
	ContextMenu     []ContextMenuItem
	NavigationPanel *NavigationPanel
}

type CatalogClient interface {
	PublicServiceSettings(ctx context.Context, code models.PublicServiceCode) (*PublicServiceSettings, error)
}

type RatingFormRequest struct {
	UserIdentifier string
	StatusDate     time.Time
	Category       string
	ServiceCode    string
	ResourceID     string
}

// RatingClient fetches the rating prompt form, pass-through for the detail
// screen.
type RatingClient interface {
	RatingForm(ctx context.Context, req RatingFormRequest) (json.RawMessage, error)
}

// TaskQueue publishes delayed tasks; the reconciliation producer relies on
// the delay to stagger registry load.
type TaskQueue interface {
	Publish(ctx context.Context, task string, payload any, delay time.Duration) error
}

// TaskCheckApplications is the per-batch reconciliation task name.
const TaskCheckApplications = "check-criminal-record-certificate-applications"
