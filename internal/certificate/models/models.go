// Package models holds the certificate application entity and the value
// types shared by the store, resolver, mapper and service.
package models

import "time"

// Status is the lifecycle state of an application. processing is the only
// non-terminal state; there are no transitions out of done or cancel.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusCancel     Status = "cancel"
)

// CertificateType is the requested certificate variant, fixed at creation.
type CertificateType string

const (
	TypeShort CertificateType = "short"
	TypeFull  CertificateType = "full"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// PublicServiceCode identifies integrations that may initiate or observe an
// application.
type PublicServiceCode string

const (
	PublicServiceCriminalRecordCertificate PublicServiceCode = "criminal-record-certificate"
	PublicServiceDamagedPropertyRecovery   PublicServiceCode = "damaged-property-recovery"
)

// TemplateCode keys push notification templates; also used as the key under
// which the sent timestamp is recorded on the application.
type TemplateCode string

const (
	TemplateApplicationDone    TemplateCode = "criminal-record-certificate-application-done"
	TemplateApplicationRefused TemplateCode = "criminal-record-certificate-application-refused"
)

// EventStatus is the externally visible status published on the integration
// event bus. cancel has no external mapping.
type EventStatus string

const (
	EventStatusRequested EventStatus = "requested"
	EventStatusDone      EventStatus = "done"
)

type StatusHistoryItem struct {
	Status Status    `json:"status"`
	Date   time.Time `json:"date"`
}

type Reason struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type Applicant struct {
	ApplicantIdentifier string   `json:"applicantIdentifier"`
	ApplicantMobileUID  string   `json:"applicantMobileUid"`
	Nationality         []string `json:"nationality"`
}

type PublicService struct {
	Code       PublicServiceCode `json:"code"`
	ResourceID string            `json:"resourceId,omitempty"`
}

// Application is the persisted certificate request record.
type Application struct {
	ApplicationID            string
	UserIdentifier           string
	MobileUID                string
	Status                   Status
	CancelReason             string
	Reason                   Reason
	Type                     CertificateType
	IsDownloadAction         bool
	IsViewAction             bool
	SendingRequestTime       *time.Time
	ReceivingApplicationTime *time.Time
	Applicant                Applicant
	PublicService            *PublicService
	Notifications            map[TemplateCode]time.Time
	StatusHistory            []StatusHistoryItem
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// ApplicationRef is the projection the batch reconciliation job works with.
type ApplicationRef struct {
	ApplicationID  string                     `json:"applicationId"`
	UserIdentifier string                     `json:"userIdentifier"`
	MobileUID      string                     `json:"mobileUid"`
	PublicService  *PublicService             `json:"publicService,omitempty"`
	Notifications  map[TemplateCode]time.Time `json:"notifications,omitempty"`
	CreatedAt      time.Time                  `json:"createdAt"`
}

// User is the authenticated citizen on whose behalf actions run. Field
// values originate from the identity token.
type User struct {
	Identifier  string
	ITN         string
	FirstName   string
	LastName    string
	MiddleName  string
	Gender      Gender
	BirthDay    string
	PhoneNumber string
	Email       string
}

// BirthPlace is the user-supplied birth place form value.
type BirthPlace struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// ApplicationRequest is the inbound submission form. All fields are optional
// at the transport level; the lifecycle engine enforces which combinations
// are valid.
type ApplicationRequest struct {
	ReasonID              string          `json:"reasonId,omitempty"`
	CertificateType       CertificateType `json:"certificateType,omitempty"`
	PreviousFirstName     string          `json:"previousFirstName,omitempty"`
	PreviousLastName      string          `json:"previousLastName,omitempty"`
	PreviousMiddleName    string          `json:"previousMiddleName,omitempty"`
	BirthPlace            *BirthPlace     `json:"birthPlace,omitempty"`
	Nationalities         []string        `json:"nationalities,omitempty"`
	RegistrationAddressID string          `json:"registrationAddressId,omitempty"`
	PhoneNumber           string          `json:"phoneNumber,omitempty"`
	Email                 string          `json:"email,omitempty"`
	PublicService         *PublicService  `json:"publicService,omitempty"`
}

// RequestData is the fully resolved set of applicant fields. Ephemeral: it
// feeds both the confirmation preview and the provider submission payload.
type RequestData struct {
	ITN                  string
	FirstName            string
	LastName             string
	MiddleName           string
	PreviousFirstName    string
	PreviousLastName     string
	PreviousMiddleName   string
	Gender               Gender
	BirthDate            string
	BirthCountry         string
	BirthRegion          string
	BirthDistrict        string
	BirthCity            string
	RegistrationCountry  string
	RegistrationRegion   string
	RegistrationDistrict string
	RegistrationCity     string
	Nationalities        []string
	NationalitiesAlfa3   []string
	PhoneNumber          string
	Email                string
	ReasonID             string
	CertificateType      CertificateType
}

// Screen names the client form screens in their natural order.
type Screen string

const (
	ScreenReasons           Screen = "reasons"
	ScreenRequester         Screen = "requester"
	ScreenBirthPlace        Screen = "birthPlace"
	ScreenNationalities     Screen = "nationalities"
	ScreenRegistrationPlace Screen = "registrationPlace"
	ScreenContacts          Screen = "contacts"
)

// AttentionMessage is a client-facing callout.
type AttentionMessage struct {
	Icon       string   `json:"icon,omitempty"`
	Title      string   `json:"title,omitempty"`
	Text       string   `json:"text,omitempty"`
	Parameters []string `json:"parameters"`
}

type LabeledValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// CertificateTypeInfo describes one orderable certificate variant.
type CertificateTypeInfo struct {
	Code        CertificateType `json:"code"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
}

// StatusUpdatedEvent is published on the integration event bus when a
// public-service-linked application changes externally visible status.
type StatusUpdatedEvent struct {
	PublicServiceCode PublicServiceCode `json:"publicServiceCode"`
	UserIdentifier    string            `json:"userIdentifier"`
	ApplicationID     string            `json:"applicationId"`
	ResourceID        string            `json:"resourceId,omitempty"`
	Status            EventStatus       `json:"status"`
}

// RateServiceEvent asks the rating pipeline to prompt the user.
type RateServiceEvent struct {
	UserIdentifier string `json:"userIdentifier"`
	Category       string `json:"category"`
	ServiceCode    string `json:"serviceCode"`
	ResourceID     string `json:"resourceId,omitempty"`
}

// PushNotification is dispatched best-effort to the submitting device.
type PushNotification struct {
	TemplateCode   TemplateCode `json:"templateCode"`
	UserIdentifier string       `json:"userIdentifier"`
	MobileUID      string       `json:"mobileUid"`
	ResourceID     string       `json:"resourceId,omitempty"`
}
