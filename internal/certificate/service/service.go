// Package service implements the certificate application lifecycle: the
// submission state machine, public-service linkage, downloads and the
// batched status reconciliation job.
package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"crcert/internal/certificate/mapper"
	"crcert/internal/certificate/metrics"
	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
	"crcert/internal/certificate/resolver"
	"crcert/internal/certificate/store"
	"crcert/internal/provider"
	"crcert/pkg/domainerrors"
)

// Config carries the lifecycle tunables. The two 30-day windows are
// deliberately separate knobs: one bounds reconciliation refusal, the other
// bounds how old an application may be for public-service linkage.
type Config struct {
	ApplicationExpirationDays   int
	PublicServiceLinkWindowDays int
	CheckBatchSize              int
	CheckInterval               time.Duration
}

// Deps groups the collaborators the lifecycle consumes.
type Deps struct {
	Store    store.Store
	Provider provider.Provider
	Resolver *resolver.Resolver
	Mapper   *mapper.Mapper
	Signer   ports.Signer
	Notifier ports.Notifier
	Events   ports.EventBus
	Users    ports.UserClient
	Catalog  ports.CatalogClient
	Rating   ports.RatingClient
	Tasks    ports.TaskQueue
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

type Service struct {
	cfg      Config
	store    store.Store
	provider provider.Provider
	resolver *resolver.Resolver
	mapper   *mapper.Mapper
	signer   ports.Signer
	notifier ports.Notifier
	events   ports.EventBus
	users    ports.UserClient
	catalog  ports.CatalogClient
	rating   ports.RatingClient
	tasks    ports.TaskQueue
	metrics  *metrics.Metrics
	log      *slog.Logger
	tracer   trace.Tracer
}

func New(cfg Config, deps Deps) *Service {
	if cfg.ApplicationExpirationDays <= 0 {
		cfg.ApplicationExpirationDays = 30
	}
	if cfg.PublicServiceLinkWindowDays <= 0 {
		cfg.PublicServiceLinkWindowDays = 30
	}
	if cfg.CheckBatchSize <= 0 {
		cfg.CheckBatchSize = 100
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		provider: deps.Provider,
		resolver: deps.Resolver,
		mapper:   deps.Mapper,
		signer:   deps.Signer,
		notifier: deps.Notifier,
		events:   deps.Events,
		users:    deps.Users,
		catalog:  deps.Catalog,
		rating:   deps.Rating,
		tasks:    deps.Tasks,
		metrics:  deps.Metrics,
		log:      deps.Log,
		tracer:   otel.Tracer("crcert/certificate"),
	}
}

const ratingCategoryPublicService = "publicService"

// resourceIDRequired lists the public services that must supply a resource id
// with their submissions.
var resourceIDRequired = map[models.PublicServiceCode]struct{}{
	models.PublicServiceDamagedPropertyRecovery: {},
}

// sentProcessCodes maps the initiating public service to the process code
// returned on a successful submission.
var sentProcessCodes = map[models.PublicServiceCode]int{
	models.PublicServiceDamagedPropertyRecovery: domainerrors.ProcessSentForDamagedPropertyRecovery,
}

// nextScreenOverrides skips the reasons screen for services whose reason and
// type are autofilled.
var nextScreenOverrides = map[models.PublicServiceCode]models.Screen{
	models.PublicServiceDamagedPropertyRecovery: models.ScreenRequester,
}

// SendResult is the submission outcome returned to the client.
type SendResult struct {
	ApplicationID string `json:"applicationId,omitempty"`
	ProcessCode   int    `json:"processCode"`
}

// SendApplication runs the submission state machine. The caller must hold
// the user-scoped lock; the service itself only re-checks the guard.
func (s *Service) SendApplication(ctx context.Context, user *models.User, mobileUID string, form *models.ApplicationRequest) (*SendResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.SendApplication")
	defer span.End()

	if err := validateRequest(form); err != nil {
		s.metrics.IncrementSubmitted("invalid")
		return nil, err
	}

	inFlight, err := s.store.CountProcessing(ctx, user.Identifier)
	if err != nil {
		return nil, err
	}
	if inFlight > 0 {
		s.metrics.IncrementSubmitted("rejected")
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "user already has an application in progress").
			WithProcess(domainerrors.ProcessMoreThanOneInProgress)
	}

	data, err := s.resolver.Resolve(ctx, user, form)
	if err != nil {
		return nil, err
	}

	order, err := s.signedOrder(ctx, data)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	resp, err := s.provider.SendApplication(ctx, order)
	s.metrics.ObserveProviderCall("send", time.Since(started))
	if err != nil {
		s.metrics.IncrementSubmitted("failed")
		return nil, err
	}
	if resp.Status == provider.OrderMoreThanOneInProgress {
		s.metrics.IncrementSubmitted("rejected")
		return &SendResult{ProcessCode: domainerrors.ProcessMoreThanOneInProgress}, nil
	}

	now := time.Now()
	app := &models.Application{
		ApplicationID:      strconv.FormatInt(resp.ID, 10),
		UserIdentifier:     user.Identifier,
		MobileUID:          mobileUID,
		Status:             models.StatusProcessing,
		Type:               data.CertificateType,
		SendingRequestTime: &now,
		Applicant: models.Applicant{
			ApplicantIdentifier: user.Identifier,
			ApplicantMobileUID:  mobileUID,
			Nationality:         data.NationalitiesAlfa3,
		},
		PublicService: form.PublicService,
		Notifications: map[models.TemplateCode]time.Time{},
	}
	if name, ok := provider.ReasonName(s.provider, data.ReasonID); ok {
		app.Reason = models.Reason{Code: data.ReasonID, Name: name}
	} else {
		app.Reason = models.Reason{Code: data.ReasonID}
	}
	if resp.Status == provider.OrderCompleted {
		app.Status = models.StatusDone
		app.ReceivingApplicationTime = &now
	}
	app.StatusHistory = []models.StatusHistoryItem{{Status: app.Status, Date: now}}

	if err := s.store.Create(ctx, app); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("application.status", string(app.Status)))
	s.metrics.IncrementSubmitted(string(app.Status))

	if app.Status == models.StatusDone && app.PublicService == nil {
		s.notify(ctx, app, models.TemplateApplicationDone)
		s.publishRateService(ctx, app)
	}
	s.publishStatusEvent(ctx, app)

	processCode := domainerrors.ProcessApplicationSent
	if form.PublicService != nil {
		if code, ok := sentProcessCodes[form.PublicService.Code]; ok {
			processCode = code
		}
	}
	return &SendResult{ApplicationID: app.ApplicationID, ProcessCode: processCode}, nil
}

func validateRequest(form *models.ApplicationRequest) error {
	if form == nil {
		return domainerrors.New(domainerrors.CodeValidation, "request body is required")
	}
	if len(form.Nationalities) > 2 {
		return domainerrors.New(domainerrors.CodeValidation, "at most two nationalities are allowed")
	}
	if form.CertificateType != "" && form.CertificateType != models.TypeShort && form.CertificateType != models.TypeFull {
		return domainerrors.New(domainerrors.CodeValidation, "unknown certificate type")
	}

	if form.PublicService == nil {
		switch {
		case form.ReasonID == "":
			return domainerrors.New(domainerrors.CodeValidation, "reasonId is required")
		case form.CertificateType == "":
			return domainerrors.New(domainerrors.CodeValidation, "certificateType is required")
		case form.PhoneNumber == "":
			return domainerrors.New(domainerrors.CodeValidation, "phoneNumber is required")
		}
		return nil
	}

	if _, ok := resourceIDRequired[form.PublicService.Code]; ok && form.PublicService.ResourceID == "" {
		return domainerrors.New(domainerrors.CodeValidation, "publicService.resourceId is required")
	}
	return nil
}

// Confirmation builds the pre-submission preview from resolved data.
func (s *Service) Confirmation(ctx context.Context, user *models.User, form *models.ApplicationRequest) (*mapper.Confirmation, error) {
	data, err := s.resolver.Resolve(ctx, user, form)
	if err != nil {
		return nil, err
	}

	reasonLabel, _ := provider.ReasonName(s.provider, data.ReasonID)
	var typeDescription string
	for _, t := range s.provider.Types() {
		if t.Code == data.CertificateType {
			typeDescription = t.Description
			break
		}
	}

	confirmation := s.mapper.ToConfirmation(data, reasonLabel, typeDescription)
	return &confirmation, nil
}

// PublicServiceCheck reports whether a usable certificate exists for a
// public-service flow.
type PublicServiceCheck struct {
	HasOrderedCertificate bool               `json:"hasOrderedCertificate"`
	Status                models.EventStatus `json:"status,omitempty"`
}

// CheckApplicationForPublicService looks for an application matching the
// triggering service's implied reason/type and, when still processing,
// binds the service to it.
func (s *Service) CheckApplicationForPublicService(ctx context.Context, user *models.User, code models.PublicServiceCode, resourceID string) (*PublicServiceCheck, error) {
	filter := store.FindFilter{
		UserIdentifier: user.Identifier,
		Statuses:       []models.Status{models.StatusProcessing, models.StatusDone},
	}
	if autofill, ok := s.resolver.AutofillFor(code); ok {
		filter.ReasonCode = autofill.ReasonID
		filter.Type = autofill.CertificateType
	}

	app, err := s.store.FindOne(ctx, filter)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &PublicServiceCheck{}, nil
		}
		return nil, err
	}

	// A still-processing application has no receiving time and is never
	// outdated; the window only ages out issued certificates.
	if app.ReceivingApplicationTime != nil {
		window := time.Duration(s.cfg.PublicServiceLinkWindowDays) * 24 * time.Hour
		if time.Since(*app.ReceivingApplicationTime) > window {
			return &PublicServiceCheck{}, nil
		}
	}

	status := models.EventStatusRequested
	if app.Status == models.StatusDone {
		status = models.EventStatusDone
	}
	if app.Status == models.StatusProcessing && app.PublicService == nil {
		ps := models.PublicService{Code: code, ResourceID: resourceID}
		if err := s.store.AttachPublicService(ctx, app.ApplicationID, ps); err != nil {
			return nil, err
		}
	}
	return &PublicServiceCheck{HasOrderedCertificate: true, Status: status}, nil
}

// ApplicationDetail is the detail screen payload.
type ApplicationDetail struct {
	NavigationPanel *ports.NavigationPanel    `json:"navigationPanel,omitempty"`
	Application     mapper.ApplicationDetails `json:"certificateApplication"`
	RatingForm      json.RawMessage           `json:"ratingForm,omitempty"`
}

// GetByID returns the detail screen for one of the caller's applications.
func (s *Service) GetByID(ctx context.Context, user *models.User, applicationID string) (*ApplicationDetail, error) {
	app, err := s.store.FindOne(ctx, store.FindFilter{
		UserIdentifier: user.Identifier,
		ApplicationID:  applicationID,
		Statuses:       []models.Status{models.StatusProcessing, models.StatusDone},
	})
	if err != nil {
		return nil, err
	}

	detail := &ApplicationDetail{Application: s.mapper.ToApplicationDetails(app)}
	detail.NavigationPanel = s.navigationPanel(ctx)

	if app.Status == models.StatusDone {
		detail.RatingForm = s.ratingForm(ctx, app)
	}
	return detail, nil
}

func (s *Service) navigationPanel(ctx context.Context) *ports.NavigationPanel {
	settings, err := s.catalog.PublicServiceSettings(ctx, models.PublicServiceCriminalRecordCertificate)
	if err != nil {
		s.log.Error("failed to get public service settings", "err", err)
		return nil
	}
	return settings.NavigationPanel
}

func (s *Service) ratingForm(ctx context.Context, app *models.Application) json.RawMessage {
	var statusDate time.Time
	for _, item := range app.StatusHistory {
		if item.Status == models.StatusDone {
			statusDate = item.Date
		}
	}
	if statusDate.IsZero() {
		return nil
	}

	form, err := s.rating.RatingForm(ctx, ports.RatingFormRequest{
		UserIdentifier: app.UserIdentifier,
		StatusDate:     statusDate,
		Category:       ratingCategoryPublicService,
		ServiceCode:    string(models.PublicServiceCriminalRecordCertificate),
	})
	if err != nil {
		s.log.Error("failed to get rating form", "err", err)
		return nil
	}
	return form
}

// ListResult is one page of the certificate list.
type ListResult struct {
	NavigationPanel *ports.NavigationPanel   `json:"navigationPanel,omitempty"`
	Certificates    []mapper.ListItem        `json:"certificates"`
	Total           int                      `json:"total"`
	StubMessage     *models.AttentionMessage `json:"stubMessage,omitempty"`
}

// List pages a user's applications in one status. Before listing processing
// applications it runs an inline status refresh without pushes, so the list
// never shows an application the registry already finished.
func (s *Service) List(ctx context.Context, user *models.User, status models.Status, skip, limit int) (*ListResult, error) {
	if status == models.StatusProcessing {
		refs, err := s.store.ProcessingRefs(ctx, user.Identifier)
		if err != nil {
			return nil, err
		}
		if len(refs) > 0 {
			if err := s.checkApplications(ctx, refs, nil); err != nil {
				s.log.Error("inline status refresh failed", "err", err)
			}
		}
	}

	total, err := s.store.Count(ctx, user.Identifier, status)
	if err != nil {
		return nil, err
	}

	result := &ListResult{
		NavigationPanel: s.navigationPanel(ctx),
		Certificates:    []mapper.ListItem{},
		Total:           total,
	}
	if total == 0 {
		result.StubMessage = s.mapper.NoCertificatesByStatus(status)
		return result, nil
	}

	apps, err := s.store.List(ctx, user.Identifier, status, skip, limit)
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		result.Certificates = append(result.Certificates, s.mapper.ToListItem(app))
	}
	return result, nil
}

// DocumentResult carries a base64 file back to the client.
type DocumentResult struct {
	File     string `json:"file"`
	FileName string `json:"fileName"`
}

// DownloadArchive packs the certificate pdf and its detached signature into
// a zip and flips the download flag.
func (s *Service) DownloadArchive(ctx context.Context, user *models.User, applicationID string) (*DocumentResult, error) {
	app, err := s.store.FindOne(ctx, store.FindFilter{
		UserIdentifier: user.Identifier,
		ApplicationID:  applicationID,
		Statuses:       []models.Status{models.StatusDone},
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.download(ctx, app.ApplicationID)
	if err != nil {
		return nil, err
	}

	name := s.mapper.ArchiveFileName(app.CreatedAt)
	archive, err := buildArchive(name, resp)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetDownloaded(ctx, app.ApplicationID); err != nil {
		return nil, err
	}
	return &DocumentResult{File: archive, FileName: name + ".zip"}, nil
}

// DownloadPdf returns the bare certificate pdf and flips the view flag.
func (s *Service) DownloadPdf(ctx context.Context, user *models.User, applicationID string) (*DocumentResult, error) {
	app, err := s.store.FindOne(ctx, store.FindFilter{
		UserIdentifier: user.Identifier,
		ApplicationID:  applicationID,
		Statuses:       []models.Status{models.StatusDone},
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.download(ctx, app.ApplicationID)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetViewed(ctx, app.ApplicationID); err != nil {
		return nil, err
	}
	return &DocumentResult{File: resp.Document, FileName: s.mapper.ArchiveFileName(app.CreatedAt) + ".pdf"}, nil
}

// DownloadPdfToProcess serves internal consumers that hold an application id
// without a user scope; it does not touch the action flags.
func (s *Service) DownloadPdfToProcess(ctx context.Context, applicationID string) (*DocumentResult, error) {
	app, err := s.store.FindOne(ctx, store.FindFilter{
		ApplicationID: applicationID,
		Statuses:      []models.Status{models.StatusDone},
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.download(ctx, app.ApplicationID)
	if err != nil {
		return nil, err
	}
	return &DocumentResult{File: resp.Document, FileName: s.mapper.ArchiveFileName(app.CreatedAt) + ".pdf"}, nil
}

// OrderResult passes the registry's raw order record through untouched.
func (s *Service) OrderResult(ctx context.Context, user *models.User, applicationID string) (*provider.OrderResult, error) {
	app, err := s.store.FindOne(ctx, store.FindFilter{
		UserIdentifier: user.Identifier,
		ApplicationID:  applicationID,
		Statuses:       []models.Status{models.StatusProcessing, models.StatusDone},
	})
	if err != nil {
		return nil, err
	}

	req, err := s.signedDownload(ctx, app.ApplicationID)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	result, err := s.provider.OrderResult(ctx, req)
	s.metrics.ObserveProviderCall("order_result", time.Since(started))
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) download(ctx context.Context, applicationID string) (provider.DownloadResponse, error) {
	req, err := s.signedDownload(ctx, applicationID)
	if err != nil {
		return provider.DownloadResponse{}, err
	}
	started := time.Now()
	resp, err := s.provider.DownloadCertificate(ctx, req)
	s.metrics.ObserveProviderCall("download", time.Since(started))
	return resp, err
}

func (s *Service) signedDownload(ctx context.Context, applicationID string) (provider.DownloadRequest, error) {
	signature, err := s.signer.DetachedSignature(ctx)
	if err != nil {
		return provider.DownloadRequest{}, fmt.Errorf("sign download request: %w", err)
	}
	return provider.DownloadRequest{RequestID: applicationID, Signature: signature}, nil
}

func (s *Service) signedOrder(ctx context.Context, data *models.RequestData) (provider.OrderRequest, error) {
	signature, err := s.signer.DetachedSignature(ctx)
	if err != nil {
		return provider.OrderRequest{}, fmt.Errorf("sign order request: %w", err)
	}
	order := s.mapper.ToProviderOrder(data)
	order.Signature = signature
	return order, nil
}

func buildArchive(name string, resp provider.DownloadResponse) (string, error) {
	pdf, err := base64.StdEncoding.DecodeString(resp.Document)
	if err != nil {
		return "", fmt.Errorf("decode certificate document: %w", err)
	}
	p7s, err := base64.StdEncoding.DecodeString(resp.Signature)
	if err != nil {
		return "", fmt.Errorf("decode certificate signature: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, file := range []struct {
		name string
		body []byte
	}{
		{name + ".pdf", pdf},
		{name + ".p7s", p7s},
	} {
		w, err := zw.Create(file.name)
		if err != nil {
			return "", fmt.Errorf("create archive entry %s: %w", file.name, err)
		}
		if _, err := w.Write(file.body); err != nil {
			return "", fmt.Errorf("write archive entry %s: %w", file.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (s *Service) notify(ctx context.Context, app *models.Application, template models.TemplateCode) {
	if _, sent := app.Notifications[template]; sent {
		return
	}
	err := s.notifier.CreatePushByMobileUID(ctx, models.PushNotification{
		TemplateCode:   template,
		UserIdentifier: app.UserIdentifier,
		MobileUID:      app.MobileUID,
		ResourceID:     app.ApplicationID,
	})
	if err != nil {
		s.log.Error("failed to send push notification", "template", string(template), "err", err)
		return
	}
	s.metrics.IncrementNotificationsSent(string(template))
}

func (s *Service) publishRateService(ctx context.Context, app *models.Application) {
	event := models.RateServiceEvent{
		UserIdentifier: app.UserIdentifier,
		Category:       ratingCategoryPublicService,
		ServiceCode:    string(models.PublicServiceCriminalRecordCertificate),
		ResourceID:     app.ApplicationID,
	}
	if err := s.events.Publish(ctx, ports.EventRateService, event); err != nil {
		s.log.Error("failed to publish rate service event", "err", err)
	}
}

// publishStatusEvent is best-effort: cancel has no external mapping and
// publish failures are logged, never raised.
func (s *Service) publishStatusEvent(ctx context.Context, app *models.Application) {
	var status models.EventStatus
	switch app.Status {
	case models.StatusDone:
		status = models.EventStatusDone
	case models.StatusProcessing:
		status = models.EventStatusRequested
	default:
		return
	}

	event := models.StatusUpdatedEvent{
		PublicServiceCode: models.PublicServiceCriminalRecordCertificate,
		UserIdentifier:    app.UserIdentifier,
		ApplicationID:     app.ApplicationID,
		Status:            status,
	}
	if app.PublicService != nil {
		event.PublicServiceCode = app.PublicService.Code
		event.ResourceID = app.PublicService.ResourceID
	}
	if err := s.events.Publish(ctx, ports.EventCertificateStatusUpdated, event); err != nil {
		s.log.Error("failed to publish status updated event", "err", err)
	}
}
