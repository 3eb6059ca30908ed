package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"crcert/internal/certificate/mapper"
	"crcert/internal/certificate/metrics"
	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
	"crcert/internal/certificate/resolver"
	"crcert/internal/certificate/store"
	"crcert/internal/provider"
	"crcert/pkg/domainerrors"
)

// testMetrics is shared across tests: promauto registers into the default
// registry, which rejects a second registration of the same collectors.
var testMetrics = metrics.New()

type ServiceSuite struct {
	suite.Suite

	store     *store.Memory
	provider  *fakeProvider
	notifier  *fakeNotifier
	bus       *fakeBus
	users     *fakeUsers
	catalog   *fakeCatalog
	rating    *fakeRating
	tasks     *fakeTasks
	documents *fakeDocuments
	service   *Service
	user      *models.User
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewMemory()
	s.provider = newFakeProvider()
	s.notifier = &fakeNotifier{}
	s.bus = &fakeBus{}
	s.users = &fakeUsers{documents: []ports.UserDocument{
		{DocumentType: ports.DocumentTaxpayerCard, DocStatus: ports.DocStatusOk},
	}}
	s.catalog = &fakeCatalog{}
	s.rating = &fakeRating{}
	s.tasks = &fakeTasks{}
	s.documents = &fakeDocuments{passportErr: ports.ErrNotFound, identityErr: ports.ErrNotFound}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	autofill := map[models.PublicServiceCode]resolver.Autofill{
		models.PublicServiceDamagedPropertyRecovery: {ReasonID: "44", CertificateType: models.TypeFull},
	}
	res := resolver.New(&fakeAddress{err: ports.ErrNotFound}, s.documents, autofill, log)

	s.service = New(Config{
		ApplicationExpirationDays:   30,
		PublicServiceLinkWindowDays: 30,
		CheckBatchSize:              2,
		CheckInterval:               time.Minute,
	}, Deps{
		Store:    s.store,
		Provider: s.provider,
		Resolver: res,
		Mapper:   mapper.New("02.01.2006"),
		Signer:   fakeSigner{},
		Notifier: s.notifier,
		Events:   s.bus,
		Users:    s.users,
		Catalog:  s.catalog,
		Rating:   s.rating,
		Tasks:    s.tasks,
		Metrics:  testMetrics,
		Log:      log,
	})

	s.user = &models.User{
		Identifier:  "user-1",
		ITN:         "1234567890",
		FirstName:   "Леся",
		LastName:    "Українка",
		Gender:      models.GenderFemale,
		BirthDay:    "25.02.1971",
		PhoneNumber: "+380501112233",
		Email:       "lesia@example.com",
	}
}

func (s *ServiceSuite) validForm() *models.ApplicationRequest {
	return &models.ApplicationRequest{
		ReasonID:        "2",
		CertificateType: models.TypeShort,
		BirthPlace:      &models.BirthPlace{Country: "Україна", City: "Новоград-Волинський"},
		Nationalities:   []string{"Україна"},
		PhoneNumber:     "+380671234567",
	}
}

func (s *ServiceSuite) TestSendApplication_ValidationErrors() {
	ctx := context.Background()

	s.Run("missing reason without public service", func() {
		form := s.validForm()
		form.ReasonID = ""
		_, err := s.service.SendApplication(ctx, s.user, "device-1", form)
		s.Require().Error(err)
		s.Equal(domainerrors.CodeValidation, domainerrors.CodeOf(err))
	})

	s.Run("missing resource id for damaged property recovery", func() {
		form := &models.ApplicationRequest{
			PublicService: &models.PublicService{Code: models.PublicServiceDamagedPropertyRecovery},
		}
		_, err := s.service.SendApplication(ctx, s.user, "device-1", form)
		s.Require().Error(err)
		s.Equal(domainerrors.CodeValidation, domainerrors.CodeOf(err))
	})

	s.Run("too many nationalities", func() {
		form := s.validForm()
		form.Nationalities = []string{"Україна", "Польща", "Чехія"}
		_, err := s.service.SendApplication(ctx, s.user, "device-1", form)
		s.Require().Error(err)
		s.Equal(domainerrors.CodeValidation, domainerrors.CodeOf(err))
	})
}

func (s *ServiceSuite) TestSendApplication_GuardRejectsSecondProcessing() {
	ctx := context.Background()

	_, err := s.service.SendApplication(ctx, s.user, "device-1", s.validForm())
	s.Require().NoError(err)

	_, err = s.service.SendApplication(ctx, s.user, "device-1", s.validForm())
	s.Require().Error(err)
	s.Equal(domainerrors.CodeBadRequest, domainerrors.CodeOf(err))
	s.Equal(domainerrors.ProcessMoreThanOneInProgress, domainerrors.ProcessOf(err))

	count, err := s.store.Count(ctx, s.user.Identifier, models.StatusProcessing)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *ServiceSuite) TestSendApplication_ApplicantSnapshotStoresAlfa3() {
	ctx := context.Background()
	s.documents.passportErr = nil
	s.documents.passport = &ports.PassportWithRegistration{Passport: &ports.Passport{BirthCountry: "Україна"}}

	form := s.validForm()
	form.Nationalities = nil

	result, err := s.service.SendApplication(ctx, s.user, "device-1", form)
	s.Require().NoError(err)

	app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: result.ApplicationID})
	s.Require().NoError(err)
	s.Equal([]string{"UKR"}, app.Applicant.Nationality)
}

func (s *ServiceSuite) TestSendApplication_CompletedSynchronously() {
	ctx := context.Background()
	s.provider.sendResponse = provider.OrderResponse{ID: 123, Status: provider.OrderCompleted}

	result, err := s.service.SendApplication(ctx, s.user, "device-1", s.validForm())
	s.Require().NoError(err)
	s.Equal("123", result.ApplicationID)
	s.Equal(domainerrors.ProcessApplicationSent, result.ProcessCode)

	app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "123"})
	s.Require().NoError(err)
	s.Equal(models.StatusDone, app.Status)
	s.Require().NotNil(app.ReceivingApplicationTime)
	s.Require().Len(app.StatusHistory, 1)
	s.Equal(models.StatusDone, app.StatusHistory[0].Status)

	pushes := s.notifier.sent()
	s.Require().Len(pushes, 1)
	s.Equal(models.TemplateApplicationDone, pushes[0].TemplateCode)
	s.Equal("device-1", pushes[0].MobileUID)

	var rated, statusDone bool
	for _, event := range s.bus.published() {
		switch event.Name {
		case ports.EventRateService:
			rated = true
		case ports.EventCertificateStatusUpdated:
			statusDone = event.Payload.(models.StatusUpdatedEvent).Status == models.EventStatusDone
		}
	}
	s.True(rated)
	s.True(statusDone)
}

func (s *ServiceSuite) TestSendApplication_ProcessingPublishesRequestedEvent() {
	ctx := context.Background()

	result, err := s.service.SendApplication(ctx, s.user, "device-1", s.validForm())
	s.Require().NoError(err)
	s.Equal(domainerrors.ProcessApplicationSent, result.ProcessCode)

	s.Empty(s.notifier.sent())

	events := s.bus.published()
	s.Require().Len(events, 1)
	s.Equal(ports.EventCertificateStatusUpdated, events[0].Name)
	s.Equal(models.EventStatusRequested, events[0].Payload.(models.StatusUpdatedEvent).Status)
}

func (s *ServiceSuite) TestSendApplication_MoreThanOneInProgressSentinel() {
	ctx := context.Background()
	s.provider.sendResponse = provider.OrderResponse{Status: provider.OrderMoreThanOneInProgress}

	result, err := s.service.SendApplication(ctx, s.user, "device-1", s.validForm())
	s.Require().NoError(err)
	s.Empty(result.ApplicationID)
	s.Equal(domainerrors.ProcessMoreThanOneInProgress, result.ProcessCode)

	count, err := s.store.Count(ctx, s.user.Identifier, models.StatusProcessing)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *ServiceSuite) TestSendApplication_PublicServiceProcessCode() {
	ctx := context.Background()

	form := &models.ApplicationRequest{
		PublicService: &models.PublicService{
			Code:       models.PublicServiceDamagedPropertyRecovery,
			ResourceID: "res-9",
		},
	}
	result, err := s.service.SendApplication(ctx, s.user, "device-1", form)
	s.Require().NoError(err)
	s.Equal(domainerrors.ProcessSentForDamagedPropertyRecovery, result.ProcessCode)

	// Autofill forces the reason and type for the linked service.
	s.Require().Len(s.provider.sendCalls, 1)
	s.Equal("44", s.provider.sendCalls[0].Purpose)
	s.Equal(provider.OrderTypeFull, s.provider.sendCalls[0].Type)
}

func (s *ServiceSuite) TestSendApplication_OrderRoundTrip() {
	ctx := context.Background()
	s.provider.sendResponse = provider.OrderResponse{ID: 7, Status: provider.OrderCompleted}

	form := s.validForm()
	form.PreviousLastName = "Косач,Квітка"
	_, err := s.service.SendApplication(ctx, s.user, "device-1", form)
	s.Require().NoError(err)

	s.Require().Len(s.provider.sendCalls, 1)
	order := s.provider.sendCalls[0]
	s.Equal("1971-02-25", order.BirthDate)
	s.Equal(provider.OrderGenderFemale, order.Gender)
	s.True(order.LastNameChanged)
	s.Equal("Косач, Квітка", order.LastNameBefore)
	s.Equal("detached-signature", order.Signature)

	app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "7"})
	s.Require().NoError(err)
	s.Equal(models.StatusDone, app.Status)
}

func (s *ServiceSuite) TestCheckApplicationForPublicService() {
	ctx := context.Background()

	s.Run("no matching application", func() {
		check, err := s.service.CheckApplicationForPublicService(ctx, s.user, models.PublicServiceDamagedPropertyRecovery, "res-1")
		s.Require().NoError(err)
		s.False(check.HasOrderedCertificate)
	})

	s.Run("processing application gets linked", func() {
		now := time.Now()
		s.Require().NoError(s.store.Create(ctx, &models.Application{
			ApplicationID:  "55",
			UserIdentifier: s.user.Identifier,
			Status:         models.StatusProcessing,
			Reason:         models.Reason{Code: "44"},
			Type:           models.TypeFull,
			StatusHistory:  []models.StatusHistoryItem{{Status: models.StatusProcessing, Date: now}},
		}))

		check, err := s.service.CheckApplicationForPublicService(ctx, s.user, models.PublicServiceDamagedPropertyRecovery, "res-1")
		s.Require().NoError(err)
		s.True(check.HasOrderedCertificate)
		s.Equal(models.EventStatusRequested, check.Status)

		app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "55"})
		s.Require().NoError(err)
		s.Require().NotNil(app.PublicService)
		s.Equal(models.PublicServiceDamagedPropertyRecovery, app.PublicService.Code)
		s.Equal("res-1", app.PublicService.ResourceID)
	})

	s.Run("outdated application is ignored", func() {
		old := time.Now().Add(-40 * 24 * time.Hour)
		s.Require().NoError(s.store.Create(ctx, &models.Application{
			ApplicationID:            "56",
			UserIdentifier:           "user-2",
			Status:                   models.StatusDone,
			Reason:                   models.Reason{Code: "44"},
			Type:                     models.TypeFull,
			ReceivingApplicationTime: &old,
			CreatedAt:                old,
		}))

		other := &models.User{Identifier: "user-2"}
		check, err := s.service.CheckApplicationForPublicService(ctx, other, models.PublicServiceDamagedPropertyRecovery, "res-1")
		s.Require().NoError(err)
		s.False(check.HasOrderedCertificate)
	})

	s.Run("old processing application is still fresh", func() {
		old := time.Now().Add(-40 * 24 * time.Hour)
		s.Require().NoError(s.store.Create(ctx, &models.Application{
			ApplicationID:  "57",
			UserIdentifier: "user-3",
			Status:         models.StatusProcessing,
			Reason:         models.Reason{Code: "44"},
			Type:           models.TypeFull,
			CreatedAt:      old,
			StatusHistory:  []models.StatusHistoryItem{{Status: models.StatusProcessing, Date: old}},
		}))

		other := &models.User{Identifier: "user-3"}
		check, err := s.service.CheckApplicationForPublicService(ctx, other, models.PublicServiceDamagedPropertyRecovery, "res-2")
		s.Require().NoError(err)
		s.True(check.HasOrderedCertificate)
		s.Equal(models.EventStatusRequested, check.Status)

		app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "57"})
		s.Require().NoError(err)
		s.Require().NotNil(app.PublicService)
		s.Equal("res-2", app.PublicService.ResourceID)
	})
}

func (s *ServiceSuite) TestList() {
	ctx := context.Background()

	s.Run("empty list returns stub message", func() {
		result, err := s.service.List(ctx, s.user, models.StatusDone, 0, 10)
		s.Require().NoError(err)
		s.Zero(result.Total)
		s.Require().NotNil(result.StubMessage)
		s.Empty(result.Certificates)
	})

	s.Run("processing list refreshes statuses inline", func() {
		_, err := s.service.SendApplication(ctx, s.user, "device-1", s.validForm())
		s.Require().NoError(err)
		s.provider.statuses["123"] = models.StatusDone

		result, err := s.service.List(ctx, s.user, models.StatusProcessing, 0, 10)
		s.Require().NoError(err)
		s.Zero(result.Total)

		app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "123"})
		s.Require().NoError(err)
		s.Equal(models.StatusDone, app.Status)
		// Inline refresh runs silently.
		s.Empty(s.notifier.sent())
	})
}

func (s *ServiceSuite) TestDownloadArchive() {
	ctx := context.Background()
	now := time.Now()
	s.Require().NoError(s.store.Create(ctx, &models.Application{
		ApplicationID:            "77",
		UserIdentifier:           s.user.Identifier,
		Status:                   models.StatusDone,
		ReceivingApplicationTime: &now,
		CreatedAt:                now,
	}))

	doc, err := s.service.DownloadArchive(ctx, s.user, "77")
	s.Require().NoError(err)
	s.Contains(doc.FileName, "vytiah_pro_nesudymist_vid_")
	s.True(len(doc.FileName) > len(".zip"))

	raw, err := base64.StdEncoding.DecodeString(doc.File)
	s.Require().NoError(err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	s.Require().NoError(err)
	s.Require().Len(zr.File, 2)

	app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "77"})
	s.Require().NoError(err)
	s.True(app.IsDownloadAction)
	s.False(app.IsViewAction)

	_, err = s.service.DownloadPdf(ctx, s.user, "77")
	s.Require().NoError(err)
	app, err = s.store.FindOne(ctx, store.FindFilter{ApplicationID: "77"})
	s.Require().NoError(err)
	s.True(app.IsViewAction)
}

func (s *ServiceSuite) TestDownloadPdfToProcess() {
	ctx := context.Background()
	now := time.Now()
	s.Require().NoError(s.store.Create(ctx, &models.Application{
		ApplicationID:            "78",
		UserIdentifier:           "someone-else",
		Status:                   models.StatusDone,
		ReceivingApplicationTime: &now,
		CreatedAt:                now,
	}))

	doc, err := s.service.DownloadPdfToProcess(ctx, "78")
	s.Require().NoError(err)
	s.NotEmpty(doc.File)
	s.Contains(doc.FileName, "vytiah_pro_nesudymist_vid_")

	// No caller scope, no action flags.
	app, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "78"})
	s.Require().NoError(err)
	s.False(app.IsDownloadAction)
	s.False(app.IsViewAction)

	_, err = s.service.DownloadPdfToProcess(ctx, "missing")
	s.Require().Error(err)
	s.Equal(domainerrors.CodeNotFound, domainerrors.CodeOf(err))
}

func (s *ServiceSuite) TestGetByID() {
	ctx := context.Background()
	now := time.Now()
	s.rating.form = []byte(`{"rating":"form"}`)
	s.Require().NoError(s.store.Create(ctx, &models.Application{
		ApplicationID:  "88",
		UserIdentifier: s.user.Identifier,
		Status:         models.StatusDone,
		StatusHistory: []models.StatusHistoryItem{
			{Status: models.StatusProcessing, Date: now.Add(-time.Hour)},
			{Status: models.StatusDone, Date: now},
		},
	}))

	detail, err := s.service.GetByID(ctx, s.user, "88")
	s.Require().NoError(err)
	s.Equal(models.StatusDone, detail.Application.Status)
	s.Len(detail.Application.LoadActions, 2)
	s.JSONEq(`{"rating":"form"}`, string(detail.RatingForm))

	_, err = s.service.GetByID(ctx, s.user, "no-such-application")
	s.Require().Error(err)
	s.Equal(domainerrors.CodeNotFound, domainerrors.CodeOf(err))
}

func (s *ServiceSuite) TestApplicationInfo() {
	ctx := context.Background()

	s.Run("inactive service blocks", func() {
		s.catalog.settings = &ports.PublicServiceSettings{IsActive: false}
		info, err := s.service.ApplicationInfo(ctx, s.user, "")
		s.Require().NoError(err)
		s.Require().NotNil(info.AttentionMessage)
		s.Empty(info.NextScreen)
		s.catalog.settings = nil
	})

	s.Run("underage applicant blocks", func() {
		young := *s.user
		young.BirthDay = time.Now().AddDate(-13, 0, 0).Format("02.01.2006")
		info, err := s.service.ApplicationInfo(ctx, &young, "")
		s.Require().NoError(err)
		s.Require().NotNil(info.AttentionMessage)
	})

	s.Run("confirming taxpayer card blocks", func() {
		s.users.documents = []ports.UserDocument{
			{DocumentType: ports.DocumentTaxpayerCard, DocStatus: ports.DocStatusConfirming},
		}
		info, err := s.service.ApplicationInfo(ctx, s.user, "")
		s.Require().NoError(err)
		s.Require().NotNil(info.AttentionMessage)
		s.users.documents = []ports.UserDocument{
			{DocumentType: ports.DocumentTaxpayerCard, DocStatus: ports.DocStatusOk},
		}
	})

	s.Run("happy path starts at reasons", func() {
		info, err := s.service.ApplicationInfo(ctx, s.user, "")
		s.Require().NoError(err)
		s.Nil(info.AttentionMessage)
		s.Equal(models.ScreenReasons, info.NextScreen)
		s.NotEmpty(info.Text)
	})

	s.Run("damaged property recovery skips reasons", func() {
		info, err := s.service.ApplicationInfo(ctx, s.user, models.PublicServiceDamagedPropertyRecovery)
		s.Require().NoError(err)
		s.Equal(models.ScreenRequester, info.NextScreen)
	})

	s.Run("processing application blocks", func() {
		_, err := s.service.SendApplication(ctx, s.user, "device-1", s.validForm())
		s.Require().NoError(err)

		info, err := s.service.ApplicationInfo(ctx, s.user, "")
		s.Require().NoError(err)
		s.Require().NotNil(info.AttentionMessage)
	})
}

func (s *ServiceSuite) TestResolveScreen() {
	ctx := context.Background()

	state, err := s.service.ResolveScreen(ctx, s.user, nil, models.ScreenNationalities)
	s.Require().NoError(err)
	s.Equal(models.ScreenRegistrationPlace, state.NextScreen)
}
