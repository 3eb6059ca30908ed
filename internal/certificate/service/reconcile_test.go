package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
	"crcert/internal/certificate/store"
)

func (s *ServiceSuite) createProcessing(id string, createdAt time.Time, ps *models.PublicService) {
	s.T().Helper()
	s.Require().NoError(s.store.Create(context.Background(), &models.Application{
		ApplicationID:  id,
		UserIdentifier: s.user.Identifier,
		MobileUID:      "device-1",
		Status:         models.StatusProcessing,
		PublicService:  ps,
		CreatedAt:      createdAt,
		StatusHistory:  []models.StatusHistoryItem{{Status: models.StatusProcessing, Date: createdAt}},
	}))
}

func (s *ServiceSuite) runBatch(refs []models.ApplicationRef, notify []models.TemplateCode) {
	s.T().Helper()
	payload, err := json.Marshal(CheckBatch{Applications: refs, NotifyTemplates: notify})
	s.Require().NoError(err)
	s.Require().NoError(s.service.CheckApplicationsBatch(context.Background(), payload))
}

func (s *ServiceSuite) processingRefs() []models.ApplicationRef {
	s.T().Helper()
	refs, err := s.store.ProcessingRefs(context.Background(), s.user.Identifier)
	s.Require().NoError(err)
	return refs
}

func (s *ServiceSuite) TestPrepareStatusChecks_Batching() {
	ctx := context.Background()
	now := time.Now()
	for i := 0; i < 3; i++ {
		s.createProcessing(fmt.Sprintf("app-%d", i), now, nil)
	}

	s.Require().NoError(s.service.PrepareStatusChecks(ctx))

	tasks := s.tasks.published()
	s.Require().Len(tasks, 2)

	first := tasks[0].Payload.(CheckBatch)
	second := tasks[1].Payload.(CheckBatch)
	s.Len(first.Applications, 2)
	s.Len(second.Applications, 1)

	s.Equal(ports.TaskCheckApplications, tasks[0].Task)
	s.Equal(time.Duration(0), tasks[0].Delay)
	s.Equal(time.Minute, tasks[1].Delay)

	expected := []models.TemplateCode{models.TemplateApplicationDone, models.TemplateApplicationRefused}
	s.Equal(expected, first.NotifyTemplates)
	s.Equal(expected, second.NotifyTemplates)
}

func (s *ServiceSuite) TestPrepareStatusChecks_NothingToSchedule() {
	s.Require().NoError(s.service.PrepareStatusChecks(context.Background()))
	s.Empty(s.tasks.published())
}

func (s *ServiceSuite) TestCheckBatch_CompletesDoneApplications() {
	now := time.Now()
	s.createProcessing("app-1", now, nil)
	s.createProcessing("app-2", now, nil)
	s.createProcessing("app-3", now, nil)
	s.provider.statuses["app-1"] = models.StatusDone
	s.provider.statuses["app-2"] = models.StatusDone

	notify := []models.TemplateCode{models.TemplateApplicationDone, models.TemplateApplicationRefused}
	s.runBatch(s.processingRefs(), notify)

	ctx := context.Background()
	doneCount, err := s.store.Count(ctx, s.user.Identifier, models.StatusDone)
	s.Require().NoError(err)
	s.Equal(2, doneCount)

	processingCount, err := s.store.Count(ctx, s.user.Identifier, models.StatusProcessing)
	s.Require().NoError(err)
	s.Equal(1, processingCount)

	pushes := s.notifier.sent()
	s.Require().Len(pushes, 2)
	for _, push := range pushes {
		s.Equal(models.TemplateApplicationDone, push.TemplateCode)
		s.Equal("device-1", push.MobileUID)
	}

	done, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "app-1"})
	s.Require().NoError(err)
	s.Require().NotNil(done.ReceivingApplicationTime)
	s.Contains(done.Notifications, models.TemplateApplicationDone)
	s.Require().Len(done.StatusHistory, 2)
	s.Equal(models.StatusDone, done.StatusHistory[1].Status)
}

func (s *ServiceSuite) TestCheckBatch_CancelsExpiredApplications() {
	old := time.Now().Add(-31 * 24 * time.Hour)
	s.createProcessing("app-old", old, nil)

	notify := []models.TemplateCode{models.TemplateApplicationDone, models.TemplateApplicationRefused}
	s.runBatch(s.processingRefs(), notify)

	app, err := s.store.FindOne(context.Background(), store.FindFilter{ApplicationID: "app-old"})
	s.Require().NoError(err)
	s.Equal(models.StatusCancel, app.Status)
	s.Nil(app.ReceivingApplicationTime)
	s.Contains(app.Notifications, models.TemplateApplicationRefused)

	pushes := s.notifier.sent()
	s.Require().Len(pushes, 1)
	s.Equal(models.TemplateApplicationRefused, pushes[0].TemplateCode)
}

func (s *ServiceSuite) TestCheckBatch_SilentWithoutNotifyTemplates() {
	now := time.Now()
	s.createProcessing("app-1", now, nil)
	s.provider.statuses["app-1"] = models.StatusDone

	s.runBatch(s.processingRefs(), nil)

	app, err := s.store.FindOne(context.Background(), store.FindFilter{ApplicationID: "app-1"})
	s.Require().NoError(err)
	s.Equal(models.StatusDone, app.Status)
	s.NotContains(app.Notifications, models.TemplateApplicationDone)
	s.Empty(s.notifier.sent())
}

func (s *ServiceSuite) TestCheckBatch_SkipsAlreadyNotified() {
	now := time.Now()
	s.createProcessing("app-1", now, nil)
	s.provider.statuses["app-1"] = models.StatusDone

	refs := s.processingRefs()
	s.Require().Len(refs, 1)
	refs[0].Notifications = map[models.TemplateCode]time.Time{
		models.TemplateApplicationDone: now.Add(-time.Hour),
	}

	s.runBatch(refs, []models.TemplateCode{models.TemplateApplicationDone})

	app, err := s.store.FindOne(context.Background(), store.FindFilter{ApplicationID: "app-1"})
	s.Require().NoError(err)
	s.Equal(models.StatusDone, app.Status)
	s.Empty(s.notifier.sent())
}

func (s *ServiceSuite) TestCheckBatch_LinkedApplicationGetsEventNotPush() {
	now := time.Now()
	ps := &models.PublicService{Code: models.PublicServiceDamagedPropertyRecovery, ResourceID: "res-1"}
	s.createProcessing("app-linked", now, ps)
	s.provider.statuses["app-linked"] = models.StatusDone

	notify := []models.TemplateCode{models.TemplateApplicationDone, models.TemplateApplicationRefused}
	s.runBatch(s.processingRefs(), notify)

	s.Empty(s.notifier.sent())

	events := s.bus.published()
	s.Require().Len(events, 1)
	s.Equal(ports.EventCertificateStatusUpdated, events[0].Name)
	event := events[0].Payload.(models.StatusUpdatedEvent)
	s.Equal(models.PublicServiceDamagedPropertyRecovery, event.PublicServiceCode)
	s.Equal("res-1", event.ResourceID)
	s.Equal(models.EventStatusDone, event.Status)

	app, err := s.store.FindOne(context.Background(), store.FindFilter{ApplicationID: "app-linked"})
	s.Require().NoError(err)
	s.Equal(models.StatusDone, app.Status)
}

func (s *ServiceSuite) TestCheckBatch_LinkedApplicationRatesWhenEventFails() {
	now := time.Now()
	ps := &models.PublicService{Code: models.PublicServiceDamagedPropertyRecovery, ResourceID: "res-1"}
	s.createProcessing("app-linked", now, ps)
	s.provider.statuses["app-linked"] = models.StatusDone
	s.bus.err = fmt.Errorf("broker unavailable")
	s.bus.failOn = ports.EventCertificateStatusUpdated

	notify := []models.TemplateCode{models.TemplateApplicationDone, models.TemplateApplicationRefused}
	s.runBatch(s.processingRefs(), notify)

	// The linked service never received the event, so the rating prompt
	// goes out; the push stays with the service.
	s.Empty(s.notifier.sent())

	events := s.bus.published()
	s.Require().Len(events, 1)
	s.Equal(ports.EventRateService, events[0].Name)

	app, err := s.store.FindOne(context.Background(), store.FindFilter{ApplicationID: "app-linked"})
	s.Require().NoError(err)
	s.Equal(models.StatusDone, app.Status)
}

func (s *ServiceSuite) TestCheckBatch_IsolatesFailedChecks() {
	now := time.Now()
	s.createProcessing("app-ok", now, nil)
	s.createProcessing("app-broken", now, nil)
	s.provider.statuses["app-ok"] = models.StatusDone
	s.provider.statusErr["app-broken"] = fmt.Errorf("registry timeout")

	s.runBatch(s.processingRefs(), nil)

	ctx := context.Background()
	ok, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "app-ok"})
	s.Require().NoError(err)
	s.Equal(models.StatusDone, ok.Status)

	broken, err := s.store.FindOne(ctx, store.FindFilter{ApplicationID: "app-broken"})
	s.Require().NoError(err)
	s.Equal(models.StatusProcessing, broken.Status)
}

func (s *ServiceSuite) TestCheckBatch_MalformedPayloadIsDropped() {
	s.Require().NoError(s.service.CheckApplicationsBatch(context.Background(), json.RawMessage(`{not json`)))
	s.Empty(s.notifier.sent())
}
