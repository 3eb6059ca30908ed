package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
	"crcert/internal/provider"
)

// CheckBatch is the delayed-task payload carrying one reconciliation batch.
// NotifyTemplates is the per-batch push allowlist; an empty list means
// "update state silently".
type CheckBatch struct {
	Applications    []models.ApplicationRef `json:"applications"`
	NotifyTemplates []models.TemplateCode   `json:"notifyTemplates"`
}

// PrepareStatusChecks is the reconciliation producer: it drains the
// processing cursor into fixed-size batches and publishes each as a delayed
// task. Delays grow with the batch index so the registry sees a steady
// trickle instead of one burst.
func (s *Service) PrepareStatusChecks(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "certificate.PrepareStatusChecks")
	defer span.End()

	notify := []models.TemplateCode{models.TemplateApplicationDone, models.TemplateApplicationRefused}

	var (
		batch      = make([]models.ApplicationRef, 0, s.cfg.CheckBatchSize)
		batchIndex int
		total      int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		delay := time.Duration(batchIndex) * s.cfg.CheckInterval
		err := s.tasks.Publish(ctx, ports.TaskCheckApplications, CheckBatch{
			Applications:    batch,
			NotifyTemplates: notify,
		}, delay)
		if err != nil {
			return err
		}
		s.metrics.IncrementChecksScheduled()
		total += len(batch)
		batchIndex++
		batch = make([]models.ApplicationRef, 0, s.cfg.CheckBatchSize)
		return nil
	}

	err := s.store.EachProcessing(ctx, func(ref models.ApplicationRef) error {
		batch = append(batch, ref)
		if len(batch) == s.cfg.CheckBatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}

	span.SetAttributes(attribute.Int("applications.scheduled", total), attribute.Int("batches", batchIndex))
	s.log.Info("scheduled application status checks", "applications", total, "batches", batchIndex)
	return nil
}

// CheckApplicationsBatch is the delayed-task handler for one batch.
func (s *Service) CheckApplicationsBatch(ctx context.Context, payload json.RawMessage) error {
	var batch CheckBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		s.log.Error("malformed check batch payload", "err", err)
		return nil
	}
	return s.checkApplications(ctx, batch.Applications, batch.NotifyTemplates)
}

// checkApplications fans out one status check per application, buckets the
// outcomes and performs one bulk transition per non-empty bucket.
// Per-application failures are isolated: a failed check leaves the
// application processing for the next run.
func (s *Service) checkApplications(ctx context.Context, refs []models.ApplicationRef, notify []models.TemplateCode) error {
	ctx, span := s.tracer.Start(ctx, "certificate.checkApplications")
	defer span.End()

	expiration := time.Duration(s.cfg.ApplicationExpirationDays) * 24 * time.Hour
	notifyDone := containsTemplate(notify, models.TemplateApplicationDone)
	notifyRefused := containsTemplate(notify, models.TemplateApplicationRefused)

	var (
		mu      sync.Mutex
		done    []models.ApplicationRef
		refused []models.ApplicationRef
	)

	var group errgroup.Group
	for _, ref := range refs {
		group.Go(func() error {
			status, err := s.checkOne(ctx, ref)
			if err != nil {
				s.log.Error("application status check failed", "applicationId", ref.ApplicationID, "err", err)
				return nil
			}

			switch {
			case status == models.StatusDone:
				s.finishDone(ctx, ref, notifyDone)
				mu.Lock()
				done = append(done, ref)
				mu.Unlock()
			case time.Since(ref.CreatedAt) > expiration:
				s.finishRefused(ctx, ref, notifyRefused)
				mu.Lock()
				refused = append(refused, ref)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.log.Error("status check fan-out failed", "err", err)
	}

	now := time.Now()
	if len(done) > 0 {
		updated, err := s.store.CompleteAll(ctx, applicationIDs(done), now, notifyDone)
		if err != nil {
			return err
		}
		s.metrics.IncrementFinished(string(models.StatusDone), int(updated))
	}
	if len(refused) > 0 {
		updated, err := s.store.CancelAll(ctx, applicationIDs(refused), now, notifyRefused)
		if err != nil {
			return err
		}
		s.metrics.IncrementFinished(string(models.StatusCancel), int(updated))
	}

	span.SetAttributes(attribute.Int("applications.done", len(done)), attribute.Int("applications.refused", len(refused)))
	s.log.Info("checked processing applications",
		"checked", len(refs), "done", len(done), "refused", len(refused))
	return nil
}

func (s *Service) checkOne(ctx context.Context, ref models.ApplicationRef) (models.Status, error) {
	signature, err := s.signer.DetachedSignature(ctx)
	if err != nil {
		return "", err
	}

	started := time.Now()
	status, err := s.provider.CheckStatus(ctx, provider.DownloadRequest{
		RequestID: ref.ApplicationID,
		Signature: signature,
	})
	s.metrics.ObserveProviderCall("check_status", time.Since(started))
	return status, err
}

// finishDone handles the side effects of a done classification. When the
// application is linked to a public service and the status event goes out,
// the service owns the user loop and no push is sent.
func (s *Service) finishDone(ctx context.Context, ref models.ApplicationRef, notifyAllowed bool) {
	if ref.PublicService != nil {
		event := models.StatusUpdatedEvent{
			PublicServiceCode: ref.PublicService.Code,
			UserIdentifier:    ref.UserIdentifier,
			ApplicationID:     ref.ApplicationID,
			ResourceID:        ref.PublicService.ResourceID,
			Status:            models.EventStatusDone,
		}
		err := s.events.Publish(ctx, ports.EventCertificateStatusUpdated, event)
		if err == nil {
			// The linked service owns the user loop; no direct push
			// or rating.
			return
		}
		s.log.Error("failed to publish status updated event", "applicationId", ref.ApplicationID, "err", err)
		// The linked service never heard about the transition, so the
		// rating prompt falls back to us; the push stays suppressed.
		s.publishRateService(ctx, &models.Application{
			ApplicationID:  ref.ApplicationID,
			UserIdentifier: ref.UserIdentifier,
		})
		return
	}

	if notifyAllowed {
		s.notifyRef(ctx, ref, models.TemplateApplicationDone)
	}
	s.publishRateService(ctx, &models.Application{
		ApplicationID:  ref.ApplicationID,
		UserIdentifier: ref.UserIdentifier,
	})
}

func (s *Service) finishRefused(ctx context.Context, ref models.ApplicationRef, notifyAllowed bool) {
	if ref.PublicService != nil || !notifyAllowed {
		return
	}
	s.notifyRef(ctx, ref, models.TemplateApplicationRefused)
}

func (s *Service) notifyRef(ctx context.Context, ref models.ApplicationRef, template models.TemplateCode) {
	if _, sent := ref.Notifications[template]; sent {
		return
	}
	err := s.notifier.CreatePushByMobileUID(ctx, models.PushNotification{
		TemplateCode:   template,
		UserIdentifier: ref.UserIdentifier,
		MobileUID:      ref.MobileUID,
		ResourceID:     ref.ApplicationID,
	})
	if err != nil {
		s.log.Error("failed to send push notification", "template", string(template), "err", err)
		return
	}
	s.metrics.IncrementNotificationsSent(string(template))
}

func containsTemplate(templates []models.TemplateCode, template models.TemplateCode) bool {
	for _, t := range templates {
		if t == template {
			return true
		}
	}
	return false
}

func applicationIDs(refs []models.ApplicationRef) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ApplicationID)
	}
	return ids
}
