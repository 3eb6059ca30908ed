package store

import (
	"context"
	"sync"
	"time"

	"crcert/internal/certificate/models"
	"crcert/pkg/domainerrors"
)

// Memory is an in-memory Store. It mirrors the postgres query shapes so
// service tests exercise the same filters production runs.
type Memory struct {
	mu   sync.RWMutex
	apps []*models.Application
	byID map[string]*models.Application
}

func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*models.Application)}
}

func (m *Memory) Create(_ context.Context, app *models.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[app.ApplicationID]; exists {
		return domainerrors.New(domainerrors.CodeInternal, "duplicate application id")
	}

	clone := cloneApplication(app)
	now := time.Now()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now
	}
	clone.UpdatedAt = now

	m.apps = append(m.apps, clone)
	m.byID[clone.ApplicationID] = clone
	return nil
}

func (m *Memory) FindOne(_ context.Context, filter FindFilter) (*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, app := range m.apps {
		if matches(app, filter) {
			return cloneApplication(app), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) List(_ context.Context, userIdentifier string, status models.Status, skip, limit int) ([]*models.Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*models.Application
	// Newest first: insertion order reversed.
	for i := len(m.apps) - 1; i >= 0; i-- {
		app := m.apps[i]
		if app.UserIdentifier == userIdentifier && app.Status == status {
			matched = append(matched, app)
		}
	}

	if skip >= len(matched) {
		return nil, nil
	}
	matched = matched[skip:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*models.Application, 0, len(matched))
	for _, app := range matched {
		out = append(out, cloneApplication(app))
	}
	return out, nil
}

func (m *Memory) Count(_ context.Context, userIdentifier string, status models.Status) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, app := range m.apps {
		if app.UserIdentifier == userIdentifier && app.Status == status {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountProcessing(ctx context.Context, userIdentifier string) (int, error) {
	return m.Count(ctx, userIdentifier, models.StatusProcessing)
}

func (m *Memory) ProcessingRefs(_ context.Context, userIdentifier string) ([]models.ApplicationRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var refs []models.ApplicationRef
	for _, app := range m.apps {
		if app.UserIdentifier == userIdentifier && app.Status == models.StatusProcessing {
			refs = append(refs, toRef(app))
		}
	}
	return refs, nil
}

func (m *Memory) EachProcessing(_ context.Context, fn func(models.ApplicationRef) error) error {
	m.mu.RLock()
	refs := make([]models.ApplicationRef, 0)
	for _, app := range m.apps {
		if app.Status == models.StatusProcessing {
			refs = append(refs, toRef(app))
		}
	}
	m.mu.RUnlock()

	for _, ref := range refs {
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) AttachPublicService(_ context.Context, applicationID string, ps models.PublicService) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.byID[applicationID]
	if !ok {
		return ErrNotFound
	}
	app.PublicService = &ps
	app.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SetDownloaded(ctx context.Context, applicationID string) error {
	return m.setFlag(applicationID, func(app *models.Application) { app.IsDownloadAction = true })
}

func (m *Memory) SetViewed(ctx context.Context, applicationID string) error {
	return m.setFlag(applicationID, func(app *models.Application) { app.IsViewAction = true })
}

func (m *Memory) setFlag(applicationID string, set func(*models.Application)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.byID[applicationID]
	if !ok {
		return ErrNotFound
	}
	set(app)
	app.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) CompleteAll(_ context.Context, applicationIDs []string, finishedAt time.Time, markNotified bool) (int64, error) {
	return m.transitionAll(applicationIDs, models.StatusDone, models.TemplateApplicationDone, finishedAt, markNotified, true)
}

func (m *Memory) CancelAll(_ context.Context, applicationIDs []string, finishedAt time.Time, markNotified bool) (int64, error) {
	return m.transitionAll(applicationIDs, models.StatusCancel, models.TemplateApplicationRefused, finishedAt, markNotified, false)
}

func (m *Memory) transitionAll(
	applicationIDs []string,
	status models.Status,
	template models.TemplateCode,
	finishedAt time.Time,
	markNotified bool,
	setReceivingTime bool,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for _, id := range applicationIDs {
		app, ok := m.byID[id]
		if !ok {
			continue
		}
		app.Status = status
		app.StatusHistory = append(app.StatusHistory, models.StatusHistoryItem{Status: status, Date: finishedAt})
		if setReceivingTime {
			t := finishedAt
			app.ReceivingApplicationTime = &t
		}
		if markNotified {
			if app.Notifications == nil {
				app.Notifications = make(map[models.TemplateCode]time.Time)
			}
			app.Notifications[template] = finishedAt
		}
		app.UpdatedAt = finishedAt
		updated++
	}
	return updated, nil
}

func matches(app *models.Application, filter FindFilter) bool {
	if filter.UserIdentifier != "" && app.UserIdentifier != filter.UserIdentifier {
		return false
	}
	if filter.ApplicationID != "" && app.ApplicationID != filter.ApplicationID {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, s := range filter.Statuses {
			if app.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.ReasonCode != "" && app.Reason.Code != filter.ReasonCode {
		return false
	}
	if filter.Type != "" && app.Type != filter.Type {
		return false
	}
	return true
}

func toRef(app *models.Application) models.ApplicationRef {
	ref := models.ApplicationRef{
		ApplicationID:  app.ApplicationID,
		UserIdentifier: app.UserIdentifier,
		MobileUID:      app.MobileUID,
		CreatedAt:      app.CreatedAt,
	}
	if app.PublicService != nil {
		ps := *app.PublicService
		ref.PublicService = &ps
	}
	if len(app.Notifications) > 0 {
		ref.Notifications = make(map[models.TemplateCode]time.Time, len(app.Notifications))
		for k, v := range app.Notifications {
			ref.Notifications[k] = v
		}
	}
	return ref
}

func cloneApplication(app *models.Application) *models.Application {
	clone := *app
	if app.PublicService != nil {
		ps := *app.PublicService
		clone.PublicService = &ps
	}
	if app.SendingRequestTime != nil {
		t := *app.SendingRequestTime
		clone.SendingRequestTime = &t
	}
	if app.ReceivingApplicationTime != nil {
		t := *app.ReceivingApplicationTime
		clone.ReceivingApplicationTime = &t
	}
	clone.StatusHistory = append([]models.StatusHistoryItem(nil), app.StatusHistory...)
	clone.Applicant.Nationality = append([]string(nil), app.Applicant.Nationality...)
	if app.Notifications != nil {
		clone.Notifications = make(map[models.TemplateCode]time.Time, len(app.Notifications))
		for k, v := range app.Notifications {
			clone.Notifications[k] = v
		}
	}
	return &clone
}
