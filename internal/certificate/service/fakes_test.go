package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
	"crcert/internal/provider"
)

// fakeProvider gives each test full control over registry behavior.
type fakeProvider struct {
	mu sync.Mutex

	sendResponse provider.OrderResponse
	sendErr      error
	statuses     map[string]models.Status
	statusErr    map[string]error
	downloadResp provider.DownloadResponse
	downloadErr  error
	orderResult  provider.OrderResult

	sendCalls []provider.OrderRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		sendResponse: provider.OrderResponse{ID: 123, Status: "IN_PROGRESS"},
		statuses:     map[string]models.Status{},
		statusErr:    map[string]error{},
		downloadResp: provider.DownloadResponse{Document: "cGRm", Signature: "cDdz"},
	}
}

func (f *fakeProvider) SendApplication(_ context.Context, req provider.OrderRequest) (provider.OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, req)
	return f.sendResponse, f.sendErr
}

func (f *fakeProvider) CheckStatus(_ context.Context, req provider.DownloadRequest) (models.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.statusErr[req.RequestID]; ok {
		return "", err
	}
	if status, ok := f.statuses[req.RequestID]; ok {
		return status, nil
	}
	return models.StatusProcessing, nil
}

func (f *fakeProvider) DownloadCertificate(_ context.Context, _ provider.DownloadRequest) (provider.DownloadResponse, error) {
	return f.downloadResp, f.downloadErr
}

func (f *fakeProvider) OrderResult(_ context.Context, _ provider.DownloadRequest) (provider.OrderResult, error) {
	return f.orderResult, nil
}

func (f *fakeProvider) Types() []models.CertificateTypeInfo {
	return provider.NewMock().Types()
}

func (f *fakeProvider) Reasons() []models.Reason {
	return provider.NewMock().Reasons()
}

type fakeSigner struct{}

func (fakeSigner) DetachedSignature(_ context.Context) (string, error) {
	return "detached-signature", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	pushes []models.PushNotification
}

func (f *fakeNotifier) CreatePushByMobileUID(_ context.Context, n models.PushNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, n)
	return nil
}

func (f *fakeNotifier) sent() []models.PushNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PushNotification(nil), f.pushes...)
}

type publishedEvent struct {
	Name    string
	Payload any
}

type fakeBus struct {
	mu     sync.Mutex
	err    error
	failOn string // when set, only this event name fails
	events []publishedEvent
}

func (f *fakeBus) Publish(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil && (f.failOn == "" || f.failOn == event) {
		return f.err
	}
	f.events = append(f.events, publishedEvent{Name: event, Payload: payload})
	return nil
}

func (f *fakeBus) published() []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedEvent(nil), f.events...)
}

type fakeUsers struct {
	documents []ports.UserDocument
	err       error
}

func (f *fakeUsers) UserDocuments(_ context.Context, _ string, _ []ports.DocumentFilter) ([]ports.UserDocument, error) {
	return f.documents, f.err
}

type fakeCatalog struct {
	settings *ports.PublicServiceSettings
	err      error
}

func (f *fakeCatalog) PublicServiceSettings(_ context.Context, code models.PublicServiceCode) (*ports.PublicServiceSettings, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.settings != nil {
		return f.settings, nil
	}
	return &ports.PublicServiceSettings{Code: code, IsActive: true}, nil
}

type fakeRating struct {
	form json.RawMessage
	err  error
}

func (f *fakeRating) RatingForm(_ context.Context, _ ports.RatingFormRequest) (json.RawMessage, error) {
	return f.form, f.err
}

type publishedTask struct {
	Task    string
	Payload any
	Delay   time.Duration
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks []publishedTask
}

func (f *fakeTasks) Publish(_ context.Context, task string, payload any, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, publishedTask{Task: task, Payload: payload, Delay: delay})
	return nil
}

func (f *fakeTasks) published() []publishedTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedTask(nil), f.tasks...)
}

type fakeAddress struct {
	address *ports.Address
	err     error
}

func (f *fakeAddress) PublicServiceAddress(_ context.Context, _ string) (*ports.Address, error) {
	return f.address, f.err
}

type fakeDocuments struct {
	passport    *ports.PassportWithRegistration
	passportErr error
	identity    *ports.IdentityDocument
	identityErr error
}

func (f *fakeDocuments) PassportWithRegistration(_ context.Context, _ *models.User) (*ports.PassportWithRegistration, error) {
	return f.passport, f.passportErr
}

func (f *fakeDocuments) IdentityDocument(_ context.Context, _ *models.User) (*ports.IdentityDocument, error) {
	return f.identity, f.identityErr
}
