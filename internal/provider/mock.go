package provider

import (
	"context"
	"encoding/base64"
	"strconv"
	"sync"

	"crcert/internal/certificate/models"
)

// Mock is the deterministic provider used when the Sevdeir bridge is
// disabled. Orders complete after ReadyAfterChecks status checks so the
// reconciliation path stays exercisable end to end.
type Mock struct {
	// ReadyAfterChecks is how many status checks an order stays in
	// progress before its certificate becomes downloadable. Zero means
	// immediately ready.
	ReadyAfterChecks int

	mu     sync.Mutex
	nextID int64
	orders map[string]*mockOrder
}

type mockOrder struct {
	request OrderRequest
	checks  int
}

func NewMock() *Mock {
	return &Mock{ReadyAfterChecks: 1, nextID: 1000, orders: make(map[string]*mockOrder)}
}

var mockDocument = base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 mock certificate"))

var mockSignature = base64.StdEncoding.EncodeToString([]byte("mock detached signature"))

func (m *Mock) SendApplication(_ context.Context, req OrderRequest) (OrderResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.orders[strconv.FormatInt(id, 10)] = &mockOrder{request: req}

	return OrderResponse{ID: id, Status: "IN_PROGRESS"}, nil
}

func (m *Mock) CheckStatus(ctx context.Context, req DownloadRequest) (models.Status, error) {
	resp, err := m.DownloadCertificate(ctx, req)
	if err != nil || resp.Document == "" {
		return models.StatusProcessing, nil
	}
	return models.StatusDone, nil
}

func (m *Mock) DownloadCertificate(_ context.Context, req DownloadRequest) (DownloadResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[req.RequestID]
	if !ok {
		// Unknown orders are treated as ready so environments without
		// prior state can still walk the download flow.
		return DownloadResponse{Document: mockDocument, Signature: mockSignature}, nil
	}
	if order.checks < m.ReadyAfterChecks {
		order.checks++
		return DownloadResponse{}, nil
	}
	return DownloadResponse{Document: mockDocument, Signature: mockSignature}, nil
}

func (m *Mock) OrderResult(_ context.Context, req DownloadRequest) (OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := OrderResult{ID: req.RequestID, Status: OrderCompleted}
	if order, ok := m.orders[req.RequestID]; ok {
		result.ClientID = order.request.ClientID
		result.FirstName = order.request.FirstName
		result.LastName = order.request.LastName
		result.MiddleName = order.request.MiddleName
		result.Gender = order.request.Gender
		result.BirthDate = order.request.BirthDate
		if order.checks < m.ReadyAfterChecks {
			result.Status = "IN_PROGRESS"
		}
	}
	return result, nil
}

func (m *Mock) Types() []models.CertificateTypeInfo { return certificateTypes }

func (m *Mock) Reasons() []models.Reason { return reasonCatalog }
