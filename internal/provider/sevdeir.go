package provider

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"crcert/internal/certificate/models"
	"crcert/pkg/domainerrors"
)

// Exchange names the Sevdeir request topics.
const (
	ExchangeOrder       = "order"
	ExchangeDownload    = "download"
	ExchangeOrderResult = "order-result"
)

// Exchanger performs one correlated request/response round trip against the
// registry bridge and returns the raw response payload.
type Exchanger interface {
	Exchange(ctx context.Context, exchange string, payload any) ([]byte, error)
}

// Sevdeir talks to the real registry through an async exchange. Responses
// are matched to requests by correlation id inside the Exchanger.
type Sevdeir struct {
	exchanger   Exchanger
	log         *slog.Logger
	sendTimeout time.Duration
}

func NewSevdeir(exchanger Exchanger, log *slog.Logger, sendTimeout time.Duration) *Sevdeir {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	return &Sevdeir{exchanger: exchanger, log: log, sendTimeout: sendTimeout}
}

func (s *Sevdeir) SendApplication(ctx context.Context, req OrderRequest) (OrderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	raw, err := s.exchanger.Exchange(ctx, ExchangeOrder, req)
	if err != nil {
		// The registry reports the duplicate-submission conflict as a
		// transport error whose message is the sentinel status.
		if err.Error() == string(OrderMoreThanOneInProgress) {
			return OrderResponse{Status: OrderMoreThanOneInProgress}, nil
		}

		s.log.Error("failed to send criminal record certificate application", "err", err)

		return OrderResponse{}, domainerrors.Wrap(domainerrors.CodeInternal,
			"failed to send criminal record certificate application", err).
			WithProcess(domainerrors.ProcessFailedToSend)
	}

	var resp OrderResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		s.log.Error("malformed order response", "err", err)

		return OrderResponse{}, domainerrors.Wrap(domainerrors.CodeInternal,
			"failed to send criminal record certificate application", err).
			WithProcess(domainerrors.ProcessFailedToSend)
	}
	return resp, nil
}

func (s *Sevdeir) CheckStatus(ctx context.Context, req DownloadRequest) (models.Status, error) {
	resp, err := s.DownloadCertificate(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.Document != "" {
		return models.StatusDone, nil
	}
	return models.StatusProcessing, nil
}

func (s *Sevdeir) DownloadCertificate(ctx context.Context, req DownloadRequest) (DownloadResponse, error) {
	raw, err := s.exchanger.Exchange(ctx, ExchangeDownload, req)
	if err != nil || len(raw) == 0 {
		s.log.Error("failed to get criminal record certificate from sevdeir", "err", err)

		return DownloadResponse{}, domainerrors.Wrap(domainerrors.CodeInternal,
			"failed to get criminal record certificate from sevdeir", err).
			WithProcess(domainerrors.ProcessServiceUnavailable)
	}

	var resp DownloadResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return DownloadResponse{}, domainerrors.Wrap(domainerrors.CodeInternal,
			"failed to get criminal record certificate from sevdeir", err).
			WithProcess(domainerrors.ProcessServiceUnavailable)
	}
	return resp, nil
}

func (s *Sevdeir) OrderResult(ctx context.Context, req DownloadRequest) (OrderResult, error) {
	raw, err := s.exchanger.Exchange(ctx, ExchangeOrderResult, req)
	if err != nil {
		s.log.Error("failed to get criminal record certificate info from sevdeir", "err", err)

		return OrderResult{}, domainerrors.Wrap(domainerrors.CodeInternal,
			"failed to get criminal record certificate info from sevdeir", err).
			WithProcess(domainerrors.ProcessServiceUnavailable)
	}

	var result OrderResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return OrderResult{}, domainerrors.Wrap(domainerrors.CodeInternal,
			"failed to get criminal record certificate info from sevdeir", err).
			WithProcess(domainerrors.ProcessServiceUnavailable)
	}
	return result, nil
}

func (s *Sevdeir) Types() []models.CertificateTypeInfo { return certificateTypes }

func (s *Sevdeir) Reasons() []models.Reason { return reasonCatalog }
