package service

import (
	"context"
	"time"

	"crcert/internal/certificate/mapper"
	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
)

const minApplicantAge = 14

// InfoResponse opens (or blocks) the request flow.
type InfoResponse struct {
	NavigationPanel  *ports.NavigationPanel   `json:"navigationPanel,omitempty"`
	AttentionMessage *models.AttentionMessage `json:"attentionMessage,omitempty"`
	Title            string                   `json:"title,omitempty"`
	Text             string                   `json:"text,omitempty"`
	NextScreen       models.Screen            `json:"nextScreen,omitempty"`
}

// ApplicationInfo runs the availability chain: service active, applicant old
// enough, taxpayer card verified, no application already in flight. The
// first failed check short-circuits with its message.
func (s *Service) ApplicationInfo(ctx context.Context, user *models.User, initiator models.PublicServiceCode) (*InfoResponse, error) {
	settings, err := s.catalog.PublicServiceSettings(ctx, models.PublicServiceCriminalRecordCertificate)
	if err != nil {
		s.log.Error("failed to get public service settings", "err", err)
		message := s.mapper.ServiceNotActive()
		return &InfoResponse{AttentionMessage: &message}, nil
	}

	info := &InfoResponse{NavigationPanel: settings.NavigationPanel}
	if !settings.IsActive {
		message := s.mapper.ServiceNotActive()
		info.AttentionMessage = &message
		return info, nil
	}

	if !s.oldEnough(user) {
		message := s.mapper.UnsuitableAge()
		info.AttentionMessage = &message
		return info, nil
	}

	if message := s.taxpayerCardMessage(ctx, user); message != nil {
		info.AttentionMessage = message
		return info, nil
	}

	inFlight, err := s.store.CountProcessing(ctx, user.Identifier)
	if err != nil {
		return nil, err
	}
	if inFlight > 0 {
		message := s.mapper.ProcessingApplicationExists()
		info.AttentionMessage = &message
		return info, nil
	}

	info.Title = "Запит на витяг про несудимість"
	info.Text = mapper.ApplicationStartMessage
	info.NextScreen = models.ScreenReasons
	if screen, ok := nextScreenOverrides[initiator]; ok {
		info.NextScreen = screen
	}
	return info, nil
}

func (s *Service) oldEnough(user *models.User) bool {
	birthDate, err := time.Parse("02.01.2006", user.BirthDay)
	if err != nil {
		// Unparseable birth date is an identity data problem, not an age
		// restriction.
		s.log.Warn("unparseable user birth date", "err", err)
		return true
	}
	return !birthDate.After(time.Now().AddDate(-minApplicantAge, 0, 0))
}

func (s *Service) taxpayerCardMessage(ctx context.Context, user *models.User) *models.AttentionMessage {
	documents, err := s.users.UserDocuments(ctx, user.Identifier, []ports.DocumentFilter{{
		DocumentType: ports.DocumentTaxpayerCard,
		Statuses:     []ports.DocStatus{ports.DocStatusOk, ports.DocStatusConfirming},
	}})
	if err != nil {
		s.log.Error("failed to get user documents", "err", err)
		message := s.mapper.MissingTaxpayerCard()
		return &message
	}

	for _, doc := range documents {
		if doc.DocumentType != ports.DocumentTaxpayerCard {
			continue
		}
		switch doc.DocStatus {
		case ports.DocStatusOk:
			return nil
		case ports.DocStatusConfirming:
			message := s.mapper.ConfirmingTaxpayerCard()
			return &message
		}
	}
	message := s.mapper.MissingTaxpayerCard()
	return &message
}

// ScreenState resolves the applicant data accumulated so far and reports
// where the form flow goes next. Every intermediate screen handler feeds
// through it.
type ScreenState struct {
	Data       *models.RequestData `json:"data"`
	NextScreen models.Screen       `json:"nextScreen"`
}

func (s *Service) ResolveScreen(ctx context.Context, user *models.User, form *models.ApplicationRequest, current models.Screen) (*ScreenState, error) {
	data, err := s.resolver.Resolve(ctx, user, form)
	if err != nil {
		return nil, err
	}
	return &ScreenState{Data: data, NextScreen: mapper.NextScreen(data, current)}, nil
}

// Reasons and Types expose the provider catalogs for the picker screens.
func (s *Service) Reasons() []models.Reason {
	return s.provider.Reasons()
}

func (s *Service) Types() []models.CertificateTypeInfo {
	return s.provider.Types()
}
