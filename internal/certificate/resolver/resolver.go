// Package resolver assembles a complete application request from the user
// profile, supplied form data and registry lookups, with a fixed precedence
// per field group. Registry "not found" is a valid absence; any other
// registry failure aborts resolution.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
	"crcert/pkg/domainerrors"
	platformstrings "crcert/pkg/platform/strings"
)

// Autofill is the fixed per-public-service override applied on top of the
// caller-supplied form data.
type Autofill struct {
	ReasonID        string
	CertificateType models.CertificateType
}

type Resolver struct {
	address   ports.AddressClient
	documents ports.DocumentsClient
	autofill  map[models.PublicServiceCode]Autofill
	log       *slog.Logger
}

func New(address ports.AddressClient, documents ports.DocumentsClient, autofill map[models.PublicServiceCode]Autofill, log *slog.Logger) *Resolver {
	return &Resolver{address: address, documents: documents, autofill: autofill, log: log}
}

// AutofillFor exposes the override for a public service code; the lifecycle
// engine uses it for linkage-check filters.
func (r *Resolver) AutofillFor(code models.PublicServiceCode) (Autofill, bool) {
	autofill, ok := r.autofill[code]
	return autofill, ok
}

// Resolve produces the full applicant data set. form may be nil when only
// profile and registry data are available.
func (r *Resolver) Resolve(ctx context.Context, user *models.User, form *models.ApplicationRequest) (*models.RequestData, error) {
	if form == nil {
		form = &models.ApplicationRequest{}
	}

	merged := *form
	if form.PublicService != nil {
		if autofill, ok := r.autofill[form.PublicService.Code]; ok {
			merged.ReasonID = autofill.ReasonID
			merged.CertificateType = autofill.CertificateType
		}
	}

	data := &models.RequestData{
		ITN:                user.ITN,
		FirstName:          user.FirstName,
		LastName:           user.LastName,
		MiddleName:         user.MiddleName,
		PreviousFirstName:  merged.PreviousFirstName,
		PreviousLastName:   merged.PreviousLastName,
		PreviousMiddleName: merged.PreviousMiddleName,
		Gender:             user.Gender,
		BirthDate:          user.BirthDay,
		Nationalities:      platformstrings.DedupeAndTrim(merged.Nationalities),
		ReasonID:           merged.ReasonID,
		CertificateType:    merged.CertificateType,
	}

	data.PhoneNumber = firstNonEmpty(merged.PhoneNumber, user.PhoneNumber)
	data.Email = firstNonEmpty(merged.Email, user.Email)

	if merged.BirthPlace != nil {
		data.BirthCountry = merged.BirthPlace.Country
		data.BirthCity = merged.BirthPlace.City
	}

	if merged.RegistrationAddressID != "" {
		address, err := r.address.PublicServiceAddress(ctx, merged.RegistrationAddressID)
		if err != nil {
			return nil, err
		}
		data.RegistrationCountry = address.Country
		data.RegistrationRegion = address.Region
		data.RegistrationDistrict = address.District
		data.RegistrationCity = address.City
	}

	normalizeRegistration(data)

	if err := r.fillFromPassport(ctx, user, data); err != nil {
		return nil, err
	}
	if err := r.fillFromIdentityDocument(ctx, user, data); err != nil {
		return nil, err
	}

	return data, nil
}

// fillFromPassport is registry lookup #1: internal passport with digital
// registration, keyed by the user's tax number.
func (r *Resolver) fillFromPassport(ctx context.Context, user *models.User, data *models.RequestData) error {
	if len(data.Nationalities) > 0 && data.BirthCountry != "" && data.BirthCity != "" &&
		data.RegistrationCountry != "" && data.RegistrationCity != "" {
		return nil
	}

	result, err := r.documents.PassportWithRegistration(ctx, user)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil
		}

		r.log.Info("failed to get passport by itn", "err", err)

		return domainerrors.Wrap(domainerrors.CodeServiceUnavailable, "registry unavailable", err).
			WithProcess(domainerrors.ProcessRegistryUnavailable)
	}

	if result.Passport != nil {
		if len(data.Nationalities) == 0 {
			data.Nationalities = []string{"Україна"}
			data.NationalitiesAlfa3 = []string{"UKR"}
		}
		if data.BirthCountry == "" || data.BirthCity == "" {
			// Registry birth-place free text is too dirty for the
			// application; only the country survives.
			data.BirthCountry = result.Passport.BirthCountry
			data.BirthCity = ""
		}
	}

	if result.Registration != nil && (data.RegistrationCountry == "" || data.RegistrationCity == "") {
		data.RegistrationCountry = "Україна"
		data.RegistrationRegion = result.Registration.RegionName
		data.RegistrationDistrict = result.Registration.RegionDistrict
		data.RegistrationCity = strings.TrimSpace(result.Registration.SettlementType + " " + result.Registration.SettlementName)
		normalizeRegistration(data)
	}
	return nil
}

// fillFromIdentityDocument is registry lookup #2, branching on the identity
// document subtype.
func (r *Resolver) fillFromIdentityDocument(ctx context.Context, user *models.User, data *models.RequestData) error {
	if len(data.Nationalities) > 0 && data.RegistrationCountry != "" && data.RegistrationCity != "" {
		return nil
	}

	document, err := r.documents.IdentityDocument(ctx, user)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil
		}

		r.log.Info("failed to get user identity document", "err", err)

		return domainerrors.Wrap(domainerrors.CodeServiceUnavailable, "registry unavailable", err).
			WithProcess(domainerrors.ProcessRegistryUnavailable)
	}

	r.log.Info("used identity document type", "type", string(document.Type))

	switch document.Type {
	case ports.IdentityInternalPassport, ports.IdentityForeignPassport:
		if len(data.Nationalities) == 0 {
			data.Nationalities = []string{"Україна"}
			data.NationalitiesAlfa3 = []string{"UKR"}
		}

	case ports.IdentityResidencePermitPermanent, ports.IdentityResidencePermitTemporary:
		permit := document.ResidencePermit
		if permit == nil {
			return nil
		}

		if len(data.Nationalities) == 0 {
			for _, nationality := range permit.Nationalities {
				data.Nationalities = append(data.Nationalities, nationality.Name)
				data.NationalitiesAlfa3 = append(data.NationalitiesAlfa3, nationality.CodeAlfa3)
			}
		}
		if (data.RegistrationCountry == "" || data.RegistrationCity == "") && permit.RegistrationInfo != nil {
			data.RegistrationCountry = "Україна"
			data.RegistrationRegion = permit.RegistrationInfo.RegionName
			data.RegistrationDistrict = ""
			data.RegistrationCity = permit.RegistrationInfo.City
			normalizeRegistration(data)
		}
	}
	return nil
}

// normalizeRegistration promotes district or region to city when the
// registry gives no settlement: a district without a city becomes the city;
// a bare region becomes the city.
func normalizeRegistration(data *models.RequestData) {
	if data.RegistrationDistrict != "" && data.RegistrationCity == "" {
		data.RegistrationCity = data.RegistrationDistrict
		data.RegistrationDistrict = ""
	}
	if data.RegistrationRegion != "" && data.RegistrationDistrict == "" && data.RegistrationCity == "" {
		data.RegistrationCity = data.RegistrationRegion
		data.RegistrationRegion = ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
