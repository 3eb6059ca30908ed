// Package provider abstracts the external registry that produces criminal
// record certificates. Two implementations exist: Sevdeir talks to the real
// registry over an async request/response exchange, Mock serves
// deterministic data for environments without it.
package provider

import (
	"context"

	"crcert/internal/certificate/models"
)

// OrderStatus values returned by the registry. Only the two named statuses
// carry meaning for the lifecycle; anything else is treated as "still in
// progress".
type OrderStatus string

const (
	OrderCompleted             OrderStatus = "COMPLETED"
	OrderMoreThanOneInProgress OrderStatus = "MORE_THAN_ONE_IN_PROGRESS"
)

type OrderType string

const (
	OrderTypeShort OrderType = "SHORT"
	OrderTypeFull  OrderType = "FULL"
)

type OrderGender string

const (
	OrderGenderMale   OrderGender = "MALE"
	OrderGenderFemale OrderGender = "FEMALE"
)

// OrderRequest is the submission payload, signed before dispatch.
type OrderRequest struct {
	FirstName            string      `json:"firstName"`
	LastName             string      `json:"lastName"`
	MiddleName           string      `json:"middleName,omitempty"`
	FirstNameChanged     bool        `json:"firstNameChanged"`
	LastNameChanged      bool        `json:"lastNameChanged"`
	MiddleNameChanged    bool        `json:"middleNameChanged"`
	FirstNameBefore      string      `json:"firstNameBefore,omitempty"`
	LastNameBefore       string      `json:"lastNameBefore,omitempty"`
	MiddleNameBefore     string      `json:"middleNameBefore,omitempty"`
	Gender               OrderGender `json:"gender"`
	BirthDate            string      `json:"birthDate"`
	BirthCountry         string      `json:"birthCountry"`
	BirthRegion          string      `json:"birthRegion,omitempty"`
	BirthDistrict        string      `json:"birthDistrict,omitempty"`
	BirthCity            string      `json:"birthCity"`
	RegistrationCountry  string      `json:"registrationCountry"`
	RegistrationRegion   string      `json:"registrationRegion,omitempty"`
	RegistrationDistrict string      `json:"registrationDistrict,omitempty"`
	RegistrationCity     string      `json:"registrationCity"`
	Nationality          string      `json:"nationality"`
	Phone                string      `json:"phone"`
	Type                 OrderType   `json:"type"`
	Purpose              string      `json:"purpose"`
	ClientID             string      `json:"clientId"`
	Signature            string      `json:"signature"`
}

type OrderResponse struct {
	ID     int64       `json:"id,omitempty"`
	Status OrderStatus `json:"status"`
}

type DownloadRequest struct {
	RequestID string `json:"requestId"`
	Signature string `json:"signature"`
}

// DownloadResponse carries the certificate pdf and its detached signature,
// both base64.
type DownloadResponse struct {
	Document  string `json:"document,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// OrderResult is the registry's raw order record, passed through untouched.
type OrderResult struct {
	ID               string      `json:"id"`
	ClientID         string      `json:"client_id"`
	FirstName        string      `json:"first_name"`
	LastName         string      `json:"last_name"`
	MiddleName       string      `json:"middle_name"`
	Gender           OrderGender `json:"gender"`
	BirthDate        string      `json:"birth_date"`
	Content          string      `json:"content"`
	Status           OrderStatus `json:"status"`
	IsCriminalRecord bool        `json:"isCriminalRecord"`
	IsSuspicion      bool        `json:"isSuspicion"`
}

// Provider is the registry capability set. The registry has no distinct
// status endpoint; CheckStatus is derived from download availability.
type Provider interface {
	SendApplication(ctx context.Context, req OrderRequest) (OrderResponse, error)
	CheckStatus(ctx context.Context, req DownloadRequest) (models.Status, error)
	DownloadCertificate(ctx context.Context, req DownloadRequest) (DownloadResponse, error)
	OrderResult(ctx context.Context, req DownloadRequest) (OrderResult, error)
	Types() []models.CertificateTypeInfo
	Reasons() []models.Reason
}

// certificateTypes and reasonCatalog are the fixed catalogs both provider
// variants expose.
var certificateTypes = []models.CertificateTypeInfo{
	{
		Code:        models.TypeShort,
		Name:        "Короткий",
		Description: "Відсутність чи наявність судимості",
	},
	{
		Code: models.TypeFull,
		Name: "Повний",
		Description: "Притягнення до кримінальної відповідальності; наявність чи відсутність судимості; " +
			"обмеження, передбачені кримінально-процесуальним законодавством",
	},
}

var reasonCatalog = []models.Reason{
	{Code: "1", Name: "Усиновлення, установлення опіки (піклування), створення прийомної сім'ї або дитячого будинку сімейного типу"},
	{Code: "2", Name: "Оформлення візи для виїзду за кордон"},
	{Code: "56", Name: "Надання до установ іноземних держав"},
	{Code: "5", Name: "Оформлення на роботу"},
	{Code: "55", Name: "Оформлення дозволу на зброю, оформлення ліцензії на роботу з вибуховими речовинами"},
	{Code: "7", Name: "Оформлення ліцензії на роботу з наркотичними засобами, психотропними речовинами та прекурсорами"},
	{Code: "37", Name: "Оформлення участі в процедурі закупівель"},
	{Code: "9", Name: "Оформлення громадянства"},
	{Code: "63", Name: "Подання до територіального центру комплектування та соціальної підтримки"},
	{Code: "44", Name: "Пред'явлення за місцем вимоги"},
}

// ReasonName resolves a reason code against a provider's catalog.
func ReasonName(p Provider, code string) (string, bool) {
	for _, r := range p.Reasons() {
		if r.Code == code {
			return r.Name, true
		}
	}
	return "", false
}
