// Package mapper shapes lifecycle state into client-facing responses. It is
// pure data-shaping: the message catalogs are immutable and every method is
// deterministic.
package mapper

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"crcert/internal/certificate/models"
	"crcert/internal/provider"
)

// Mapper renders applications, confirmations and list items. dateFormat is
// the client-facing layout (02.01.2006).
type Mapper struct {
	dateFormat string
}

const providerDateFormat = "2006-01-02"

func New(dateFormat string) *Mapper {
	if dateFormat == "" {
		dateFormat = "02.01.2006"
	}
	return &Mapper{dateFormat: dateFormat}
}

// NoCertificatesByStatus returns the list stub message for an empty result.
func (m *Mapper) NoCertificatesByStatus(status models.Status) *models.AttentionMessage {
	switch status {
	case models.StatusProcessing:
		return &models.AttentionMessage{
			Icon:       "🤷‍♂️️",
			Text:       "Ой, тут порожньо. Перевірте в розділі Готові або замовте нові витяги.",
			Parameters: []string{},
		}
	case models.StatusDone:
		return &models.AttentionMessage{
			Icon:       "🤷‍♂️",
			Text:       "Наразі немає готових витягів. \nМи повідомимо, коли замовлені витяги будуть готові.",
			Parameters: []string{},
		}
	default:
		return nil
	}
}

// ProcessingApplicationExists is shown when a user already has an
// application in flight.
func (m *Mapper) ProcessingApplicationExists() models.AttentionMessage {
	return models.AttentionMessage{
		Icon:       "😞",
		Text:       "Наразі послуга недоступна.\nБудь ласка, дочекайтесь завершення обробки попереднього запиту та замовте новий витяг.",
		Parameters: []string{},
	}
}

func (m *Mapper) MissingTaxpayerCard() models.AttentionMessage {
	return models.AttentionMessage{
		Icon:       "😞",
		Text:       "Неможливо отримати витяг про несудимість. Ваш РНОКПП не пройшов перевірку податковою.",
		Parameters: []string{},
	}
}

func (m *Mapper) ConfirmingTaxpayerCard() models.AttentionMessage {
	return models.AttentionMessage{
		Icon:       "😞",
		Text:       "Ваш РНОКПП ще перевіряється податковою. Спробуйте, будь ласка, пізніше.",
		Parameters: []string{},
	}
}

func (m *Mapper) UnsuitableAge() models.AttentionMessage {
	return models.AttentionMessage{
		Icon:       "😞",
		Text:       "Неможливо отримати витяг про несудимість. Вам ще не виповнилося 14 років.",
		Parameters: []string{},
	}
}

func (m *Mapper) ServiceNotActive() models.AttentionMessage {
	return models.AttentionMessage{
		Icon:       "😞",
		Text:       "На жаль, послуга тимчасово недоступна",
		Parameters: []string{},
	}
}

// ApplicationStartMessage opens the request flow.
const ApplicationStartMessage = "Щоб отримати витяг про несудимість, потрібно вказати: \n\n• тип та мету запиту; \n• місце народження; \n• контактні дані. \n\n" +
	"Якщо з даними все гаразд, ви отримаєте витяг протягом 10 робочих днів. Якщо вони потребують додаткової перевірки — протягом 30 календарних днів."

func (m *Mapper) statusMessage(status models.Status) *models.AttentionMessage {
	switch status {
	case models.StatusProcessing:
		return &models.AttentionMessage{
			Title: "Запит полетів в обробку",
			Text: "Більшість запитів опрацьовуються автоматично, а підготовка витягу триває кілька хвилин. " +
				"Проте часом дані потребують додаткової перевірки. Тоді витяг готують вручну. " +
				"Зазвичай це триває до 10 днів, інколи — до 30 календарних днів. Будь ласка, очікуйте на сповіщення про результат.",
			Icon:       "⏳",
			Parameters: []string{},
		}
	case models.StatusDone:
		return &models.AttentionMessage{
			Title:      "Витяг готовий",
			Text:       "Ви можете завантажити його за посиланням нижче.",
			Icon:       "✅",
			Parameters: []string{},
		}
	default:
		return nil
	}
}

type LoadActionType string

const (
	LoadActionDownloadArchive LoadActionType = "downloadArchive"
	LoadActionViewPdf         LoadActionType = "viewPdf"
)

type LoadAction struct {
	Type LoadActionType `json:"type"`
	Icon string         `json:"icon"`
	Name string         `json:"name"`
}

type ApplicationDetails struct {
	Title         string                   `json:"title"`
	StatusMessage *models.AttentionMessage `json:"statusMessage,omitempty"`
	Status        models.Status            `json:"status"`
	LoadActions   []LoadAction             `json:"loadActions"`
}

// ToApplicationDetails renders the detail screen body. Load actions appear
// only once the certificate is ready.
func (m *Mapper) ToApplicationDetails(app *models.Application) ApplicationDetails {
	details := ApplicationDetails{
		Title:         "Запит на витяг про несудимість",
		StatusMessage: m.statusMessage(app.Status),
		Status:        app.Status,
		LoadActions:   []LoadAction{},
	}

	if app.Status != models.StatusDone {
		return details
	}

	details.LoadActions = []LoadAction{
		{Type: LoadActionDownloadArchive, Icon: "download", Name: "Завантажити архів"},
		{Type: LoadActionViewPdf, Icon: "view", Name: "Переглянути витяг"},
	}
	return details
}

type StatusFilterInfo struct {
	Code models.Status `json:"code"`
	Name string        `json:"name"`
}

func (m *Mapper) ToStatusFilterInfo(status models.Status) StatusFilterInfo {
	names := map[models.Status]string{
		models.StatusProcessing: "Замовлені",
		models.StatusDone:       "Готові",
	}
	return StatusFilterInfo{Code: status, Name: names[status]}
}

type ListItem struct {
	ApplicationID string        `json:"applicationId"`
	Status        models.Status `json:"status"`
	Reason        string        `json:"reason"`
	CreationDate  string        `json:"creationDate"`
	Type          string        `json:"type"`
}

func (m *Mapper) ToListItem(app *models.Application) ListItem {
	typeNames := map[models.CertificateType]string{
		models.TypeShort: "Тип: короткий",
		models.TypeFull:  "Тип: повний",
	}
	return ListItem{
		ApplicationID: app.ApplicationID,
		Status:        app.Status,
		Reason:        app.Reason.Name,
		CreationDate:  fmt.Sprintf("від %s", app.CreatedAt.Format(m.dateFormat)),
		Type:          typeNames[app.Type],
	}
}

// ArchiveFileName names the downloaded certificate files after the request
// date, e.g. "vytiah_pro_nesudymist_vid_2024-01-31".
func (m *Mapper) ArchiveFileName(createdAt time.Time) string {
	name := fmt.Sprintf("vytiah pro nesudymist vid %s", createdAt.Format(providerDateFormat))
	return strings.ReplaceAll(name, " ", "_")
}

var previousNamesSeparator = regexp.MustCompile(`\s*,\s*`)

type Confirmation struct {
	Title            string                  `json:"title"`
	AttentionMessage models.AttentionMessage `json:"attentionMessage"`
	Applicant        ConfirmationApplicant   `json:"applicant"`
	Contacts         ConfirmationContacts    `json:"contacts"`
	CertificateType  ConfirmationSection     `json:"certificateType"`
	Reason           ConfirmationReason      `json:"reason"`
	CheckboxName     string                  `json:"checkboxName"`
}

type ConfirmationApplicant struct {
	Title               string               `json:"title"`
	FullName            models.LabeledValue  `json:"fullName"`
	PreviousLastName    *models.LabeledValue `json:"previousLastName,omitempty"`
	PreviousFirstName   *models.LabeledValue `json:"previousFirstName,omitempty"`
	PreviousMiddleName  *models.LabeledValue `json:"previousMiddleName,omitempty"`
	Gender              models.LabeledValue  `json:"gender"`
	Nationality         models.LabeledValue  `json:"nationality"`
	BirthDate           models.LabeledValue  `json:"birthDate"`
	BirthPlace          models.LabeledValue  `json:"birthPlace"`
	RegistrationAddress models.LabeledValue  `json:"registrationAddress"`
}

type ConfirmationContacts struct {
	Title       string               `json:"title"`
	PhoneNumber models.LabeledValue  `json:"phoneNumber"`
	Email       *models.LabeledValue `json:"email,omitempty"`
}

// ToProviderOrder maps resolved request data onto the registry's submission
// payload. Previous names collapse into comma separated "before" fields.
func (m *Mapper) ToProviderOrder(data *models.RequestData) provider.OrderRequest {
	genderMap := map[models.Gender]provider.OrderGender{
		models.GenderMale:   provider.OrderGenderMale,
		models.GenderFemale: provider.OrderGenderFemale,
	}
	typeMap := map[models.CertificateType]provider.OrderType{
		models.TypeShort: provider.OrderTypeShort,
		models.TypeFull:  provider.OrderTypeFull,
	}

	birthDate := data.BirthDate
	if parsed, err := time.Parse(m.dateFormat, data.BirthDate); err == nil {
		birthDate = parsed.Format(providerDateFormat)
	}

	req := provider.OrderRequest{
		FirstName:            data.FirstName,
		LastName:             data.LastName,
		MiddleName:           data.MiddleName,
		FirstNameChanged:     data.PreviousFirstName != "",
		LastNameChanged:      data.PreviousLastName != "",
		MiddleNameChanged:    data.PreviousMiddleName != "",
		Gender:               genderMap[data.Gender],
		BirthDate:            birthDate,
		BirthCountry:         data.BirthCountry,
		BirthRegion:          data.BirthRegion,
		BirthDistrict:        data.BirthDistrict,
		BirthCity:            data.BirthCity,
		RegistrationCountry:  data.RegistrationCountry,
		RegistrationRegion:   data.RegistrationRegion,
		RegistrationDistrict: data.RegistrationDistrict,
		RegistrationCity:     data.RegistrationCity,
		Nationality:          strings.Join(data.Nationalities, ","),
		Phone:                data.PhoneNumber,
		Type:                 typeMap[data.CertificateType],
		Purpose:              data.ReasonID,
		ClientID:             data.ITN,
	}

	if req.FirstNameChanged {
		req.FirstNameBefore = previousNamesSeparator.ReplaceAllString(data.PreviousFirstName, ", ")
	}
	if req.LastNameChanged {
		req.LastNameBefore = previousNamesSeparator.ReplaceAllString(data.PreviousLastName, ", ")
	}
	if req.MiddleNameChanged {
		req.MiddleNameBefore = previousNamesSeparator.ReplaceAllString(data.PreviousMiddleName, ", ")
	}
	return req
}

type ConfirmationSection struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

type ConfirmationReason struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// ToConfirmation builds the pre-submission preview from resolved request
// data.
func (m *Mapper) ToConfirmation(data *models.RequestData, reasonLabel, certificateTypeDescription string) Confirmation {
	genderNames := map[models.Gender]string{
		models.GenderMale:   "Чоловік",
		models.GenderFemale: "Жінка",
	}

	confirmation := Confirmation{
		Title: "Запит про надання витягу про несудимість",
		AttentionMessage: models.AttentionMessage{
			Icon:       "☝️",
			Text:       "Уважно перевірте введені дані перед тим як замовити витяг.",
			Parameters: []string{},
		},
		Applicant: ConfirmationApplicant{
			Title: "Дані про заявника",
			FullName: models.LabeledValue{
				Label: "ПІБ:",
				Value: fullName(data.LastName, data.FirstName, data.MiddleName),
			},
			Gender: models.LabeledValue{Label: "Стать:", Value: genderNames[data.Gender]},
			Nationality: models.LabeledValue{
				Label: "Громадянство:",
				Value: strings.Join(data.Nationalities, "\n"),
			},
			BirthDate: models.LabeledValue{Label: "Дата народження:", Value: data.BirthDate},
			BirthPlace: models.LabeledValue{
				Label: "Місце народження:",
				Value: joinNonEmpty(", ", data.BirthCountry, data.BirthCity),
			},
			RegistrationAddress: models.LabeledValue{
				Label: "Місце реєстрації проживання:",
				Value: joinNonEmpty(", ", data.RegistrationCountry, data.RegistrationRegion, data.RegistrationDistrict, data.RegistrationCity),
			},
		},
		Contacts: ConfirmationContacts{
			Title:       "Контактні дані",
			PhoneNumber: models.LabeledValue{Label: "Номер телефону:", Value: data.PhoneNumber},
		},
		CertificateType: ConfirmationSection{Title: "Тип витягу", Type: certificateTypeDescription},
		Reason:          ConfirmationReason{Title: "Мета запиту", Reason: reasonLabel},
		CheckboxName:    "Підтверджую достовірність наведених у заяві даних",
	}

	if data.PreviousLastName != "" {
		confirmation.Applicant.PreviousLastName = &models.LabeledValue{
			Label: "Попередні прізвища:",
			Value: previousNamesSeparator.ReplaceAllString(data.PreviousLastName, "\n"),
		}
	}
	if data.PreviousFirstName != "" {
		confirmation.Applicant.PreviousFirstName = &models.LabeledValue{
			Label: "Попередні імена:",
			Value: previousNamesSeparator.ReplaceAllString(data.PreviousFirstName, "\n"),
		}
	}
	if data.PreviousMiddleName != "" {
		confirmation.Applicant.PreviousMiddleName = &models.LabeledValue{
			Label: "Попередні по батькові:",
			Value: previousNamesSeparator.ReplaceAllString(data.PreviousMiddleName, "\n"),
		}
	}
	if data.Email != "" {
		confirmation.Contacts.Email = &models.LabeledValue{Label: "Email:", Value: data.Email}
	}
	return confirmation
}

func fullName(lastName, firstName, middleName string) string {
	return joinNonEmpty(" ", lastName, firstName, middleName)
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
