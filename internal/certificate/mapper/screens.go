package mapper

import "crcert/internal/certificate/models"

// screenRank orders the form screens so a screen already past a filled
// field never redirects backward.
var screenRank = map[models.Screen]int{
	models.ScreenRequester:         0,
	models.ScreenBirthPlace:        1,
	models.ScreenNationalities:     2,
	models.ScreenRegistrationPlace: 3,
	models.ScreenContacts:          4,
}

// NextScreen routes the user to the first screen whose data is still
// missing, but only forward from currentScreen.
func NextScreen(data *models.RequestData, currentScreen models.Screen) models.Screen {
	hasBirthPlace := data.BirthCountry != "" && data.BirthCity != ""
	hasNationality := len(data.Nationalities) > 0
	hasRegistrationPlace := data.RegistrationCountry != "" && data.RegistrationCity != ""

	current := screenRank[currentScreen]

	if !hasBirthPlace && current < screenRank[models.ScreenBirthPlace] {
		return models.ScreenBirthPlace
	}
	if !hasNationality && current < screenRank[models.ScreenNationalities] {
		return models.ScreenNationalities
	}
	if !hasRegistrationPlace && current < screenRank[models.ScreenRegistrationPlace] {
		return models.ScreenRegistrationPlace
	}
	return models.ScreenContacts
}
