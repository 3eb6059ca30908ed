// Package usertoken validates the identity tokens the mobile client
// presents. Claims carry the citizen profile snapshot the lifecycle works
// with; the token issuer is an upstream concern.
package usertoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crcert/internal/certificate/models"
	"crcert/pkg/domainerrors"
)

// Claims is the identity token payload.
type Claims struct {
	Identifier  string `json:"identifier"`
	ITN         string `json:"itn"`
	FirstName   string `json:"fName"`
	LastName    string `json:"lName"`
	MiddleName  string `json:"mName"`
	Gender      string `json:"gender"`
	BirthDay    string `json:"birthDay"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
	jwt.RegisteredClaims
}

type Service struct {
	signingKey []byte
}

func NewService(signingKey string) *Service {
	return &Service{signingKey: []byte(signingKey)}
}

// Validate parses and verifies a token, returning the user it identifies.
func (s *Service) Validate(tokenString string) (*models.User, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domainerrors.New(domainerrors.CodeUnauthorized, "token has expired")
		}
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Identifier == "" {
		return nil, domainerrors.New(domainerrors.CodeUnauthorized, "token carries no user identifier")
	}

	return &models.User{
		Identifier:  claims.Identifier,
		ITN:         claims.ITN,
		FirstName:   claims.FirstName,
		LastName:    claims.LastName,
		MiddleName:  claims.MiddleName,
		Gender:      models.Gender(claims.Gender),
		BirthDay:    claims.BirthDay,
		PhoneNumber: claims.PhoneNumber,
		Email:       claims.Email,
	}, nil
}

// Generate signs a token for the given user. Production tokens come from the
// identity provider; this exists for development and tests.
func (s *Service) Generate(user *models.User, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Identifier:  user.Identifier,
		ITN:         user.ITN,
		FirstName:   user.FirstName,
		LastName:    user.LastName,
		MiddleName:  user.MiddleName,
		Gender:      string(user.Gender),
		BirthDay:    user.BirthDay,
		PhoneNumber: user.PhoneNumber,
		Email:       user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	return token.SignedString(s.signingKey)
}
