// Package adapters implements the collaborator ports as thin typed HTTP
// clients. Each call is one JSON round trip; no business logic lives here.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
)

type client struct {
	base string
	http *http.Client
}

func newClient(base string) client {
	return client{base: base, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ports.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// AddressHTTP resolves public-service addresses.
type AddressHTTP struct {
	client
}

func NewAddressHTTP(base string) *AddressHTTP {
	return &AddressHTTP{newClient(base)}
}

func (a *AddressHTTP) PublicServiceAddress(ctx context.Context, resourceID string) (*ports.Address, error) {
	var address ports.Address
	path := "/addresses/" + url.PathEscape(resourceID)
	if err := a.do(ctx, http.MethodGet, path, nil, &address); err != nil {
		return nil, err
	}
	return &address, nil
}

// DocumentsHTTP serves the registry document lookups.
type DocumentsHTTP struct {
	client
}

func NewDocumentsHTTP(base string) *DocumentsHTTP {
	return &DocumentsHTTP{newClient(base)}
}

func (d *DocumentsHTTP) PassportWithRegistration(ctx context.Context, user *models.User) (*ports.PassportWithRegistration, error) {
	var result ports.PassportWithRegistration
	in := map[string]string{"itn": user.ITN}
	if err := d.do(ctx, http.MethodPost, "/documents/passport-with-registration", in, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (d *DocumentsHTTP) IdentityDocument(ctx context.Context, user *models.User) (*ports.IdentityDocument, error) {
	var result ports.IdentityDocument
	in := map[string]string{"userIdentifier": user.Identifier}
	if err := d.do(ctx, http.MethodPost, "/documents/identity", in, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UsersHTTP looks up user document verification states.
type UsersHTTP struct {
	client
}

func NewUsersHTTP(base string) *UsersHTTP {
	return &UsersHTTP{newClient(base)}
}

func (u *UsersHTTP) UserDocuments(ctx context.Context, userIdentifier string, filters []ports.DocumentFilter) ([]ports.UserDocument, error) {
	in := map[string]any{"userIdentifier": userIdentifier, "filters": filters}
	var out struct {
		Documents []ports.UserDocument `json:"documents"`
	}
	if err := u.do(ctx, http.MethodPost, "/users/documents", in, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// NotifierHTTP dispatches push notifications.
type NotifierHTTP struct {
	client
}

func NewNotifierHTTP(base string) *NotifierHTTP {
	return &NotifierHTTP{newClient(base)}
}

func (n *NotifierHTTP) CreatePushByMobileUID(ctx context.Context, notification models.PushNotification) error {
	return n.do(ctx, http.MethodPost, "/notifications/push", notification, nil)
}

// CatalogHTTP reads public-service settings.
type CatalogHTTP struct {
	client
}

func NewCatalogHTTP(base string) *CatalogHTTP {
	return &CatalogHTTP{newClient(base)}
}

func (c *CatalogHTTP) PublicServiceSettings(ctx context.Context, code models.PublicServiceCode) (*ports.PublicServiceSettings, error) {
	var settings ports.PublicServiceSettings
	path := "/public-services/" + url.PathEscape(string(code))
	if err := c.do(ctx, http.MethodGet, path, nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

// RatingHTTP fetches rating prompt forms.
type RatingHTTP struct {
	client
}

func NewRatingHTTP(base string) *RatingHTTP {
	return &RatingHTTP{newClient(base)}
}

func (r *RatingHTTP) RatingForm(ctx context.Context, req ports.RatingFormRequest) (json.RawMessage, error) {
	in := map[string]any{
		"userIdentifier": req.UserIdentifier,
		"statusDate":     req.StatusDate,
		"category":       req.Category,
		"serviceCode":    req.ServiceCode,
		"resourceId":     req.ResourceID,
	}
	var out json.RawMessage
	if err := r.do(ctx, http.MethodPost, "/ratings/form", in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SignerHTTP requests detached signatures from the crypto service. The
// payload is a fixed placeholder; the registry only verifies the signer
// identity.
type SignerHTTP struct {
	client
}

func NewSignerHTTP(base string) *SignerHTTP {
	return &SignerHTTP{newClient(base)}
}

func (s *SignerHTTP) DetachedSignature(ctx context.Context) (string, error) {
	in := map[string]string{"payload": " "}
	var out struct {
		Signature string `json:"signature"`
	}
	if err := s.do(ctx, http.MethodPost, "/crypto/detached-signature", in, &out); err != nil {
		return "", err
	}
	return out.Signature, nil
}
