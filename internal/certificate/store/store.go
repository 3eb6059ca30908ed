// Package store persists certificate applications. The postgres
// implementation backs production; the memory twin keeps unit tests fast and
// honest about the query shapes.
package store

import (
	"context"
	"time"

	"crcert/internal/certificate/models"
	"crcert/pkg/domainerrors"
)

// ErrNotFound keeps store-specific 404s consistent across implementations.
var ErrNotFound = domainerrors.New(domainerrors.CodeNotFound, "certificate application not found")

// FindFilter narrows a single-record lookup. Zero values mean "any".
type FindFilter struct {
	UserIdentifier string
	ApplicationID  string
	Statuses       []models.Status
	ReasonCode     string
	Type           models.CertificateType
}

type Store interface {
	Create(ctx context.Context, app *models.Application) error

	// FindOne returns the first match or ErrNotFound.
	FindOne(ctx context.Context, filter FindFilter) (*models.Application, error)

	// List returns a user's applications in one status, newest first.
	List(ctx context.Context, userIdentifier string, status models.Status, skip, limit int) ([]*models.Application, error)
	Count(ctx context.Context, userIdentifier string, status models.Status) (int, error)

	// CountProcessing backs the "already has one in flight" guard.
	CountProcessing(ctx context.Context, userIdentifier string) (int, error)

	// ProcessingRefs returns the reconciliation projection of one user's
	// in-flight applications.
	ProcessingRefs(ctx context.Context, userIdentifier string) ([]models.ApplicationRef, error)

	// EachProcessing streams every processing application's projection to
	// fn; returning an error from fn stops the scan.
	EachProcessing(ctx context.Context, fn func(models.ApplicationRef) error) error

	// AttachPublicService binds an application to a public-service flow.
	// One-time, not reversible.
	AttachPublicService(ctx context.Context, applicationID string, ps models.PublicService) error

	// SetDownloaded and SetViewed flip the monotonic action flags.
	SetDownloaded(ctx context.Context, applicationID string) error
	SetViewed(ctx context.Context, applicationID string) error

	// CompleteAll transitions the given applications to done: sets the
	// receiving time, appends one status history entry and, when
	// markNotified, records the done-notification timestamp. Returns the
	// number of updated records.
	CompleteAll(ctx context.Context, applicationIDs []string, finishedAt time.Time, markNotified bool) (int64, error)

	// CancelAll transitions the given applications to cancel the same way.
	CancelAll(ctx context.Context, applicationIDs []string, finishedAt time.Time, markNotified bool) (int64, error)
}
