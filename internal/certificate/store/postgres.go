package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crcert/internal/certificate/models"
)

// Postgres is the production Store backed by the certificate_applications
// table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const applicationColumns = `application_id, user_identifier, mobile_uid, status, cancel_reason,
	reason_code, reason_name, cert_type, is_download_action, is_view_action,
	sending_request_time, receiving_application_time, applicant, public_service,
	notifications, status_history, created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, app *models.Application) error {
	applicant, err := json.Marshal(app.Applicant)
	if err != nil {
		return fmt.Errorf("marshal applicant: %w", err)
	}

	var publicService any
	if app.PublicService != nil {
		raw, err := json.Marshal(app.PublicService)
		if err != nil {
			return fmt.Errorf("marshal public service: %w", err)
		}
		publicService = raw
	}

	notifications, err := json.Marshal(notificationsOrEmpty(app.Notifications))
	if err != nil {
		return fmt.Errorf("marshal notifications: %w", err)
	}

	history, err := json.Marshal(app.StatusHistory)
	if err != nil {
		return fmt.Errorf("marshal status history: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO certificate_applications (
			application_id, user_identifier, mobile_uid, status, cancel_reason,
			reason_code, reason_name, cert_type, is_download_action, is_view_action,
			sending_request_time, receiving_application_time, applicant, public_service,
			notifications, status_history
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		app.ApplicationID, app.UserIdentifier, app.MobileUID, app.Status, app.CancelReason,
		app.Reason.Code, app.Reason.Name, app.Type, app.IsDownloadAction, app.IsViewAction,
		app.SendingRequestTime, app.ReceivingApplicationTime, applicant, publicService,
		notifications, history,
	)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

func (p *Postgres) FindOne(ctx context.Context, filter FindFilter) (*models.Application, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM certificate_applications %s ORDER BY id LIMIT 1`, applicationColumns, where)

	app, err := scanApplication(p.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	return app, nil
}

func (p *Postgres) List(ctx context.Context, userIdentifier string, status models.Status, skip, limit int) ([]*models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM certificate_applications
		WHERE user_identifier = $1 AND status = $2
		ORDER BY id DESC OFFSET $3 LIMIT $4`, applicationColumns)

	rows, err := p.db.QueryContext(ctx, query, userIdentifier, status, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	var apps []*models.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (p *Postgres) Count(ctx context.Context, userIdentifier string, status models.Status) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM certificate_applications WHERE user_identifier = $1 AND status = $2`,
		userIdentifier, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count applications: %w", err)
	}
	return count, nil
}

func (p *Postgres) CountProcessing(ctx context.Context, userIdentifier string) (int, error) {
	return p.Count(ctx, userIdentifier, models.StatusProcessing)
}

const refColumns = `application_id, user_identifier, mobile_uid, public_service, notifications, created_at`

func (p *Postgres) ProcessingRefs(ctx context.Context, userIdentifier string) ([]models.ApplicationRef, error) {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM certificate_applications WHERE user_identifier = $1 AND status = $2 ORDER BY id`, refColumns),
		userIdentifier, models.StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("processing refs: %w", err)
	}
	defer rows.Close()

	var refs []models.ApplicationRef
	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (p *Postgres) EachProcessing(ctx context.Context, fn func(models.ApplicationRef) error) error {
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM certificate_applications WHERE status = $1 ORDER BY id`, refColumns),
		models.StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("scan processing applications: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ref, err := scanRef(rows)
		if err != nil {
			return err
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *Postgres) AttachPublicService(ctx context.Context, applicationID string, ps models.PublicService) error {
	raw, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("marshal public service: %w", err)
	}

	res, err := p.db.ExecContext(ctx,
		`UPDATE certificate_applications SET public_service = $2, updated_at = now() WHERE application_id = $1`,
		applicationID, raw,
	)
	if err != nil {
		return fmt.Errorf("attach public service: %w", err)
	}
	return requireUpdated(res)
}

func (p *Postgres) SetDownloaded(ctx context.Context, applicationID string) error {
	return p.setFlag(ctx, applicationID, "is_download_action")
}

func (p *Postgres) SetViewed(ctx context.Context, applicationID string) error {
	return p.setFlag(ctx, applicationID, "is_view_action")
}

func (p *Postgres) setFlag(ctx context.Context, applicationID, column string) error {
	res, err := p.db.ExecContext(ctx, fmt.Sprintf(
		`UPDATE certificate_applications SET %s = TRUE, updated_at = now() WHERE application_id = $1`, column),
		applicationID,
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	return requireUpdated(res)
}

func (p *Postgres) CompleteAll(ctx context.Context, applicationIDs []string, finishedAt time.Time, markNotified bool) (int64, error) {
	return p.transitionAll(ctx, applicationIDs, models.StatusDone, models.TemplateApplicationDone, finishedAt, markNotified, true)
}

func (p *Postgres) CancelAll(ctx context.Context, applicationIDs []string, finishedAt time.Time, markNotified bool) (int64, error) {
	return p.transitionAll(ctx, applicationIDs, models.StatusCancel, models.TemplateApplicationRefused, finishedAt, markNotified, false)
}

func (p *Postgres) transitionAll(
	ctx context.Context,
	applicationIDs []string,
	status models.Status,
	template models.TemplateCode,
	finishedAt time.Time,
	markNotified bool,
	setReceivingTime bool,
) (int64, error) {
	if len(applicationIDs) == 0 {
		return 0, nil
	}

	historyEntry, err := json.Marshal([]models.StatusHistoryItem{{Status: status, Date: finishedAt}})
	if err != nil {
		return 0, fmt.Errorf("marshal history entry: %w", err)
	}
	notifiedAt, err := json.Marshal(finishedAt)
	if err != nil {
		return 0, fmt.Errorf("marshal notified-at: %w", err)
	}

	var receiving any
	if setReceivingTime {
		receiving = finishedAt
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE certificate_applications
		SET status = $2,
		    receiving_application_time = COALESCE($3, receiving_application_time),
		    status_history = status_history || $4::jsonb,
		    notifications = CASE WHEN $5 THEN jsonb_set(notifications, ARRAY[$6::text], $7::jsonb)
		                         ELSE notifications END,
		    updated_at = now()
		WHERE application_id = ANY($1)`,
		applicationIDs, status, receiving, historyEntry, markNotified, string(template), notifiedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("bulk transition to %s: %w", status, err)
	}
	return res.RowsAffected()
}

func buildWhere(filter FindFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserIdentifier != "" {
		add("user_identifier = $%d", filter.UserIdentifier)
	}
	if filter.ApplicationID != "" {
		add("application_id = $%d", filter.ApplicationID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		add("status = ANY($%d)", statuses)
	}
	if filter.ReasonCode != "" {
		add("reason_code = $%d", filter.ReasonCode)
	}
	if filter.Type != "" {
		add("cert_type = $%d", string(filter.Type))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app           models.Application
		cancelReason  sql.NullString
		sendingTime   sql.NullTime
		receivingTime sql.NullTime
		applicant     []byte
		publicService []byte
		notifications []byte
		history       []byte
	)

	err := row.Scan(
		&app.ApplicationID, &app.UserIdentifier, &app.MobileUID, &app.Status, &cancelReason,
		&app.Reason.Code, &app.Reason.Name, &app.Type, &app.IsDownloadAction, &app.IsViewAction,
		&sendingTime, &receivingTime, &applicant, &publicService,
		&notifications, &history, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.CancelReason = cancelReason.String
	if sendingTime.Valid {
		app.SendingRequestTime = &sendingTime.Time
	}
	if receivingTime.Valid {
		app.ReceivingApplicationTime = &receivingTime.Time
	}
	if err := json.Unmarshal(applicant, &app.Applicant); err != nil {
		return nil, fmt.Errorf("unmarshal applicant: %w", err)
	}
	if len(publicService) > 0 {
		app.PublicService = &models.PublicService{}
		if err := json.Unmarshal(publicService, app.PublicService); err != nil {
			return nil, fmt.Errorf("unmarshal public service: %w", err)
		}
	}
	if err := json.Unmarshal(notifications, &app.Notifications); err != nil {
		return nil, fmt.Errorf("unmarshal notifications: %w", err)
	}
	if err := json.Unmarshal(history, &app.StatusHistory); err != nil {
		return nil, fmt.Errorf("unmarshal status history: %w", err)
	}
	return &app, nil
}

func scanRef(row rowScanner) (models.ApplicationRef, error) {
	var (
		ref           models.ApplicationRef
		publicService []byte
		notifications []byte
	)

	err := row.Scan(&ref.ApplicationID, &ref.UserIdentifier, &ref.MobileUID, &publicService, &notifications, &ref.CreatedAt)
	if err != nil {
		return ref, fmt.Errorf("scan ref: %w", err)
	}

	if len(publicService) > 0 {
		ref.PublicService = &models.PublicService{}
		if err := json.Unmarshal(publicService, ref.PublicService); err != nil {
			return ref, fmt.Errorf("unmarshal public service: %w", err)
		}
	}
	if len(notifications) > 0 {
		if err := json.Unmarshal(notifications, &ref.Notifications); err != nil {
			return ref, fmt.Errorf("unmarshal notifications: %w", err)
		}
	}
	return ref, nil
}

func requireUpdated(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func notificationsOrEmpty(n map[models.TemplateCode]time.Time) map[models.TemplateCode]time.Time {
	if n == nil {
		return map[models.TemplateCode]time.Time{}
	}
	return n
}
