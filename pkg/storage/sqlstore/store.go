package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/herald/pkg/observability"
	"github.com/platinummonkey/herald/pkg/webhooks"
)

const endpointColumns = `id, company_id, url, secret, events, active, failure_count, created_at, last_delivery_at`

// EndpointStore is a webhooks.EndpointStore backed by PostgreSQL or SQLite
type EndpointStore struct {
	db      *sql.DB
	dialect Dialect
	metrics *observability.Metrics
}

var _ webhooks.EndpointStore = (*EndpointStore)(nil)

// New creates a store over an open database. metrics may be nil.
func New(db *sql.DB, dialect Dialect, metrics *observability.Metrics) *EndpointStore {
	return &EndpointStore{
		db:      db,
		dialect: dialect,
		metrics: metrics,
	}
}

// DB returns the underlying database handle
func (s *EndpointStore) DB() *sql.DB {
	return s.db
}

func (s *EndpointStore) observe(op string, start time.Time, err error) {
	if errors.Is(err, webhooks.ErrEndpointNotFound) {
		err = nil
	}
	s.metrics.RecordStorageOperation(op, string(s.dialect), err, time.Since(start))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEndpoint(row rowScanner) (*webhooks.Endpoint, error) {
	var (
		e            webhooks.Endpoint
		events       string
		lastDelivery sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.CompanyID, &e.URL, &e.Secret, &events, &e.Active, &e.FailureCount, &e.CreatedAt, &lastDelivery); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(events), &e.Events); err != nil {
		return nil, fmt.Errorf("failed to decode events of endpoint %s: %w", e.ID, err)
	}
	if lastDelivery.Valid {
		t := lastDelivery.Time.UTC()
		e.LastDeliveryAt = &t
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func encodeEvents(events []webhooks.EventType) (string, error) {
	if events == nil {
		events = []webhooks.EventType{}
	}
	b, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to encode events: %w", err)
	}
	return string(b), nil
}

func (s *EndpointStore) Create(ctx context.Context, endpoint *webhooks.Endpoint) (err error) {
	defer func(start time.Time) { s.observe("create", start, err) }(time.Now())

	events, err := encodeEvents(endpoint.Events)
	if err != nil {
		return err
	}

	endpoint.ID = webhooks.NewEndpointID()
	endpoint.Active = true
	endpoint.FailureCount = 0
	endpoint.LastDeliveryAt = nil
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = time.Now()
	}
	endpoint.CreatedAt = endpoint.CreatedAt.UTC()

	query := s.dialect.Rebind(`
		INSERT INTO webhook_endpoints (id, company_id, url, secret, events, active, failure_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
	`)
	if _, err = s.db.ExecContext(ctx, query,
		endpoint.ID, endpoint.CompanyID, endpoint.URL, endpoint.Secret, events, true, endpoint.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert endpoint: %w", err)
	}
	return nil
}

func (s *EndpointStore) Get(ctx context.Context, id string) (e *webhooks.Endpoint, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())

	query := s.dialect.Rebind(`SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`)
	e, err = scanEndpoint(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhooks.ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoint: %w", err)
	}
	return e, nil
}

func (s *EndpointStore) Update(ctx context.Context, id string, update webhooks.EndpointUpdate) (found bool, err error) {
	defer func(start time.Time) { s.observe("update", start, err) }(time.Now())

	var (
		url    sql.NullString
		events sql.NullString
		secret sql.NullString
		active sql.NullBool
	)
	if update.URL != nil {
		url = sql.NullString{String: *update.URL, Valid: true}
	}
	if update.Events != nil {
		encoded, encErr := encodeEvents(update.Events)
		if encErr != nil {
			return false, encErr
		}
		events = sql.NullString{String: encoded, Valid: true}
	}
	if update.Secret != nil {
		secret = sql.NullString{String: *update.Secret, Valid: true}
	}
	if update.Active != nil {
		active = sql.NullBool{Bool: *update.Active, Valid: true}
	}

	query := s.dialect.Rebind(`
		UPDATE webhook_endpoints SET
			url    = COALESCE($2, url),
			events = COALESCE($3, events),
			secret = COALESCE($4, secret),
			active = COALESCE($5, active)
		WHERE id = $1
	`)
	res, err := s.db.ExecContext(ctx, query, id, url, events, secret, active)
	if err != nil {
		return false, fmt.Errorf("failed to update endpoint: %w", err)
	}
	return affected(res)
}

func (s *EndpointStore) Delete(ctx context.Context, id string) (found bool, err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM webhook_endpoints WHERE id = $1`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete endpoint: %w", err)
	}
	return affected(res)
}

func (s *EndpointStore) ListByCompany(ctx context.Context, companyID string) (endpoints []*webhooks.Endpoint, err error) {
	defer func(start time.Time) { s.observe("list_by_company", start, err) }(time.Now())

	query := s.dialect.Rebind(`SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE company_id = $1 ORDER BY created_at, id`)
	return s.query(ctx, query, companyID)
}

func (s *EndpointStore) List(ctx context.Context) (endpoints []*webhooks.Endpoint, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())

	return s.query(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints ORDER BY created_at, id`)
}

func (s *EndpointStore) query(ctx context.Context, query string, args ...interface{}) ([]*webhooks.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*webhooks.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate endpoints: %w", err)
	}
	return endpoints, nil
}

func (s *EndpointStore) RecordSuccess(ctx context.Context, id string, at time.Time) (err error) {
	defer func(start time.Time) { s.observe("record_success", start, err) }(time.Now())

	query := s.dialect.Rebind(`UPDATE webhook_endpoints SET last_delivery_at = $2, failure_count = 0 WHERE id = $1`)
	res, err := s.db.ExecContext(ctx, query, id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to record delivery success: %w", err)
	}
	found, err := affected(res)
	if err != nil {
		return err
	}
	if !found {
		return webhooks.ErrEndpointNotFound
	}
	return nil
}

// RecordFailure increments and evaluates the threshold in one statement and
// reads the row back inside the same transaction, so concurrent failures of
// one endpoint cannot lose an increment
func (s *EndpointStore) RecordFailure(ctx context.Context, id string, threshold int) (e *webhooks.Endpoint, err error) {
	defer func(start time.Time) { s.observe("record_failure", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := s.dialect.Rebind(`
		UPDATE webhook_endpoints SET
			failure_count = failure_count + 1,
			active = CASE WHEN $2 > 0 AND failure_count + 1 >= $2 THEN FALSE ELSE active END
		WHERE id = $1
	`)
	res, err := tx.ExecContext(ctx, query, id, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to record delivery failure: %w", err)
	}
	found, err := affected(res)
	if err != nil {
		return nil, err
	}
	if !found {
		err = webhooks.ErrEndpointNotFound
		return nil, err
	}

	e, err = scanEndpoint(tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1`), id))
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoint after failure: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit delivery failure: %w", err)
	}
	return e, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
