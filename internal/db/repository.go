package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"sahelpay-go/pkg/idempotency"
	"sahelpay-go/pkg/operation"
)

var ErrNotFound = errors.New("record not found")

const operationColumns = `id, kind, status, amount, currency, provider, provider_ref, order_id, snapshot, source, created_at, updated_at`

type OperationRepository struct {
	pool *pgxpool.Pool
}

func NewOperationRepository(pool *pgxpool.Pool) *OperationRepository {
	return &OperationRepository{pool: pool}
}

func (r *OperationRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// SelectForUpdateByID locks the row for id, inserting an empty placeholder
// first so that two transactions racing on a brand-new id serialize on the
// same row.
func (r *OperationRepository) SelectForUpdateByID(ctx context.Context, tx pgx.Tx, id, kind string) (*OperationEntity, error) {
	_, err := tx.Exec(ctx, `INSERT INTO operation_record (id, kind) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, kind)
	if err != nil {
		return nil, errors.Wrapf(err, "insert placeholder for %s", id)
	}

	row := tx.QueryRow(ctx, `SELECT `+operationColumns+` FROM operation_record WHERE id = $1 FOR UPDATE`, id)
	entity, err := scanOperation(row)
	if err != nil {
		return nil, errors.Wrapf(err, "select %s for update", id)
	}
	return entity, nil
}

func (r *OperationRepository) Update(ctx context.Context, tx pgx.Tx, entity *OperationEntity) error {
	query := `UPDATE operation_record
	          SET kind = COALESCE(NULLIF($2, ''), kind), status = $3, amount = $4, currency = $5, provider = $6,
	              provider_ref = $7, order_id = $8, snapshot = $9::jsonb, source = $10, updated_at = now()
	          WHERE id = $1`
	tag, err := tx.Exec(ctx, query, entity.ID, entity.Kind, entity.Status, entity.Amount, entity.Currency,
		entity.Provider, entity.ProviderRef, entity.OrderID, entity.Snapshot, entity.Source)
	if err != nil {
		return errors.Wrapf(err, "update operation %s", entity.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "update operation %s", entity.ID)
	}
	return nil
}

func (r *OperationRepository) GetByID(ctx context.Context, id string) (*OperationEntity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+operationColumns+` FROM operation_record WHERE id = $1 AND status IS NOT NULL`, id)
	entity, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get operation %s", id)
	}
	return entity, nil
}

func (r *OperationRepository) InsertAnomaly(ctx context.Context, tx pgx.Tx, a *AnomalyEntity) error {
	query := `INSERT INTO operation_anomaly (id, operation_id, stored_status, incoming_status, source, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`
	_, err := tx.Exec(ctx, query, a.ID, a.OperationID, a.StoredStatus, a.IncomingStatus, a.Source, a.EventType, a.Payload, a.CreatedAt)
	return errors.Wrapf(err, "insert anomaly for %s", a.OperationID)
}

func (r *OperationRepository) ListAnomalies(ctx context.Context, operationID string) ([]*AnomalyEntity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, operation_id, stored_status, incoming_status, source, event_type, payload, created_at
	                                FROM operation_anomaly WHERE operation_id = $1 ORDER BY created_at`, operationID)
	if err != nil {
		return nil, errors.Wrapf(err, "list anomalies for %s", operationID)
	}
	defer rows.Close()

	var anomalies []*AnomalyEntity
	for rows.Next() {
		var a AnomalyEntity
		if err := rows.Scan(&a.ID, &a.OperationID, &a.StoredStatus, &a.IncomingStatus, &a.Source, &a.EventType, &a.Payload, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan anomaly")
		}
		anomalies = append(anomalies, &a)
	}
	return anomalies, rows.Err()
}

// LockedOperation is what may be done while an operation row is locked. All
// writes join the locking transaction.
type LockedOperation interface {
	// Record is nil when the operation has never been given a status.
	Record() *OperationEntity
	Save(ctx context.Context, entity *OperationEntity) error
	RecordAnomaly(ctx context.Context, anomaly *AnomalyEntity) error
	Enqueue(ctx context.Context, msg *OutboxMessageEntity) error
}

type lockedOperation struct {
	tx     pgx.Tx
	repo   *OperationRepository
	outbox *OutboxRepository
	record *OperationEntity
}

func (l *lockedOperation) Record() *OperationEntity {
	if l.record == nil || l.record.Status == nil {
		return nil
	}
	copied := *l.record
	return &copied
}

func (l *lockedOperation) Save(ctx context.Context, entity *OperationEntity) error {
	if err := l.repo.Update(ctx, l.tx, entity); err != nil {
		return err
	}
	copied := *entity
	l.record = &copied
	return nil
}

func (l *lockedOperation) RecordAnomaly(ctx context.Context, anomaly *AnomalyEntity) error {
	return l.repo.InsertAnomaly(ctx, l.tx, anomaly)
}

func (l *lockedOperation) Enqueue(ctx context.Context, msg *OutboxMessageEntity) error {
	_, err := l.outbox.Create(ctx, l.tx, msg)
	return err
}

// WithOperationLock runs fn in a transaction holding the row lock for id.
// The transaction commits only if fn returns nil.
func (r *OperationRepository) WithOperationLock(ctx context.Context, id, kind string, fn func(LockedOperation) error) error {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	record, err := r.SelectForUpdateByID(ctx, tx, id, kind)
	if err != nil {
		return err
	}

	locked := &lockedOperation{tx: tx, repo: r, outbox: NewOutboxRepository(r.pool), record: record}
	if err := fn(locked); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit transaction")
}

// WithRecordLock implements idempotency.Store on top of WithOperationLock.
func (r *OperationRepository) WithRecordLock(ctx context.Context, operationID string, fn func(prior *idempotency.Record) (*idempotency.Record, error)) error {
	return r.WithOperationLock(ctx, operationID, "", func(op LockedOperation) error {
		current := op.Record()

		var prior *idempotency.Record
		if current != nil {
			prior = &idempotency.Record{OperationID: current.ID, Status: operation.Status(*current.Status)}
		}

		next, err := fn(prior)
		if err != nil || next == nil {
			return err
		}

		if current == nil {
			current = &OperationEntity{ID: operationID, Currency: "XOF"}
		}
		status := string(next.Status)
		current.Status = &status
		return op.Save(ctx, current)
	})
}

func scanOperation(row pgx.Row) (*OperationEntity, error) {
	var e OperationEntity
	err := row.Scan(&e.ID, &e.Kind, &e.Status, &e.Amount, &e.Currency, &e.Provider, &e.ProviderRef,
		&e.OrderID, &e.Snapshot, &e.Source, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *OutboxRepository) Create(ctx context.Context, tx pgx.Tx, entity *OutboxMessageEntity) (*OutboxMessageEntity, error) {
	query := `INSERT INTO outbox_message (id, operation_id, type, payload, created_at, updated_at, scheduled_at, publish_attempts)
	          VALUES ($1, $2, $3, $4::jsonb, $5, $5, $6, $7) RETURNING id`
	err := tx.QueryRow(ctx, query, entity.ID, entity.OperationID, entity.Type, entity.Payload, entity.CreatedAt,
		entity.ScheduledAt, entity.PublishAttempts).Scan(&entity.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "insert outbox message for %s", entity.OperationID)
	}
	return entity, nil
}

// GetUnpublishedMessages locks due messages, skipping rows another producer
// instance already holds.
func (r *OutboxRepository) GetUnpublishedMessages(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxMessageEntity, error) {
	query := `SELECT id, operation_id, type, payload, created_at, updated_at, scheduled_at, published_at, publish_attempts, error
	          FROM outbox_message
	          WHERE published_at IS NULL AND scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY scheduled_at, created_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query unpublished messages")
	}
	defer rows.Close()

	var messages []*OutboxMessageEntity
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox message")
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *OutboxRepository) Update(ctx context.Context, tx pgx.Tx, entity *OutboxMessageEntity) error {
	query := `UPDATE outbox_message
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5, updated_at = now()
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, entity.ID, entity.ScheduledAt, entity.PublishedAt, entity.PublishAttempts, entity.Error)
	return errors.Wrapf(err, "update outbox message %s", entity.ID)
}

func (r *OutboxRepository) ListByOperationID(ctx context.Context, operationID string) ([]*OutboxMessageEntity, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, operation_id, type, payload, created_at, updated_at, scheduled_at, published_at, publish_attempts, error
	                                FROM outbox_message WHERE operation_id = $1 ORDER BY created_at`, operationID)
	if err != nil {
		return nil, errors.Wrapf(err, "list outbox messages for %s", operationID)
	}
	defer rows.Close()

	var messages []*OutboxMessageEntity
	for rows.Next() {
		m, err := scanOutbox(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan outbox message")
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func scanOutbox(row pgx.Row) (*OutboxMessageEntity, error) {
	var m OutboxMessageEntity
	err := row.Scan(&m.ID, &m.OperationID, &m.Type, &m.Payload, &m.CreatedAt, &m.UpdatedAt,
		&m.ScheduledAt, &m.PublishedAt, &m.PublishAttempts, &m.Error)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
