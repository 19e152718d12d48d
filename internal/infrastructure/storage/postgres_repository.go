package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var itemColumns = []string{
	"id", "source_id", "title", "content", "url", "image_url", "author", "category",
	"content_hash", "status", "relevance_score", "ai_summary", "ai_insights", "ai_hashtags",
	"requires_moderation", "published_at", "source_published_at", "delivery_channel",
	"delivery_message_id", "created_at", "updated_at",
}

var sourceColumns = []string{
	"id", "name", "type", "url", "category", "is_active", "keywords", "error_count",
	"last_fetched_at", "last_success_at", "last_error", "created_at", "updated_at",
}

// PostgresStore opens one transaction per run scope.
type PostgresStore struct {
	db *sqlx.DB
}

var _ ports.Store = (*PostgresStore)(nil)

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Scope runs fn inside a transaction: commit on nil, rollback on error or panic.
func (s *PostgresStore) Scope(ctx context.Context, fn func(ctx context.Context, repo ports.Repository) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrPersistence, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &PostgresRepository{q: tx, savepoints: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("%w: rollback: %w", domain.ErrPersistence, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrPersistence, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// PostgresRepository persists items, sources and analysis tasks.
type PostgresRepository struct {
	q          sqlx.ExtContext
	savepoints bool
}

var _ ports.Repository = (*PostgresRepository)(nil)

// NewPostgresRepository binds the repository to a pool or transaction.
func NewPostgresRepository(q sqlx.ExtContext) *PostgresRepository {
	return &PostgresRepository{q: q}
}

type itemRow struct {
	ID                 string          `db:"id"`
	SourceID           int64           `db:"source_id"`
	Title              string          `db:"title"`
	Content            string          `db:"content"`
	URL                string          `db:"url"`
	ImageURL           sql.NullString  `db:"image_url"`
	Author             sql.NullString  `db:"author"`
	Category           string          `db:"category"`
	ContentHash        string          `db:"content_hash"`
	Status             string          `db:"status"`
	RelevanceScore     sql.NullFloat64 `db:"relevance_score"`
	Summary            sql.NullString  `db:"ai_summary"`
	Insights           pq.StringArray  `db:"ai_insights"`
	Hashtags           pq.StringArray  `db:"ai_hashtags"`
	RequiresModeration bool            `db:"requires_moderation"`
	PublishedAt        sql.NullTime    `db:"published_at"`
	SourcePublishedAt  sql.NullTime    `db:"source_published_at"`
	DeliveryChannel    sql.NullString  `db:"delivery_channel"`
	DeliveryMessageID  sql.NullInt64   `db:"delivery_message_id"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r itemRow) toDomain() domain.NewsItem {
	item := domain.NewsItem{
		ID:                 r.ID,
		SourceID:           r.SourceID,
		Title:              r.Title,
		Content:            r.Content,
		URL:                r.URL,
		ImageURL:           r.ImageURL.String,
		Author:             r.Author.String,
		Category:           domain.Category(r.Category),
		ContentHash:        r.ContentHash,
		Status:             domain.Status(r.Status),
		Summary:            r.Summary.String,
		Insights:           []string(r.Insights),
		Hashtags:           []string(r.Hashtags),
		RequiresModeration: r.RequiresModeration,
		PublishedAt:        nullTime(r.PublishedAt),
		SourcePublishedAt:  nullTime(r.SourcePublishedAt),
		DeliveryChannel:    r.DeliveryChannel.String,
		DeliveryMessageID:  r.DeliveryMessageID.Int64,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.RelevanceScore.Valid {
		score := r.RelevanceScore.Float64
		item.RelevanceScore = &score
	}
	return item
}

type sourceRow struct {
	ID            int64          `db:"id"`
	Name          string         `db:"name"`
	Type          string         `db:"type"`
	URL           string         `db:"url"`
	Category      string         `db:"category"`
	Active        bool           `db:"is_active"`
	Keywords      pq.StringArray `db:"keywords"`
	ErrorCount    int            `db:"error_count"`
	LastFetchedAt sql.NullTime   `db:"last_fetched_at"`
	LastSuccessAt sql.NullTime   `db:"last_success_at"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r sourceRow) toDomain() domain.NewsSource {
	return domain.NewsSource{
		ID:            r.ID,
		Name:          r.Name,
		Type:          domain.SourceType(r.Type),
		URL:           r.URL,
		Category:      domain.Category(r.Category),
		Active:        r.Active,
		Keywords:      []string(r.Keywords),
		ErrorCount:    r.ErrorCount,
		LastFetchedAt: nullTime(r.LastFetchedAt),
		LastSuccessAt: nullTime(r.LastSuccessAt),
		LastError:     r.LastError.String,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// ExistsByHash is the dedup gate lookup.
func (r *PostgresRepository) ExistsByHash(ctx context.Context, hash string) (bool, error) {
	query, args, err := psql.Select("1").From("news_items").
		Where(sq.Eq{"content_hash": hash}).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	if err := sqlx.GetContext(ctx, r.q, &one, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, persistence("exists by hash", err)
	}
	return true, nil
}

// InsertItem stores a new item. A hash or url collision yields domain.ErrDuplicate
// and leaves the existing row untouched.
func (r *PostgresRepository) InsertItem(ctx context.Context, item *domain.NewsItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	query, args, err := psql.Insert("news_items").SetMap(map[string]any{
		"id":                  item.ID,
		"source_id":           item.SourceID,
		"title":               item.Title,
		"content":             item.Content,
		"url":                 item.URL,
		"image_url":           nullString(item.ImageURL),
		"author":              nullString(item.Author),
		"category":            string(item.Category),
		"content_hash":        item.ContentHash,
		"status":              string(item.Status),
		"requires_moderation": item.RequiresModeration,
		"source_published_at": item.SourcePublishedAt,
		"created_at":          item.CreatedAt,
		"updated_at":          item.UpdatedAt,
	}).ToSql()
	if err != nil {
		return fmt.Errorf("build insert item: %w", err)
	}

	return r.withSavepoint(ctx, "insert_item", func() error {
		if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: item %s", domain.ErrDuplicate, item.ContentHash)
			}
			return persistence("insert item", err)
		}
		return nil
	})
}

// GetItem loads one item by id.
func (r *PostgresRepository) GetItem(ctx context.Context, id string) (domain.NewsItem, error) {
	query, args, err := psql.Select(itemColumns...).From("news_items").
		Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.NewsItem{}, fmt.Errorf("build get item: %w", err)
	}

	var row itemRow
	if err := sqlx.GetContext(ctx, r.q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewsItem{}, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
		}
		return domain.NewsItem{}, persistence("get item", err)
	}
	return row.toDomain(), nil
}

// UpdateItem writes the mutable part of an item.
func (r *PostgresRepository) UpdateItem(ctx context.Context, item domain.NewsItem) error {
	var score any
	if item.RelevanceScore != nil {
		score = *item.RelevanceScore
	}
	var messageID any
	if item.DeliveryMessageID != 0 {
		messageID = item.DeliveryMessageID
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}

	query, args, err := psql.Update("news_items").SetMap(map[string]any{
		"image_url":           nullString(item.ImageURL),
		"status":              string(item.Status),
		"relevance_score":     score,
		"ai_summary":          nullString(item.Summary),
		"ai_insights":         stringArray(item.Insights),
		"ai_hashtags":         stringArray(item.Hashtags),
		"requires_moderation": item.RequiresModeration,
		"published_at":        item.PublishedAt,
		"delivery_channel":    nullString(item.DeliveryChannel),
		"delivery_message_id": messageID,
		"updated_at":          item.UpdatedAt,
	}).Where(sq.Eq{"id": item.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update item: %w", err)
	}

	return r.execOne(ctx, "update item "+item.ID, query, args)
}

// ListItems returns items matching filter in the requested order.
func (r *PostgresRepository) ListItems(ctx context.Context, filter ports.ItemFilter) ([]domain.NewsItem, error) {
	builder := psql.Select(itemColumns...).From("news_items")
	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.RequiresModeration != nil {
		builder = builder.Where(sq.Eq{"requires_moderation": *filter.RequiresModeration})
	}
	switch filter.Order {
	case ports.OrderScoreDesc:
		builder = builder.OrderBy("relevance_score DESC NULLS LAST", "created_at DESC")
	default:
		builder = builder.OrderBy("created_at DESC")
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list items: %w", err)
	}

	var rows []itemRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, persistence("list items", err)
	}

	items := make([]domain.NewsItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toDomain())
	}
	return items, nil
}

// ListSources returns sources ordered by id.
func (r *PostgresRepository) ListSources(ctx context.Context, filter ports.SourceFilter) ([]domain.NewsSource, error) {
	builder := psql.Select(sourceColumns...).From("news_sources").OrderBy("id")
	if filter.ActiveOnly {
		builder = builder.Where(sq.Eq{"is_active": true})
	}
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": string(filter.Category)})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sources: %w", err)
	}

	var rows []sourceRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, args...); err != nil {
		return nil, persistence("list sources", err)
	}

	sources := make([]domain.NewsSource, 0, len(rows))
	for _, row := range rows {
		sources = append(sources, row.toDomain())
	}
	return sources, nil
}

// CreateSourceIfAbsent inserts a source unless one with the same name exists.
func (r *PostgresRepository) CreateSourceIfAbsent(ctx context.Context, source *domain.NewsSource) (bool, error) {
	now := time.Now().UTC()
	query, args, err := psql.Insert("news_sources").SetMap(map[string]any{
		"name":       source.Name,
		"type":       string(source.Type),
		"url":        source.URL,
		"category":   string(source.Category),
		"is_active":  source.Active,
		"keywords":   stringArray(source.Keywords),
		"created_at": now,
		"updated_at": now,
	}).Suffix("ON CONFLICT (name) DO NOTHING RETURNING id").ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert source: %w", err)
	}

	var id int64
	if err := sqlx.GetContext(ctx, r.q, &id, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, persistence("insert source", err)
	}

	source.ID = id
	source.CreatedAt = now
	source.UpdatedAt = now
	return true, nil
}

// UpdateSource writes fetch bookkeeping back.
func (r *PostgresRepository) UpdateSource(ctx context.Context, source domain.NewsSource) error {
	query, args, err := psql.Update("news_sources").SetMap(map[string]any{
		"is_active":       source.Active,
		"keywords":        stringArray(source.Keywords),
		"error_count":     source.ErrorCount,
		"last_fetched_at": source.LastFetchedAt,
		"last_success_at": source.LastSuccessAt,
		"last_error":      nullString(source.LastError),
		"updated_at":      time.Now().UTC(),
	}).Where(sq.Eq{"id": source.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update source: %w", err)
	}

	return r.execOne(ctx, fmt.Sprintf("update source %d", source.ID), query, args)
}

// CreateTask inserts an analysis audit record.
func (r *PostgresRepository) CreateTask(ctx context.Context, task *domain.AnalysisTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	query, args, err := psql.Insert("analysis_tasks").SetMap(map[string]any{
		"id":           task.ID,
		"news_item_id": task.ItemID,
		"task_type":    task.Type,
		"status":       string(task.Status),
		"provider":     nullString(task.Provider),
		"model":        nullString(task.Model),
		"created_at":   task.CreatedAt,
	}).ToSql()
	if err != nil {
		return fmt.Errorf("build insert task: %w", err)
	}

	if _, err := r.q.ExecContext(ctx, query, args...); err != nil {
		return persistence("insert task", err)
	}
	return nil
}

// UpdateTask records the outcome of an analysis attempt.
func (r *PostgresRepository) UpdateTask(ctx context.Context, task domain.AnalysisTask) error {
	var cost any
	if task.Cost != nil {
		cost = *task.Cost
	}

	query, args, err := psql.Update("analysis_tasks").SetMap(map[string]any{
		"status":             string(task.Status),
		"model":              nullString(task.Model),
		"output_data":        nullString(task.Output),
		"error_message":      nullString(task.Error),
		"processing_time_ms": task.ProcessingTime.Milliseconds(),
		"cost_usd":           cost,
		"completed_at":       task.CompletedAt,
	}).Where(sq.Eq{"id": task.ID}).ToSql()
	if err != nil {
		return fmt.Errorf("build update task: %w", err)
	}

	return r.execOne(ctx, "update task "+task.ID, query, args)
}

func (r *PostgresRepository) execOne(ctx context.Context, op, query string, args []any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return persistence(op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

// withSavepoint isolates one statement so that its failure does not abort
// the surrounding transaction.
func (r *PostgresRepository) withSavepoint(ctx context.Context, name string, fn func() error) error {
	if !r.savepoints {
		return fn()
	}
	if _, err := r.q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return persistence("savepoint", err)
	}
	if err := fn(); err != nil {
		if _, rbErr := r.q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, persistence("rollback to savepoint", rbErr))
		}
		return err
	}
	if _, err := r.q.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return persistence("release savepoint", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func stringArray(values []string) pq.StringArray {
	if values == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(values)
}
