// Package archive persists engine events to a SQL database so operators can
// query history after the in-memory stream has moved on.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cdpchain/core/events"
	"cdpchain/core/types"
)

// EventRecord is one archived event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"index;not null"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// Event decodes the stored attributes back into the flattened event form.
func (r EventRecord) Event() (*types.Event, error) {
	out := &types.Event{Type: r.Type, Attributes: map[string]string{}}
	if r.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &out.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of %s: %w", r.ID, err)
	}
	return out, nil
}

// Open connects to the archive database. Supported drivers are sqlite and
// postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}
	return db, nil
}

// Archive implements events.Emitter on top of a gorm database.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// New migrates the schema and returns an archive writing to db.
func New(db *gorm.DB, log *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("archive: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Archive{db: db, logger: log, now: time.Now}, nil
}

// Emit stores the event. Write failures are logged; the engine has already
// committed the change the event describes.
func (a *Archive) Emit(ev events.Event) {
	if _, err := a.Store(context.Background(), ev); err != nil {
		a.logger.Error("archive event", "type", ev.EventType(), "error", err)
	}
}

// Store writes ev and returns the persisted record.
func (a *Archive) Store(ctx context.Context, ev events.Event) (EventRecord, error) {
	flat := events.Flatten(ev)
	attrs, err := json.Marshal(flat.Attributes)
	if err != nil {
		return EventRecord{}, err
	}
	record := EventRecord{
		ID:         uuid.New(),
		Type:       flat.Type,
		Account:    flat.Account(),
		Attributes: string(attrs),
		CreatedAt:  a.now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		return EventRecord{}, err
	}
	return record, nil
}

// Query filters archived events. Empty fields match everything.
type Query struct {
	Type    string
	Account string
	Since   time.Time
	Limit   int
}

// Recent returns matching events, newest first.
func (a *Archive) Recent(ctx context.Context, q Query) ([]EventRecord, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	tx := a.db.WithContext(ctx).Model(&EventRecord{})
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	if q.Account != "" {
		tx = tx.Where("account = ?", strings.ToLower(q.Account))
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since.UTC())
	}
	var records []EventRecord
	if err := tx.Order("created_at desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns how many events of eventType are archived.
func (a *Archive) Count(ctx context.Context, eventType string) (int64, error) {
	var count int64
	err := a.db.WithContext(ctx).Model(&EventRecord{}).Where("type = ?", eventType).Count(&count).Error
	return count, err
}
