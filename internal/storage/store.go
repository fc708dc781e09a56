// Package storage persists the single cross-incarnation session record and
// each session's bounded action log behind GORM/SQLite, exactly the stack
// the teacher repo uses for its rule and traffic storage.
package storage

import (
	"fmt"
	"time"

	"github.com/cdp-agent/browserctl/internal/config"
	ilog "github.com/cdp-agent/browserctl/internal/logger"
	"github.com/cdp-agent/browserctl/pkg/model"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// sessionStateRow is the single-row table backing model.SessionRecord. The
// well-known key from the spec is enforced by always operating on id=1.
type sessionStateRow struct {
	ID          uint  `gorm:"primaryKey"`
	ActiveTabID *int64
	SessionID   *string
	IsActive    bool
	UpdatedAt   time.Time
}

// actionRow is one persisted entry of a session's action log.
type actionRow struct {
	ID        uint `gorm:"primaryKey"`
	SessionID string `gorm:"index"`
	Step      int
	Kind      string
	Selector  string
	Success   bool
	URL       string
	Error     string
	At        time.Time
}

// Store is the GORM-backed persistence layer for session state and action
// logs.
type Store struct {
	db     *gorm.DB
	prefix string
	log    ilog.Logger
}

// Open connects to the configured SQLite DSN and migrates the schema.
func Open(cfg *config.Config, l ilog.Logger) (*Store, error) {
	if l == nil {
		l = ilog.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(cfg.Sqlite.Dsn), &gorm.Config{
		Logger: NewGormLogger(l),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Sqlite.Dsn, err)
	}
	s := &Store{db: db, prefix: cfg.Sqlite.Prefix, log: l}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if err := s.db.Table(s.table("session_state")).AutoMigrate(&sessionStateRow{}); err != nil {
		return fmt.Errorf("migrate session_state: %w", err)
	}
	if err := s.db.Table(s.table("action_records")).AutoMigrate(&actionRow{}); err != nil {
		return fmt.Errorf("migrate action_records: %w", err)
	}
	return nil
}

func (s *Store) table(name string) string { return s.prefix + name }

// Load reads the persistent session record. If no row exists yet, it
// returns the zero-value record (IsActive=false, no active tab).
func (s *Store) Load() (model.SessionRecord, error) {
	var row sessionStateRow
	err := s.db.Table(s.table("session_state")).First(&row, 1).Error
	if err == gorm.ErrRecordNotFound {
		return model.SessionRecord{}, nil
	}
	if err != nil {
		return model.SessionRecord{}, fmt.Errorf("load session record: %w", err)
	}
	return row.toModel(), nil
}

// Save writes the full session record in one logical step, satisfying the
// invariant that attachment-ownership and the record update together.
func (s *Store) Save(rec model.SessionRecord) error {
	rec.UpdatedAt = time.Now()
	row := fromModel(rec)
	row.ID = 1
	return s.db.Table(s.table("session_state")).Save(&row).Error
}

// MarkInactive sets isActive=false while deliberately leaving ActiveTabID
// untouched — the persistence trick that lets the next session's CLEANING
// phase find the stale tab even after a clean stop.
func (s *Store) MarkInactive(sessionID *model.SessionID) error {
	updates := map[string]any{
		"is_active":  false,
		"updated_at": time.Now(),
	}
	if sessionID != nil {
		s := string(*sessionID)
		updates["session_id"] = &s
	}
	res := s.db.Table(s.table("session_state")).Where("id = ?", 1).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("mark inactive: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// No row yet: nothing to clean, this is a fresh install.
		return s.Save(model.SessionRecord{IsActive: false})
	}
	return nil
}

// AppendAction records one action attempt and trims the log to
// model.MaxActionLog rows for that session, newest-first retention.
func (s *Store) AppendAction(sessionID model.SessionID, rec model.ActionRecord) error {
	row := actionRow{
		SessionID: string(sessionID),
		Step:      rec.Step,
		Kind:      rec.Kind,
		Selector:  rec.Selector,
		Success:   rec.Success,
		URL:       rec.URL,
		Error:     rec.Error,
		At:        rec.At,
	}
	if err := s.db.Table(s.table("action_records")).Create(&row).Error; err != nil {
		return fmt.Errorf("append action: %w", err)
	}
	return s.trimActionLog(sessionID)
}

func (s *Store) trimActionLog(sessionID model.SessionID) error {
	sub := s.db.Table(s.table("action_records")).
		Select("id").
		Where("session_id = ?", string(sessionID)).
		Order("step DESC").
		Limit(model.MaxActionLog)
	return s.db.Table(s.table("action_records")).
		Where("session_id = ? AND id NOT IN (?)", string(sessionID), sub).
		Delete(&actionRow{}).Error
}

// RecentActions returns up to model.MaxActionLog most recent rows for a
// session, oldest first.
func (s *Store) RecentActions(sessionID model.SessionID) ([]model.ActionRecord, error) {
	var rows []actionRow
	err := s.db.Table(s.table("action_records")).
		Where("session_id = ?", string(sessionID)).
		Order("step ASC").
		Limit(model.MaxActionLog).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load action log: %w", err)
	}
	out := make([]model.ActionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ActionRecord{
			Step: r.Step, Kind: r.Kind, Selector: r.Selector,
			Success: r.Success, URL: r.URL, Error: r.Error, At: r.At,
		})
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (r sessionStateRow) toModel() model.SessionRecord {
	rec := model.SessionRecord{IsActive: r.IsActive, UpdatedAt: r.UpdatedAt}
	if r.ActiveTabID != nil {
		tab := model.TabHandle(*r.ActiveTabID)
		rec.ActiveTabID = &tab
	}
	if r.SessionID != nil {
		sid := model.SessionID(*r.SessionID)
		rec.SessionID = &sid
	}
	return rec
}

func fromModel(rec model.SessionRecord) sessionStateRow {
	row := sessionStateRow{IsActive: rec.IsActive, UpdatedAt: rec.UpdatedAt}
	if rec.ActiveTabID != nil {
		tab := int64(*rec.ActiveTabID)
		row.ActiveTabID = &tab
	}
	if rec.SessionID != nil {
		sid := string(*rec.SessionID)
		row.SessionID = &sid
	}
	return row
}
