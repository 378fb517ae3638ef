package history

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/quill/pkg/message"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// entry is one persisted message. Seq preserves arrival order.
type entry struct {
	Seq           uint   `gorm:"primaryKey;autoIncrement"`
	CorrelationID string `gorm:"index;not null"`
	MessageID     string `gorm:"not null"`
	Sender        string
	Recipient     string
	Type          string
	Kind          string
	Body          string `gorm:"type:text;not null"`
	CreatedAt     time.Time
}

func (entry) TableName() string {
	return "message_history"
}

// SQLStore persists history in a SQLite database through gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (or creates) the SQLite database at path and migrates
// the history table.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database %s: %w", path, err)
	}

	// SQLite allows one writer at a time.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access history database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// Append inserts msg as a new row.
func (s *SQLStore) Append(ctx context.Context, msg *message.Message) error {
	data, err := message.Marshal(msg)
	if err != nil {
		return err
	}

	row := entry{
		CorrelationID: msg.CorrelationID,
		MessageID:     msg.ID,
		Sender:        msg.Sender,
		Recipient:     msg.Recipient,
		Type:          string(msg.Type),
		Kind:          string(msg.Kind),
		Body:          string(data),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// List returns the messages of a correlation id ordered by insertion.
func (s *SQLStore) List(ctx context.Context, correlationID string) ([]*message.Message, error) {
	var rows []entry
	err := s.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("seq asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	out := make([]*message.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := message.Unmarshal([]byte(row.Body))
		if err != nil {
			return nil, fmt.Errorf("history row %d: %w", row.Seq, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
