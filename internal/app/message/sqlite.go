package message

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// record is the gorm model for the messages table.
type record struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"not null;index"`
	Content   string    `gorm:"not null"`
	Room      string    `gorm:"not null;default:global;index:idx_messages_room_recent,priority:1"`
	CreatedAt time.Time `gorm:"index:idx_messages_room_recent,priority:2"`
	UpdatedAt time.Time
}

func (record) TableName() string {
	return "messages"
}

func (r record) toMessage() Message {
	return Message{
		ID:        r.ID,
		UserID:    r.UserID,
		Content:   r.Content,
		Room:      r.Room,
		CreatedAt: r.CreatedAt,
	}
}

// SQLiteStore keeps messages in a SQLite database through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	// SQLite allows a single writer, and every new connection to ":memory:" would
	// see its own empty database.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts a message; gorm stamps CreatedAt on insert.
func (s *SQLiteStore) Append(ctx context.Context, room, userID, content string) (Message, error) {
	content, err := normalize(content)
	if err != nil {
		return Message{}, err
	}

	rec := record{UserID: userID, Content: content, Room: room}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Message{}, fmt.Errorf("%w: insert: %v", ErrPersistence, err)
	}
	return rec.toMessage(), nil
}

// Recent returns at most limit messages of room, oldest first.
func (s *SQLiteStore) Recent(ctx context.Context, room string, limit int) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}

	var recs []record
	err := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query recent: %v", ErrPersistence, err)
	}

	msgs := make([]Message, len(recs))
	for i, rec := range recs {
		msgs[i] = rec.toMessage()
	}
	reverse(msgs)
	return msgs, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
