package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"guestbook/pkg/domain"
)

const (
	actionHide   = "hide"
	actionUnhide = "unhide"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&MessageModel{}, &ModerationEventModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB wraps an already opened gorm handle. Used by tests.
func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append persists a new message with a store-assigned id and timestamp.
// Ids are unique, so the (created_at, id) pair stays a total order even
// when concurrent writers land on the same clock tick.
func (s *GormStore) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()
	msg.Visible = true
	model := messageToModel(msg)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

// ListRecent returns the newest messages, visible-only when requested.
func (s *GormStore) ListRecent(ctx context.Context, limit int, visibleOnly bool) ([]domain.Message, error) {
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	tx := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if visibleOnly {
		tx = tx.Where("visible = ?", true)
	}
	var models []MessageModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// Get retrieves a message by id.
func (s *GormStore) Get(ctx context.Context, id string) (domain.Message, bool, error) {
	var model MessageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

// Delete permanently removes a message. Unknown ids are a silent no-op so
// duplicate delete requests stay idempotent.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&MessageModel{}, "id = ?", id).Error
}

// SetVisibility toggles soft suppression and writes an audit row in the
// same transaction. Unknown ids are a no-op and leave no audit entry.
func (s *GormStore) SetVisibility(ctx context.Context, id string, visible bool, actor string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&MessageModel{}).Where("id = ?", id).Update("visible", visible)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		action := actionHide
		if visible {
			action = actionUnhide
		}
		detail, _ := json.Marshal(map[string]any{
			"actor":   actor,
			"visible": visible,
		})
		return tx.Create(&ModerationEventModel{
			ID:        uuid.NewString(),
			MessageID: id,
			Action:    action,
			Detail:    detail,
			CreatedAt: time.Now().UTC(),
		}).Error
	})
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:                msg.ID,
		AuthorUserID:      msg.AuthorUserID,
		AuthorDisplayName: msg.AuthorDisplayName,
		AuthorAvatarURL:   msg.AuthorAvatarURL,
		Body:              msg.Body,
		Visible:           msg.Visible,
		CreatedAt:         msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:                m.ID,
		AuthorUserID:      m.AuthorUserID,
		AuthorDisplayName: m.AuthorDisplayName,
		AuthorAvatarURL:   m.AuthorAvatarURL,
		Body:              m.Body,
		Visible:           m.Visible,
		CreatedAt:         m.CreatedAt,
	}
}
