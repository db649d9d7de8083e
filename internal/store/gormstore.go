package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// PoolConfig sizes the database connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db *gorm.DB
}

// zerologWriter routes gorm's logger through zerolog.
type zerologWriter struct {
	logger zerolog.Logger
}

func (w zerologWriter) Printf(format string, args ...interface{}) {
	w.logger.Debug().Msgf(format, args...)
}

// Open connects to Postgres and configures the pool.
func Open(dsn string, pool PoolConfig, logger zerolog.Logger) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(zerologWriter{logger: logger.With().Str("component", "gorm").Logger()}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return &GormStore{db: db}, nil
}

// NewGormStore wraps an existing connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(AllModels()...)
}

// Close releases the pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *GormStore) CreateInterview(ctx context.Context, iv *Interview) (*Interview, bool, error) {
	row := *iv
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = protocol.StatusPending.String()
	}
	row.Blocks = make([]Block, len(iv.Blocks))
	for i, b := range iv.Blocks {
		if b.ID == "" {
			b.ID = uuid.NewString()
		}
		b.InterviewID = row.ID
		if b.Status == "" {
			b.Status = protocol.StatusPending.String()
		}
		row.Blocks[i] = b
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var existing Interview
		if err := s.db.WithContext(ctx).
			Where("user_id = ? AND idempotency_key = ?", iv.UserID, iv.IdempotencyKey).
			Preload("Blocks", orderBlocks).
			First(&existing).Error; err != nil {
			return nil, false, notFound(err)
		}
		return &existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create interview: %w", err)
	}
	return &row, true, nil
}

func orderBlocks(db *gorm.DB) *gorm.DB {
	return db.Order("block_number ASC")
}

func (s *GormStore) GetInterview(ctx context.Context, id string, withFeedback bool) (*Interview, error) {
	q := s.db.WithContext(ctx).Preload("Blocks", orderBlocks)
	if withFeedback {
		q = q.Preload("Feedback").Preload("Blocks.Feedback")
	}
	var iv Interview
	if err := q.First(&iv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &iv, nil
}

func (s *GormStore) GetBlock(ctx context.Context, interviewID string, number int32) (*Block, error) {
	var b Block
	err := s.db.WithContext(ctx).
		Where("interview_id = ? AND block_number = ?", interviewID, number).
		First(&b).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *GormStore) GetBlockByID(ctx context.Context, blockID string) (*Block, error) {
	var b Block
	if err := s.db.WithContext(ctx).Preload("Feedback").First(&b, "id = ?", blockID).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

func (s *GormStore) ListBlocks(ctx context.Context, interviewID string) ([]Block, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Interview{}).Where("id = ?", interviewID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	var blocks []Block
	err := s.db.WithContext(ctx).
		Preload("Feedback").
		Where("interview_id = ?", interviewID).
		Order("block_number ASC").
		Find(&blocks).Error
	return blocks, err
}

func (s *GormStore) UpdateStatus(ctx context.Context, interviewID string, status protocol.InterviewStatus, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var iv Interview
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&iv, "id = ?", interviewID).Error; err != nil {
			return notFound(err)
		}
		if err := nextStatus(iv.InterviewStatus(), status); err != nil {
			return err
		}
		stamp(&iv, status, at)
		return tx.Model(&iv).Updates(map[string]any{
			"status":     iv.Status,
			"started_at": iv.StartedAt,
			"ended_at":   iv.EndedAt,
		}).Error
	})
}

func (s *GormStore) SubmitTranscript(ctx context.Context, sub TranscriptSubmission) (*Block, error) {
	var out *Block
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sub.BlockNumber == nil {
			var iv Interview
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&iv, "id = ?", sub.InterviewID).Error; err != nil {
				return notFound(err)
			}
			var blocks int64
			if err := tx.Model(&Block{}).Where("interview_id = ?", iv.ID).Count(&blocks).Error; err != nil {
				return err
			}
			storeInterviewTranscript(&iv, sub, blocks == 0)
			return tx.Model(&iv).Updates(map[string]any{
				"transcript": iv.Transcript,
				"status":     iv.Status,
				"ended_at":   iv.EndedAt,
			}).Error
		}

		var b Block
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("interview_id = ? AND block_number = ?", sub.InterviewID, *sub.BlockNumber).
			First(&b).Error
		if err != nil {
			return notFound(err)
		}
		ended := sub.EndedAt
		b.Transcript = sub.Transcript
		b.Status = protocol.StatusCompleted.String()
		b.EndedAt = &ended
		if err := tx.Model(&b).Updates(map[string]any{
			"transcript": b.Transcript,
			"status":     b.Status,
			"ended_at":   b.EndedAt,
		}).Error; err != nil {
			return err
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) UpsertBlockFeedback(ctx context.Context, fb *BlockFeedback) (bool, error) {
	row := *fb
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "block_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("upsert block feedback: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) GetInterviewFeedback(ctx context.Context, interviewID string) (*InterviewFeedback, error) {
	var fb InterviewFeedback
	if err := s.db.WithContext(ctx).First(&fb, "interview_id = ?", interviewID).Error; err != nil {
		return nil, notFound(err)
	}
	return &fb, nil
}

func (s *GormStore) CompleteWithFeedback(ctx context.Context, fb *InterviewFeedback, at time.Time) (bool, error) {
	row := *fb
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "interview_id"}}, DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected == 1

		upd := tx.Model(&Interview{}).Where("id = ?", fb.InterviewID).Updates(map[string]any{
			"status":   protocol.StatusCompleted.String(),
			"ended_at": gorm.Expr("COALESCE(ended_at, ?)", at),
		})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("complete interview with feedback: %w", err)
	}
	return created, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
