package store

import (
	"time"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// Interview is one mock interview owned by a user. Legacy interviews have no
// blocks and keep their transcript on the interview row.
type Interview struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	UserID             string `gorm:"type:varchar(64);not null;uniqueIndex:idx_interview_owner_key"`
	IdempotencyKey     string `gorm:"type:varchar(128);not null;uniqueIndex:idx_interview_owner_key"`
	Status             string `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	JobDescription     string `gorm:"type:text"`
	Resume             string `gorm:"type:text"`
	Persona            string `gorm:"type:varchar(100)"`
	DurationMs         int64  `gorm:"not null;default:0"`
	Language           string `gorm:"type:varchar(16)"`
	AnswerTimeLimitSec int    `gorm:"not null;default:0"`
	Transcript         []byte `gorm:"type:bytea"`
	StartedAt          *time.Time
	EndedAt            *time.Time
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`

	Blocks   []Block            `gorm:"foreignKey:InterviewID"`
	Feedback *InterviewFeedback `gorm:"foreignKey:InterviewID"`
}

func (Interview) TableName() string { return "interviews" }

// InterviewStatus parses Status.
func (iv *Interview) InterviewStatus() protocol.InterviewStatus {
	return protocol.ParseInterviewStatus(iv.Status)
}

// Legacy reports whether the interview predates blocks.
func (iv *Interview) Legacy() bool { return len(iv.Blocks) == 0 }

// Block is one question of a multi-block interview.
type Block struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	InterviewID string `gorm:"type:uuid;not null;uniqueIndex:idx_block_interview_number"`
	BlockNumber int32  `gorm:"not null;uniqueIndex:idx_block_interview_number"`
	Question    string `gorm:"type:text;not null"`
	Transcript  []byte `gorm:"type:bytea"`
	Status      string `gorm:"type:varchar(20);not null;default:'PENDING'"`
	StartedAt   *time.Time
	EndedAt     *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`

	Feedback *BlockFeedback `gorm:"foreignKey:BlockID"`
}

func (Block) TableName() string { return "interview_blocks" }

// FeedbackFields are the sections every feedback row carries.
type FeedbackFields struct {
	Summary                  string `gorm:"type:text;not null" json:"summary"`
	Strengths                string `gorm:"type:text;not null" json:"strengths"`
	ContentAndStructure      string `gorm:"type:text;not null" json:"contentAndStructure"`
	CommunicationAndDelivery string `gorm:"type:text;not null" json:"communicationAndDelivery"`
	Presentation             string `gorm:"type:text;not null" json:"presentation"`
}

// BlockFeedback is unique per block.
type BlockFeedback struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	BlockID     string    `gorm:"type:uuid;not null;uniqueIndex"`
	InterviewID string    `gorm:"type:uuid;not null;index"`
	Score       int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`

	FeedbackFields `gorm:"embedded"`
}

func (BlockFeedback) TableName() string { return "block_feedback" }

// InterviewFeedback is unique per interview.
type InterviewFeedback struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	InterviewID string    `gorm:"type:uuid;not null;uniqueIndex"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`

	FeedbackFields `gorm:"embedded"`
}

func (InterviewFeedback) TableName() string { return "interview_feedback" }

// AllModels lists the tables for AutoMigrate.
func AllModels() []any {
	return []any{&Interview{}, &Block{}, &BlockFeedback{}, &InterviewFeedback{}}
}
