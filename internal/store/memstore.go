package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prepwise/voice-interview/internal/protocol"
)

// MemStore is an in-process Store for local runs and tests.
type MemStore struct {
	mu                sync.RWMutex
	interviews        map[string]*Interview
	byOwnerKey        map[[2]string]string
	blocks            map[string]*Block
	blockFeedback     map[string]*BlockFeedback // by block id
	interviewFeedback map[string]*InterviewFeedback
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		interviews:        make(map[string]*Interview),
		byOwnerKey:        make(map[[2]string]string),
		blocks:            make(map[string]*Block),
		blockFeedback:     make(map[string]*BlockFeedback),
		interviewFeedback: make(map[string]*InterviewFeedback),
	}
}

func (m *MemStore) CreateInterview(ctx context.Context, iv *Interview) (*Interview, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := [2]string{iv.UserID, iv.IdempotencyKey}
	if id, ok := m.byOwnerKey[key]; ok {
		return m.loadInterview(id, false), false, nil
	}

	row := *iv
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = protocol.StatusPending.String()
	}
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now

	for _, b := range iv.Blocks {
		blk := b
		if blk.ID == "" {
			blk.ID = uuid.NewString()
		}
		blk.InterviewID = row.ID
		if blk.Status == "" {
			blk.Status = protocol.StatusPending.String()
		}
		blk.Feedback = nil
		m.blocks[blk.ID] = &blk
	}
	row.Blocks = nil
	row.Feedback = nil

	m.interviews[row.ID] = &row
	m.byOwnerKey[key] = row.ID
	return m.loadInterview(row.ID, false), true, nil
}

// loadInterview must be called with mu held.
func (m *MemStore) loadInterview(id string, withFeedback bool) *Interview {
	row, ok := m.interviews[id]
	if !ok {
		return nil
	}
	out := *row
	out.Blocks = m.blocksOf(id, withFeedback)
	if fb, ok := m.interviewFeedback[id]; ok && withFeedback {
		cp := *fb
		out.Feedback = &cp
	}
	return &out
}

func (m *MemStore) blocksOf(interviewID string, withFeedback bool) []Block {
	var out []Block
	for _, b := range m.blocks {
		if b.InterviewID != interviewID {
			continue
		}
		cp := *b
		if fb, ok := m.blockFeedback[b.ID]; ok && withFeedback {
			fbCopy := *fb
			cp.Feedback = &fbCopy
		}
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b Block) int { return int(a.BlockNumber - b.BlockNumber) })
	return out
}

func (m *MemStore) GetInterview(ctx context.Context, id string, withFeedback bool) (*Interview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iv := m.loadInterview(id, withFeedback)
	if iv == nil {
		return nil, ErrNotFound
	}
	return iv, nil
}

func (m *MemStore) GetBlock(ctx context.Context, interviewID string, number int32) (*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.blocks {
		if b.InterviewID == interviewID && b.BlockNumber == number {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) GetBlockByID(ctx context.Context, blockID string) (*Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[blockID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	if fb, ok := m.blockFeedback[b.ID]; ok {
		fbc := *fb
		cp.Feedback = &fbc
	}
	return &cp, nil
}

func (m *MemStore) ListBlocks(ctx context.Context, interviewID string) ([]Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.interviews[interviewID]; !ok {
		return nil, ErrNotFound
	}
	return m.blocksOf(interviewID, true), nil
}

func (m *MemStore) UpdateStatus(ctx context.Context, interviewID string, status protocol.InterviewStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[interviewID]
	if !ok {
		return ErrNotFound
	}
	if err := nextStatus(iv.InterviewStatus(), status); err != nil {
		return err
	}
	stamp(iv, status, at)
	iv.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) SubmitTranscript(ctx context.Context, sub TranscriptSubmission) (*Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[sub.InterviewID]
	if !ok {
		return nil, ErrNotFound
	}

	if sub.BlockNumber == nil {
		legacy := len(m.blocksOf(iv.ID, false)) == 0
		storeInterviewTranscript(iv, TranscriptSubmission{Transcript: slices.Clone(sub.Transcript), EndedAt: sub.EndedAt}, legacy)
		return nil, nil
	}

	for _, b := range m.blocks {
		if b.InterviewID == sub.InterviewID && b.BlockNumber == *sub.BlockNumber {
			b.Transcript = slices.Clone(sub.Transcript)
			b.Status = protocol.StatusCompleted.String()
			ended := sub.EndedAt
			b.EndedAt = &ended
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) UpsertBlockFeedback(ctx context.Context, fb *BlockFeedback) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[fb.BlockID]; !ok {
		return false, ErrNotFound
	}
	if _, exists := m.blockFeedback[fb.BlockID]; exists {
		return false, nil
	}
	row := *fb
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = time.Now().UTC()
	m.blockFeedback[fb.BlockID] = &row
	return true, nil
}

func (m *MemStore) GetInterviewFeedback(ctx context.Context, interviewID string) (*InterviewFeedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fb, ok := m.interviewFeedback[interviewID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *fb
	return &cp, nil
}

func (m *MemStore) CompleteWithFeedback(ctx context.Context, fb *InterviewFeedback, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[fb.InterviewID]
	if !ok {
		return false, ErrNotFound
	}

	created := false
	if _, exists := m.interviewFeedback[fb.InterviewID]; !exists {
		row := *fb
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		row.CreatedAt = time.Now().UTC()
		m.interviewFeedback[fb.InterviewID] = &row
		created = true
	}
	stamp(iv, protocol.StatusCompleted, at)
	return created, nil
}

func (m *MemStore) Ping(context.Context) error { return nil }
