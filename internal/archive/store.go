package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/duochat/agent/conversation"
	"github.com/BaSui01/duochat/internal/database"
	"github.com/BaSui01/duochat/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// QueryFunc 接收每次存储操作的耗时
type QueryFunc func(operation string, duration time.Duration)

// Store 对话记录归档存储
type Store struct {
	pool    *database.PoolManager
	onQuery QueryFunc
	logger  *zap.Logger
}

// StoreOption 配置 Store
type StoreOption func(*Store)

// WithQueryObserver 注册查询耗时回调
func WithQueryObserver(fn QueryFunc) StoreOption {
	return func(s *Store) { s.onQuery = fn }
}

// NewStore 创建归档存储
func NewStore(pool *database.PoolManager, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{pool: pool, logger: logger.With(zap.String("component", "archive"))}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate 自动建表
func (s *Store) Migrate(ctx context.Context) error {
	defer s.observe("migrate", time.Now())
	if err := s.pool.DB().WithContext(ctx).AutoMigrate(&Transcript{}, &TranscriptMessage{}); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}

// Save 归档一份对话文档；同一 ID 重复保存时整体替换
func (s *Store) Save(ctx context.Context, doc conversation.Document, reason conversation.FinishReason) error {
	if doc.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "transcript id must not be empty").
			WithHTTPStatus(http.StatusBadRequest)
	}
	defer s.observe("save", time.Now())

	t := FromDocument(doc, reason)
	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		if err := tx.Where("transcript_id = ?", t.ID).Delete(&TranscriptMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", t.ID).Delete(&Transcript{}).Error; err != nil {
			return err
		}
		return tx.Create(&t).Error
	})
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to archive transcript").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	s.logger.Info("transcript archived",
		zap.String("conversation_id", t.ID),
		zap.Int("messages", t.MessageCount),
		zap.String("reason", t.FinishReason),
	)
	return nil
}

// List 按开始时间倒序返回归档摘要（不含消息）
func (s *Store) List(ctx context.Context, limit int) ([]Transcript, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	defer s.observe("list", time.Now())

	var out []Transcript
	err := s.pool.DB().WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to list transcripts").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return out, nil
}

// Get 返回带全部消息的归档记录
func (s *Store) Get(ctx context.Context, id string) (*Transcript, error) {
	defer s.observe("get", time.Now())

	var t Transcript
	err := s.pool.DB().WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&t, "id = ?", id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("transcript %q not found", id)).
			WithHTTPStatus(http.StatusNotFound)
	case err != nil:
		return nil, types.NewError(types.ErrInternalError, "failed to load transcript").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	return &t, nil
}

// Ping 检查底层数据库
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) observe(op string, start time.Time) {
	if s.onQuery != nil {
		s.onQuery(op, time.Since(start))
	}
}
