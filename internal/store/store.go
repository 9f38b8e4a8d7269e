// Package store is the durable home of posts: structured rows in the
// database, the append-only batch log, the last-seen map and the similarity
// index, all keyed on (channel, post_id).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"channel-relay/internal/database"
	"channel-relay/internal/dedup"
	"channel-relay/internal/journal"
	"channel-relay/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostStore struct {
	db       *database.DB
	batches  *journal.BatchLog
	lastSeen *journal.LastSeen
	index    *dedup.Index
	log      *slog.Logger
}

func New(db *database.DB, batches *journal.BatchLog, lastSeen *journal.LastSeen, index *dedup.Index, log *slog.Logger) *PostStore {
	return &PostStore{
		db:       db,
		batches:  batches,
		lastSeen: lastSeen,
		index:    index,
		log:      log,
	}
}

// Index exposes the similarity index so callers can run duplicate checks
// against exactly what the store inserts into.
func (s *PostStore) Index() *dedup.Index {
	return s.index
}

// Exists reports whether a post with this key is stored.
func (s *PostStore) Exists(ctx context.Context, key models.PostKey) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("channel = ? AND post_id = ?", key.Channel, key.PostID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check post %s/%d: %w", key.Channel, key.PostID, err)
	}
	return count > 0, nil
}

// Add stores a new post. It returns false without touching anything when the
// key is already present, which makes it safe to retry. The row (with its
// media), the batch log line and the index entry are written in that order.
// Once the row is written Add returns true, together with any error from
// the later steps.
func (s *PostStore) Add(ctx context.Context, post *models.Post) (bool, error) {
	if post.Empty() {
		return false, fmt.Errorf("post %s/%d has neither text nor media", post.Channel, post.PostID)
	}
	if len(post.Embedding.Slice()) == 0 {
		return false, fmt.Errorf("post %s/%d has no embedding", post.Channel, post.PostID)
	}

	exists, err := s.Exists(ctx, post.Key())
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	// Dates are compared as stored values, so every row is kept in UTC.
	post.Date = post.Date.UTC()
	for i := range post.Media {
		post.Media[i].Ordinal = i
	}

	created := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Media").Create(post)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true

		for i := range post.Media {
			post.Media[i].OwnerID = post.ID
		}
		if len(post.Media) > 0 {
			return tx.Create(&post.Media).Error
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("insert post %s/%d: %w", post.Channel, post.PostID, err)
	}
	if !created {
		return false, nil
	}

	// The row is committed: the index insert runs even if the log append fails.
	var errs []error
	batch := journal.Batch{
		Timestamp: time.Now().UTC(),
		Posts:     []journal.PostRecord{journal.NewPostRecord(post)},
	}
	if err := s.batches.Append(batch); err != nil {
		errs = append(errs, fmt.Errorf("log post %s/%d: %w", post.Channel, post.PostID, err))
	}
	if err := s.index.Insert(post.Key(), post.Embedding.Slice()); err != nil {
		errs = append(errs, fmt.Errorf("index post %s/%d: %w", post.Channel, post.PostID, err))
	}
	return true, errors.Join(errs...)
}

// MarkPublished flips the published flag of an unpublished post. It returns
// false when there is no such unpublished post.
func (s *PostStore) MarkPublished(ctx context.Context, key models.PostKey) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("channel = ? AND post_id = ? AND published = ?", key.Channel, key.PostID, false).
		Update("published", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark post %s/%d published: %w", key.Channel, key.PostID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UnpublishedPosts returns every unpublished post, newest first, with media
// in ordinal order.
func (s *PostStore) UnpublishedPosts(ctx context.Context) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Preload("Media", orderByOrdinal).
		Where("published = ?", false).
		Order("date DESC").Order("post_id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("query unpublished posts: %w", err)
	}
	return posts, nil
}

// ExpiredUnpublished returns unpublished posts dated before cutoff.
func (s *PostStore) ExpiredUnpublished(ctx context.Context, cutoff time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Preload("Media", orderByOrdinal).
		Where("published = ? AND date < ?", false, cutoff.UTC()).
		Order("date ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("query expired posts: %w", err)
	}
	return posts, nil
}

// SweepExpired deletes unpublished posts dated before cutoff together with
// their media rows, then rebuilds the index from the surviving rows. It
// returns the number of posts deleted.
func (s *PostStore) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.Post{}).
			Where("published = ? AND date < ?", false, cutoff.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("owner_id IN ?", ids).Delete(&models.Media{}).Error; err != nil {
			return fmt.Errorf("delete media rows: %w", err)
		}
		res := tx.Where("id IN ?", ids).Delete(&models.Post{})
		if res.Error != nil {
			return fmt.Errorf("delete post rows: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired posts: %w", err)
	}

	if deleted > 0 {
		if err := s.RebuildIndex(ctx); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// PruneBatchLog drops batch log records older than cutoff.
func (s *PostStore) PruneBatchLog(cutoff time.Time) (int, error) {
	return s.batches.Prune(cutoff)
}

// Embeddings returns every stored embedding in insertion order.
func (s *PostStore) Embeddings(ctx context.Context) ([]dedup.Entry, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Select("id", "channel", "post_id", "embedding").
		Order("id ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	entries := make([]dedup.Entry, 0, len(posts))
	for _, p := range posts {
		entries = append(entries, dedup.Entry{Key: p.Key(), Vector: p.Embedding.Slice()})
	}
	return entries, nil
}

// RebuildIndex replays the stored embeddings into the index.
func (s *PostStore) RebuildIndex(ctx context.Context) error {
	entries, err := s.Embeddings(ctx)
	if err != nil {
		return err
	}
	if err := s.index.Rebuild(entries); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	s.log.Info("similarity index rebuilt", "entries", len(entries))
	return nil
}

// ReconcileIndex rebuilds the index when it is not aligned with the stored
// rows, e.g. after a crash between the row insert and the index insert.
func (s *PostStore) ReconcileIndex(ctx context.Context) (bool, error) {
	entries, err := s.Embeddings(ctx)
	if err != nil {
		return false, err
	}

	keys := make([]models.PostKey, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	if slices.Equal(keys, s.index.Keys()) {
		return false, nil
	}

	s.log.Warn("similarity index out of sync with stored posts, rebuilding",
		"index_entries", s.index.Len(), "stored_posts", len(entries))
	if err := s.index.Rebuild(entries); err != nil {
		return false, fmt.Errorf("rebuild index: %w", err)
	}
	return true, nil
}

// RecentPosts returns the newest posts for read-only inspection.
func (s *PostStore) RecentPosts(ctx context.Context, limit int) ([]models.Post, error) {
	var posts []models.Post
	err := s.db.WithContext(ctx).
		Preload("Media", orderByOrdinal).
		Order("date DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	return posts, nil
}

func (s *PostStore) LastSeen() (map[string]time.Time, error) {
	return s.lastSeen.Load()
}

func (s *PostStore) SaveLastSeen(m map[string]time.Time) error {
	return s.lastSeen.Save(m)
}

// Setting returns the value stored under key, or ok=false.
func (s *PostStore) Setting(ctx context.Context, key string) (string, bool, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return setting.Value, true, nil
}

func (s *PostStore) SetSetting(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}
	return nil
}

func orderByOrdinal(db *gorm.DB) *gorm.DB {
	return db.Order("ordinal ASC")
}
