package repo

import (
	"context"
	"encoding/json"

	"github.com/go-pg/pg/v10"
	"github.com/redis/go-redis/v9"

	"inkwell/internal/coauthor"
)

var _ coauthor.SessionArchive = (*Repository)(nil)

type Repository struct {
	db    *pg.DB
	redis redis.Cmdable
}

func NewRepository(db *pg.DB, redis redis.Cmdable) *Repository {
	return &Repository{
		db:    db,
		redis: redis,
	}
}

// Archive upserts the terminal session. Replacement and teardown can both
// archive the same id when a retry races a sweep, so the write is idempotent.
func (r *Repository) Archive(ctx context.Context, s *coauthor.Session) error {
	model := toModel(s)

	_, err := r.db.Model(model).
		OnConflict("(id) DO UPDATE").
		Set("state = EXCLUDED.state, cancel_reason = EXCLUDED.cancel_reason, ended_at = EXCLUDED.ended_at").
		Insert()
	if err != nil {
		return err
	}

	// 缓存失效
	if r.redis != nil {
		_ = r.redis.Del(ctx, archiveCacheKey(s.ID)).Err()
	}

	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*coauthor.Session, error) {
	if r.redis != nil {
		val, err := r.redis.Get(ctx, archiveCacheKey(id)).Result()
		if err == nil {
			var cached SessionArchiveModel
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return fromModel(&cached), nil
			}
		}
	}

	model := &SessionArchiveModel{ID: id}
	if err := r.db.Model(model).WherePK().Select(); err != nil {
		return nil, err
	}

	if r.redis != nil {
		if b, err := json.Marshal(model); err == nil {
			_ = r.redis.Set(ctx, archiveCacheKey(id), b, archiveCacheTTL).Err()
		}
	}

	return fromModel(model), nil
}

func (r *Repository) ListBySection(ctx context.Context, sectionID string, limit int) ([]*coauthor.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	var models []SessionArchiveModel
	err := r.db.Model(&models).
		Where("section_id = ?", sectionID).
		Order("ended_at DESC").
		Limit(limit).
		Select()
	if err != nil {
		return nil, err
	}

	sessions := make([]*coauthor.Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, fromModel(&models[i]))
	}
	return sessions, nil
}
