package rule

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store errors surfaced to the admin API.
var (
	ErrNotFound = errors.New("rule not found")
	ErrConflict = errors.New("rule with the same routePattern, method, and scope already exists")
)

// Patch carries partial updates for a rule. Nil fields are left untouched.
type Patch struct {
	RoutePattern  *string `json:"routePattern"`
	Method        *string `json:"method"`
	MaxRequests   *int    `json:"maxRequests"`
	WindowSeconds *int    `json:"windowSeconds"`
	Scope         *string `json:"scope"`
	IsActive      *bool   `json:"isActive"`
}

// Store is the persistence interface for admission rules.
type Store interface {
	List(ctx context.Context) ([]Rule, error)
	ListActive(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (Rule, error)
	Create(ctx context.Context, draft Rule) (Rule, error)
	Update(ctx context.Context, id string, patch Patch) (Rule, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

type gormStore struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite rule database at path and migrates
// the rules table.
func Open(path string) (Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open rule db at %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Rule{}); err != nil {
		return nil, fmt.Errorf("migrate rules table: %w", err)
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) List(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}

func (s *gormStore) ListActive(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	return rules, nil
}

func (s *gormStore) Get(ctx context.Context, id string) (Rule, error) {
	var r Rule
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Rule{}, ErrNotFound
	}
	if err != nil {
		return Rule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return r, nil
}

func (s *gormStore) Create(ctx context.Context, draft Rule) (Rule, error) {
	draft.Method = strings.ToUpper(draft.Method)
	if err := draft.Validate(); err != nil {
		return Rule{}, err
	}
	draft.ID = uuid.NewString()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkConflict(tx, draft.RoutePattern, draft.Method, draft.Scope, ""); err != nil {
			return err
		}
		return tx.Create(&draft).Error
	})
	if err != nil {
		return Rule{}, err
	}
	return draft, nil
}

func (s *gormStore) Update(ctx context.Context, id string, patch Patch) (Rule, error) {
	var merged Rule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&merged, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get rule %s: %w", id, err)
		}

		identityChanged := false
		if patch.RoutePattern != nil {
			merged.RoutePattern = *patch.RoutePattern
			identityChanged = true
		}
		if patch.Method != nil {
			merged.Method = strings.ToUpper(*patch.Method)
			identityChanged = true
		}
		if patch.Scope != nil {
			merged.Scope = *patch.Scope
			identityChanged = true
		}
		if patch.MaxRequests != nil {
			merged.MaxRequests = *patch.MaxRequests
		}
		if patch.WindowSeconds != nil {
			merged.WindowSeconds = *patch.WindowSeconds
		}
		if patch.IsActive != nil {
			merged.IsActive = *patch.IsActive
		}

		if err := merged.Validate(); err != nil {
			return err
		}

		// Uniqueness is re-checked against the prospective merged values,
		// excluding the row being updated.
		if identityChanged {
			if err := checkConflict(tx, merged.RoutePattern, merged.Method, merged.Scope, id); err != nil {
				return err
			}
		}
		return tx.Save(&merged).Error
	})
	if err != nil {
		return Rule{}, err
	}
	return merged, nil
}

func (s *gormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&Rule{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete rule %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// checkConflict fails with ErrConflict when another row (active or not)
// already holds the same identity triple.
func checkConflict(tx *gorm.DB, pattern, method, scope, excludeID string) error {
	q := tx.Model(&Rule{}).
		Where("route_pattern = ? AND method = ? AND scope = ?", pattern, method, scope)
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return fmt.Errorf("conflict check: %w", err)
	}
	if n > 0 {
		return ErrConflict
	}
	return nil
}
