package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// StringEntry is a row holding a string value.
type StringEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	ExpiresAt *time.Time `gorm:"index"`
}

// SetMember is one member of a set collection.
type SetMember struct {
	Key    string `gorm:"primaryKey"`
	Member string `gorm:"primaryKey"`
}

// HashField is one field of a hash map.
type HashField struct {
	Key   string `gorm:"primaryKey"`
	Field string `gorm:"primaryKey"`
	Value string
}

// DatabaseStore implements Store on PostgreSQL. Strings, sets and hashes live
// in separate tables but share one keyspace: a key may only exist in one of
// them, as in Redis. Prefixes are matched literally with LIKE.
type DatabaseStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Store = (*DatabaseStore)(nil)

func NewDatabaseStore(dsn string, logger *slog.Logger) (*DatabaseStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewDatabaseStoreWithDB(db, logger)
}

// NewDatabaseStoreWithDB migrates the schema on an already opened connection.
func NewDatabaseStoreWithDB(db *gorm.DB, logger *slog.Logger) (*DatabaseStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Auto-create tables if needed
	if err := db.AutoMigrate(&StringEntry{}, &SetMember{}, &HashField{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("database store ready")
	return &DatabaseStore{db: db, logger: logger}, nil
}

func live(db *gorm.DB) *gorm.DB {
	return db.Where("expires_at IS NULL OR expires_at > ?", time.Now())
}

// Increment serializes on a transaction-scoped advisory lock for the key, so
// concurrent calls on an absent or expired key cannot both start from zero.
func (ds *DatabaseStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	var next int64
	err := ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error; err != nil {
			return err
		}
		if err := ds.checkKind(tx, key, kindString); err != nil {
			return err
		}

		var entry StringEntry
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("key = ?", key).Limit(1).Find(&entry)
		if result.Error != nil {
			return result.Error
		}

		var current int64
		switch {
		case result.RowsAffected == 0:
			entry = StringEntry{Key: key}
		case entry.ExpiresAt != nil && !entry.ExpiresAt.After(time.Now()):
			// expired rows count as absent and lose their TTL
			entry = StringEntry{Key: key}
		default:
			n, err := parseInteger(entry.Value)
			if err != nil {
				return err
			}
			current = n
		}
		next = current + delta
		if (delta > 0 && next < current) || (delta < 0 && next > current) {
			return ErrOverflow
		}
		entry.Value = strconv.FormatInt(next, 10)

		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (ds *DatabaseStore) Set(ctx context.Context, key, value string) error {
	return ds.putString(ctx, StringEntry{Key: key, Value: value})
}

func (ds *DatabaseStore) SetWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	if ttlSeconds <= 0 {
		return ErrInvalidExpire
	}
	expiresAt := time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	return ds.putString(ctx, StringEntry{Key: key, Value: value, ExpiresAt: &expiresAt})
}

// putString replaces whatever the key held, like SET does.
func (ds *DatabaseStore) putString(ctx context.Context, entry StringEntry) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SetMember{}, "key = ?", entry.Key).Error; err != nil {
			return err
		}
		if err := tx.Delete(&HashField{}, "key = ?", entry.Key).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error
	})
}

func (ds *DatabaseStore) Get(ctx context.Context, key string) (string, error) {
	db := ds.db.WithContext(ctx)
	if err := ds.checkKind(db, key, kindString); err != nil {
		return "", err
	}

	var entry StringEntry
	err := live(db).Where("key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (ds *DatabaseStore) Remove(ctx context.Context, key string) error {
	return ds.Delete(ctx, key)
}

func (ds *DatabaseStore) Delete(ctx context.Context, key string) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteKeys(tx, []string{key})
	})
}

func (ds *DatabaseStore) GetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	db := ds.db.WithContext(ctx)
	setKeys, hashKeys, err := ds.collectionKeysLike(db, prefix)
	if err != nil {
		return nil, err
	}

	var entries []StringEntry
	if err := live(db).Where("key LIKE ?", likePrefix(prefix)).Find(&entries).Error; err != nil {
		return nil, err
	}
	if len(setKeys)+len(hashKeys) > 0 {
		return nil, ErrWrongType
	}
	if len(entries) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(entries))
	for _, e := range entries {
		values = append(values, e.Value)
	}
	return values, nil
}

func (ds *DatabaseStore) DelByPrefix(ctx context.Context, prefix string) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pattern := likePrefix(prefix)
		if err := tx.Delete(&StringEntry{}, "key LIKE ?", pattern).Error; err != nil {
			return err
		}
		if err := tx.Delete(&SetMember{}, "key LIKE ?", pattern).Error; err != nil {
			return err
		}
		return tx.Delete(&HashField{}, "key LIKE ?", pattern).Error
	})
}

func (ds *DatabaseStore) SetHashSet(ctx context.Context, key, member string) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ds.checkKind(tx, key, kindSet); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&SetMember{Key: key, Member: member}).Error
	})
}

func (ds *DatabaseStore) GetHashSet(ctx context.Context, key string) ([]string, error) {
	db := ds.db.WithContext(ctx)
	if err := ds.checkKind(db, key, kindSet); err != nil {
		return nil, err
	}

	members := []string{}
	err := db.Model(&SetMember{}).Where("key = ?", key).Pluck("member", &members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (ds *DatabaseStore) RemoveHashSet(ctx context.Context, key, member string) error {
	db := ds.db.WithContext(ctx)
	if err := ds.checkKind(db, key, kindSet); err != nil {
		return err
	}
	return db.Delete(&SetMember{}, "key = ? AND member = ?", key, member).Error
}

func (ds *DatabaseStore) GetSetByPrefix(ctx context.Context, prefix string) ([]string, error) {
	db := ds.db.WithContext(ctx)
	pattern := likePrefix(prefix)

	var others int64
	if err := live(db.Model(&StringEntry{})).Where("key LIKE ?", pattern).Count(&others).Error; err != nil {
		return nil, err
	}
	var hashes int64
	if err := db.Model(&HashField{}).Where("key LIKE ?", pattern).Count(&hashes).Error; err != nil {
		return nil, err
	}
	if others+hashes > 0 {
		return nil, ErrWrongType
	}

	var members []string
	err := db.Model(&SetMember{}).Distinct("member").Where("key LIKE ?", pattern).Pluck("member", &members).Error
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	return members, nil
}

func (ds *DatabaseStore) SetHashMap(ctx context.Context, key, field, value string) error {
	return ds.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ds.checkKind(tx, key, kindHash); err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).
			Create(&HashField{Key: key, Field: field, Value: value}).Error
	})
}

func (ds *DatabaseStore) GetHashMap(ctx context.Context, key, field string) (string, error) {
	db := ds.db.WithContext(ctx)
	if err := ds.checkKind(db, key, kindHash); err != nil {
		return "", err
	}

	var hf HashField
	err := db.Where("key = ? AND field = ?", key, field).First(&hf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return hf.Value, nil
}

func (ds *DatabaseStore) GetHashMapList(ctx context.Context, key string) ([]string, error) {
	fields, err := ds.hashFields(ctx, key)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(fields))
	for _, hf := range fields {
		values = append(values, hf.Value)
	}
	return values, nil
}

func (ds *DatabaseStore) GetHashMaps(ctx context.Context, key string) (map[string]string, error) {
	fields, err := ds.hashFields(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(fields))
	for _, hf := range fields {
		out[hf.Field] = hf.Value
	}
	return out, nil
}

func (ds *DatabaseStore) GetHashKeys(ctx context.Context, key, substr string) ([]string, error) {
	fields, err := ds.hashFields(ctx, key)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fields))
	for _, hf := range fields {
		names = append(names, hf.Field)
	}
	return filterContains(names, substr), nil
}

func (ds *DatabaseStore) DeleteHashKeys(ctx context.Context, key string, fields ...string) error {
	if strings.TrimSpace(key) == "" || len(fields) == 0 {
		return nil
	}
	db := ds.db.WithContext(ctx)
	if err := ds.checkKind(db, key, kindHash); err != nil {
		return err
	}
	return db.Delete(&HashField{}, "key = ? AND field IN ?", key, fields).Error
}

// CleanupExpired removes string rows whose TTL has passed.
func (ds *DatabaseStore) CleanupExpired(ctx context.Context) error {
	result := ds.db.WithContext(ctx).Delete(&StringEntry{}, "expires_at <= ?", time.Now())
	if result.Error != nil {
		return result.Error
	}
	ds.logger.Debug("expired rows removed", "count", result.RowsAffected)
	return nil
}

// Close closes the database connection
func (ds *DatabaseStore) Close() error {
	sqlDB, err := ds.db.DB()
	if err != nil {
		return err
	}
	ds.logger.Info("database store closed")
	return sqlDB.Close()
}

func (ds *DatabaseStore) hashFields(ctx context.Context, key string) ([]HashField, error) {
	db := ds.db.WithContext(ctx)
	if err := ds.checkKind(db, key, kindHash); err != nil {
		return nil, err
	}
	var fields []HashField
	if err := db.Where("key = ?", key).Find(&fields).Error; err != nil {
		return nil, err
	}
	return fields, nil
}

// checkKind fails with ErrWrongType when key currently holds another kind.
func (ds *DatabaseStore) checkKind(db *gorm.DB, key string, want kind) error {
	if want != kindString {
		var n int64
		if err := live(db.Model(&StringEntry{})).Where("key = ?", key).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrWrongType
		}
	}
	if want != kindSet {
		var n int64
		if err := db.Model(&SetMember{}).Where("key = ?", key).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrWrongType
		}
	}
	if want != kindHash {
		var n int64
		if err := db.Model(&HashField{}).Where("key = ?", key).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrWrongType
		}
	}
	return nil
}

func (ds *DatabaseStore) collectionKeysLike(db *gorm.DB, prefix string) (setKeys, hashKeys []string, err error) {
	pattern := likePrefix(prefix)
	if err = db.Model(&SetMember{}).Distinct("key").Where("key LIKE ?", pattern).Pluck("key", &setKeys).Error; err != nil {
		return nil, nil, err
	}
	if err = db.Model(&HashField{}).Distinct("key").Where("key LIKE ?", pattern).Pluck("key", &hashKeys).Error; err != nil {
		return nil, nil, err
	}
	return setKeys, hashKeys, nil
}

func deleteKeys(tx *gorm.DB, keys []string) error {
	if err := tx.Delete(&StringEntry{}, "key IN ?", keys).Error; err != nil {
		return err
	}
	if err := tx.Delete(&SetMember{}, "key IN ?", keys).Error; err != nil {
		return err
	}
	return tx.Delete(&HashField{}, "key IN ?", keys).Error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePrefix turns a literal prefix into a LIKE pattern.
func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
