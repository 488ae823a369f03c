// Package repository 提供数据持久化层实现
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，不需要 CGO
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// Repository 数据库仓库
type Repository struct {
	db *gorm.DB
}

// New 创建新的 Repository 实例
func New(dbPath string) (*Repository, error) {
	// 确保数据库目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// busy_timeout 让多个进程排队等待写锁，_txlock=immediate 让事务在 BEGIN 时即拿写锁
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_txlock=immediate", dbPath)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// 进程内所有访问串行化到同一个连接
	sqlDB.SetMaxOpenConns(1)

	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	if err := db.AutoMigrate(
		&model.Provider{},
		&model.BaseImage{},
		&model.SnapshotImage{},
		&model.Machine{},
		&model.Result{},
	); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	if err := createIndexes(db); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &Repository{db: db}, nil
}

// DB 返回 GORM 数据库实例（用于 Repository 实现）
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// WithContext 返回带上下文的数据库实例
func (r *Repository) WithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Close 关闭数据库连接
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// createIndexes 创建额外的索引和唯一约束
func createIndexes(db *gorm.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{
			name: "base_images",
			sql: `CREATE UNIQUE INDEX IF NOT EXISTS idx_base_images_provider_name
				ON base_images(provider_id, name)`,
		},
		{
			// 按镜像的有序状态查询
			name: "machines",
			sql: `CREATE INDEX IF NOT EXISTS idx_machines_base_image_state_time
				ON machines(base_image_id, state_time, id)`,
		},
		{
			// 按 Provider 的有序查询
			name: "machines",
			sql: `CREATE INDEX IF NOT EXISTS idx_machines_provider_state_time
				ON machines(provider_id, state_time, id)`,
		},
		{
			// 调度器节点名只在设置时唯一
			name: "machines",
			sql: `CREATE UNIQUE INDEX IF NOT EXISTS idx_machines_scheduler_name
				ON machines(scheduler_name)
				WHERE scheduler_name <> ''`,
		},
	}
	for _, s := range stmts {
		if err := db.Exec(s.sql).Error; err != nil {
			return fmt.Errorf("create index on %s: %w", s.name, err)
		}
	}
	return nil
}

// notFound 将 gorm 的未找到错误转换为 ErrNotFound
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return err
}

// Store 聚合所有实体仓库
type Store struct {
	*Repository

	Providers      ProviderRepository
	BaseImages     BaseImageRepository
	SnapshotImages SnapshotImageRepository
	Machines       MachineRepository
	Results        ResultRepository
}

// NewStore 基于已打开的 Repository 创建 Store
func NewStore(repo *Repository) *Store {
	db := repo.DB()
	return &Store{
		Repository:     repo,
		Providers:      NewProviderRepository(db),
		BaseImages:     NewBaseImageRepository(db),
		SnapshotImages: NewSnapshotImageRepository(db),
		Machines:       NewMachineRepository(db),
		Results:        NewResultRepository(db),
	}
}

// Open 打开数据库并创建 Store
func Open(dbPath string) (*Store, error) {
	repo, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	return NewStore(repo), nil
}
