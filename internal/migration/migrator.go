package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/BaSui01/structflow/config"
	"github.com/BaSui01/structflow/internal/database"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultTable 记录已应用版本的表
const DefaultTable = "structflow_schema_migrations"

// MigrationStatus 单个迁移文件的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 迁移摘要
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Migrator 迁移器接口，CLI 只依赖该接口
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	// Version 返回当前版本；尚未迁移时为 0
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator 基于 golang-migrate 的实现，复用审计库的连接。
type DefaultMigrator struct {
	driver  string
	table   string
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// Option 配置 DefaultMigrator
type Option func(*DefaultMigrator)

// WithTable 覆盖版本表名
func WithTable(table string) Option {
	return func(m *DefaultMigrator) {
		if table != "" {
			m.table = table
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(m *DefaultMigrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a migrator over an open connection. Close closes db.
func New(db *sql.DB, driver string, opts ...Option) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	driver, err := ParseDriver(driver)
	if err != nil {
		return nil, err
	}

	m := &DefaultMigrator{driver: driver, table: DefaultTable, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "migration"), zap.String("driver", driver))

	instance, err := m.databaseDriver(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, path.Join("migrations", driver))
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	m.migrate, err = migrate.NewWithInstance("iofs", src, driver, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Open 按数据库配置建立连接并创建迁移器
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	driver, err := ParseDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	cfg.Driver = driver
	pool, err := database.Open(driver, cfg.DSN(), database.PoolConfig{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := pool.DB().DB()
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	m, err := New(sqlDB, driver, WithLogger(logger))
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return m, nil
}

func (m *DefaultMigrator) databaseDriver(db *sql.DB) (migratedb.Driver, error) {
	switch m.driver {
	case database.DriverPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: m.table})
	case database.DriverMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: m.table})
	default:
		// sqlite3 驱动只使用传入的 *sql.DB，不依赖 cgo 连接
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: m.table})
	}
}

func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	m.logger.Info("migrations applied")
	return nil
}

func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

// Steps 正数前进，负数回滚
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	if err := m.migrate.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration goto failed: %w", err)
	}
	return nil
}

// Force 只改写版本记录，不执行 SQL
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := Available(m.driver)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.Version,
			Name:    f.Name,
			Applied: f.Version <= current,
			Dirty:   dirty && f.Version == current,
		})
	}
	return statuses, nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

func (m *DefaultMigrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// File 一个内嵌的迁移版本
type File struct {
	Version uint
	Name    string
}

// Available 列出 driver 方言下内嵌的全部迁移版本，按版本升序
func Available(driver string) ([]File, error) {
	driver, err := ParseDriver(driver)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(migrationsFS, path.Join("migrations", driver))
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []File
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_attempts.up.sql
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, File{Version: uint(version), Name: strings.TrimSuffix(rest, ".up.sql")})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ParseDriver 规范化驱动名
func ParseDriver(s string) (string, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return database.DriverPostgres, nil
	case "mysql", "mariadb":
		return database.DriverMySQL, nil
	case "sqlite", "sqlite3":
		return database.DriverSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %q", s)
	}
}
