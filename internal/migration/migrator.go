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
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/duochat/config"
	"github.com/BaSui01/duochat/internal/database"
)

// =============================================================================
// 内嵌迁移文件
// =============================================================================

//go:embed migrations
var migrationsFS embed.FS

// DefaultTableName 记录迁移版本的表
const DefaultTableName = "dc_schema_migrations"

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// ParseDatabaseType 解析数据库类型字符串
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// dir 返回该方言迁移文件在内嵌文件系统中的目录
func (t DatabaseType) dir() string {
	return path.Join("migrations", string(t))
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 当前迁移状态摘要
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Migrator 归档库的 Schema 迁移操作
type Migrator interface {
	// Up 应用所有未执行的迁移
	Up(ctx context.Context) error
	// Down 回滚最近一个迁移
	Down(ctx context.Context) error
	// DownAll 回滚全部迁移
	DownAll(ctx context.Context) error
	// Steps 正数前进 n 步，负数回滚 n 步
	Steps(ctx context.Context, n int) error
	// Force 只改写版本号，不执行迁移（用于修复 dirty 状态）
	Force(ctx context.Context, version int) error
	// Version 返回当前版本与 dirty 标记，未迁移时版本为 0
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// 基于 golang-migrate 的实现
// =============================================================================

// DefaultMigrator 使用 golang-migrate 与内嵌 SQL 文件
type DefaultMigrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// Option 配置 DefaultMigrator
type Option func(*options)

type options struct {
	tableName   string
	lockTimeout time.Duration
	logger      *zap.Logger
}

// WithTableName 指定版本表名
func WithTableName(name string) Option {
	return func(o *options) { o.tableName = name }
}

// WithLockTimeout 指定获取迁移锁的超时
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewMigrator 在已打开的连接上创建迁移器。迁移器接管 db，Close 时一并关闭。
func NewMigrator(db *sql.DB, dbType DatabaseType, opts ...Option) (*DefaultMigrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	o := options{
		tableName:   DefaultTableName,
		lockTimeout: 15 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	driver, err := databaseDriver(db, dbType, o.tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, dbType.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, string(dbType), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = o.lockTimeout
	m.Log = &migrateLogger{logger: o.logger}

	return &DefaultMigrator{
		dbType:  dbType,
		migrate: m,
		logger:  o.logger.With(zap.String("component", "migration"), zap.String("driver", string(dbType))),
	}, nil
}

// Open 按数据库配置打开一条独立连接并创建迁移器
func Open(cfg config.DatabaseConfig, opts ...Option) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dialector, err := database.Dialector(cfg)
	if err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	db, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if dbType == DatabaseTypeSQLite {
		db.SetMaxOpenConns(1)
	}

	m, err := NewMigrator(db, dbType, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func databaseDriver(db *sql.DB, dbType DatabaseType, table string) (migratedb.Driver, error) {
	switch dbType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case DatabaseTypeSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// ignoreNoChange 已是目标状态不算失败
func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Up 应用所有未执行的迁移
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := ignoreNoChange(m.migrate.Up()); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	m.logVersion(ctx, "Migrations applied")
	return nil
}

// Down 回滚最近一个迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := ignoreNoChange(m.migrate.Steps(-1)); err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	m.logVersion(ctx, "Migration rolled back")
	return nil
}

// DownAll 回滚全部迁移
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := ignoreNoChange(m.migrate.Down()); err != nil {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	m.logVersion(ctx, "All migrations rolled back")
	return nil
}

// Steps 正数前进 n 步，负数回滚 n 步
func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	if err := ignoreNoChange(m.migrate.Steps(n)); err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	m.logVersion(ctx, "Migration steps applied")
	return nil
}

// Force 只改写版本号，不执行迁移
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("Migration version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本，未执行过迁移时为 0
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

// Status 列出所有迁移及其状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

// Info 返回迁移摘要
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	info := &MigrationInfo{
		CurrentVersion:  current,
		Dirty:           dirty,
		TotalMigrations: len(statuses),
	}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close 释放迁移源与数据库连接
func (m *DefaultMigrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	return errors.Join(sourceErr, dbErr)
}

func (m *DefaultMigrator) logVersion(ctx context.Context, msg string) {
	version, dirty, err := m.Version(ctx)
	if err != nil {
		return
	}
	m.logger.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
}

// =============================================================================
// 迁移文件枚举
// =============================================================================

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 从 000001_name.up.sql 形式的文件名解析迁移列表，按版本升序
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	entries, err := fs.ReadDir(migrationsFS, dbType.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []migrationFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		files = append(files, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(rest, ".up.sql"),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// migrateLogger 将 golang-migrate 的日志转给 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
