package migration

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// 注册纯 Go 的 "sqlite" 驱动，与 internal/database 的 glebarez 保持同一实现
	_ "github.com/glebarez/go-sqlite"
)

// =============================================================================
// 📦 内嵌迁移脚本
// =============================================================================

//go:embed migrations/postgres/*.sql
var postgresFS embed.FS

//go:embed migrations/mysql/*.sql
var mysqlFS embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

// =============================================================================
// 🧩 类型与接口
// =============================================================================

// DatabaseType identifies a supported migration dialect
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// dialect 集中一种数据库方言的全部差异：sql 驱动名、内嵌迁移目录、migrate 驱动构造。
type dialect struct {
	driverName string
	dir        string
	fsys       fs.FS
	newDriver  func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		driverName: "postgres",
		dir:        "migrations/postgres",
		fsys:       postgresFS,
		newDriver: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeMySQL: {
		driverName: "mysql",
		dir:        "migrations/mysql",
		fsys:       mysqlFS,
		newDriver: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeSQLite: {
		// glebarez/go-sqlite 注册的驱动名是 "sqlite"，迁移语句本身与 sqlite3 方言兼容
		driverName: "sqlite",
		dir:        "migrations/sqlite",
		fsys:       sqliteFS,
		newDriver: func(db *sql.DB, table string) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
		},
	},
}

// MigrationStatus 单条迁移的应用状态
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo 汇总当前的迁移进度
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器的连接参数
type Config struct {
	DatabaseType DatabaseType // postgres, mysql 或 sqlite
	DatabaseURL  string       // 连接串，格式随方言而异，见 BuildDatabaseURL
	TableName    string       // 迁移记录表名，默认 schema_migrations
}

// Migrator migrate 子命令依赖的全部操作
type Migrator interface {
	Up(ctx context.Context) error                 // 应用全部待执行迁移
	Down(ctx context.Context) error               // 回滚最近一次迁移
	DownAll(ctx context.Context) error            // 回滚全部迁移
	Goto(ctx context.Context, version uint) error // 迁移至指定版本
	Force(ctx context.Context, version int) error // 强写版本号，不执行迁移
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// =============================================================================
// ⚙️ 迁移执行器
// =============================================================================

// DefaultMigrator 基于 golang-migrate 的 Migrator 唯一实现
type DefaultMigrator struct {
	cfg     *Config
	dialect dialect
	db      *sql.DB
	engine  *migrate.Migrate
}

// NewMigrator 打开数据库连接并装配迁移引擎，调用方负责 Close
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	d, ok := dialects[cfg.DatabaseType]
	if !ok {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}

	db, err := sql.Open(d.driverName, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	driver, err := d.newDriver(db, cfg.TableName)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init migrate driver: %w", err)
	}

	src, err := iofs.New(d.fsys, d.dir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	engine, err := migrate.NewWithInstance("iofs", src, string(cfg.DatabaseType), driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init migrate engine: %w", err)
	}

	return &DefaultMigrator{
		cfg:     cfg,
		dialect: d,
		db:      db,
		engine:  engine,
	}, nil
}

// Up 应用全部待执行迁移，无待执行迁移时静默返回
func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.engine.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Down 回滚最近一次迁移
func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := m.engine.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back one migration: %w", err)
	}
	return nil
}

// DownAll 回滚全部已应用迁移
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := m.engine.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back all migrations: %w", err)
	}
	return nil
}

// Goto 向上或向下迁移至指定版本
func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	if err := m.engine.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate to version: %w", err)
	}
	return nil
}

// Force 改写版本记录但不执行任何脚本
func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.engine.Force(version); err != nil {
		return fmt.Errorf("force version: %w", err)
	}
	return nil
}

// Version returns the current migration version.
// A fresh database reports version 0 without error.
func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	v, dirty, err := m.engine.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}

// Status 逐条列出内嵌迁移及其应用状态
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	cur, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	scripts, err := m.embeddedScripts()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(scripts))
	for _, sc := range scripts {
		statuses = append(statuses, MigrationStatus{
			Version: sc.version,
			Name:    sc.title,
			Applied: sc.version <= cur,
			Dirty:   dirty && sc.version == cur,
		})
	}

	return statuses, nil
}

// Info 汇总迁移进度
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	cur, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	scripts, err := m.embeddedScripts()
	if err != nil {
		return nil, err
	}

	done := 0
	for _, sc := range scripts {
		if sc.version <= cur {
			done++
		}
	}

	return &MigrationInfo{
		CurrentVersion:    cur,
		Dirty:             dirty,
		TotalMigrations:   len(scripts),
		AppliedMigrations: done,
		PendingMigrations: len(scripts) - done,
	}, nil
}

// Close closes the migrator and the database connection it owns
func (m *DefaultMigrator) Close() error {
	srcErr, drvErr := m.engine.Close()
	return errors.Join(srcErr, drvErr, m.db.Close())
}

// migrationScript 从嵌入文件名解析出的一条迁移脚本
type migrationScript struct {
	version uint
	title   string
}

// embeddedScripts lists the embedded up-migrations for the active dialect
func (m *DefaultMigrator) embeddedScripts() ([]migrationScript, error) {
	entries, err := fs.ReadDir(m.dialect.fsys, m.dialect.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := map[uint]bool{}
	var scripts []migrationScript
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		sc, ok := parseScriptName(ent.Name())
		if !ok || seen[sc.version] {
			continue
		}
		seen[sc.version] = true
		scripts = append(scripts, sc)
	}

	slices.SortFunc(scripts, func(a, b migrationScript) int {
		return cmp.Compare(a.version, b.version)
	})

	return scripts, nil
}

// parseScriptName 解析 000001_init_schema.up.sql 形式的文件名
func parseScriptName(filename string) (migrationScript, bool) {
	base, ok := strings.CutSuffix(filename, ".up.sql")
	if !ok {
		return migrationScript{}, false
	}
	numPart, title, ok := strings.Cut(base, "_")
	if !ok {
		return migrationScript{}, false
	}
	v, err := strconv.ParseUint(numPart, 10, 32)
	if err != nil {
		return migrationScript{}, false
	}
	return migrationScript{version: uint(v), title: title}, true
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// ParseDatabaseType 将常见别名归一化为受支持的方言
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
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

// BuildDatabaseURL 从零散的连接字段拼出各方言的 DSN
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			username, password, host, port, database)
	case DatabaseTypeSQLite:
		// glebarez 方言的外键开关通过 _pragma 查询参数传递
		return fmt.Sprintf("file:%s?mode=rwc&_pragma=foreign_keys(1)", database)
	default:
		return ""
	}
}
