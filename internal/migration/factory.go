package migration

import (
	"fmt"

	appconfig "github.com/tensorgate/relaypool/config"
)

// NewMigratorFromDatabaseConfig 从应用的数据库配置构建迁移器。
// SQLite 场景下 Name 字段即数据库文件路径，其余连接字段被忽略。
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	// BuildDatabaseURL 按方言取用需要的字段
	dbURL := BuildDatabaseURL(dbType,
		dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}

// NewMigratorFromURL 直接以数据库 URL 构建迁移器，供命令行 --db-url 覆盖时使用。
func NewMigratorFromURL(dbType, dbURL string) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}

	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
	})
}
