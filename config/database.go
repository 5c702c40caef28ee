package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var DB *gorm.DB

// OpenDatabase 按驱动打开数据库：sqlite、postgres、mysql
func OpenDatabase(cfg Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "", "sqlite":
		dbPath := cfg.SqlitePath
		if dbPath == "" {
			dbPath = Default().SqlitePath
		}
		if dbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dbPath), os.ModePerm); err != nil {
				log.Printf("创建存储目录失败: %v", err)
				return nil, err
			}
		}
		log.Printf("数据库路径: %s", dbPath)
		dialector = sqlite.Open(dbPath)
	case "postgres":
		dialector = postgres.Open(cfg.PostgresDSN())
	case "mysql":
		dialector = mysql.Open(cfg.MySQLDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		log.Printf("连接数据库失败: %v", err)
		return nil, fmt.Errorf("open %s database: %w", cfg.DBDriver, err)
	}
	DB = db
	return db, nil
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return DB
}
