package database

import (
	"fmt"
	"log"

	"github.com/reporthub/backend-go/internal/config"
	"github.com/reporthub/backend-go/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 获取底层的sql.DB设置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	// 自动迁移报告检索相关表
	if err := autoMigrate(db); err != nil {
		log.Printf("⚠️  Database migration warning: %v", err)
	}

	DB = db
	log.Println("✅ Database connected successfully")
	return db, nil
}

// autoMigrate 自动迁移报告检索相关表
func autoMigrate(db *gorm.DB) error {
	// 按依赖顺序迁移：employees -> reports -> vector_mappings/ingest_intents
	if err := db.AutoMigrate(&models.Employee{}); err != nil {
		log.Printf("⚠️  Failed to migrate employees: %v", err)
		// 继续执行，可能表已存在
	}

	if err := db.AutoMigrate(&models.Report{}); err != nil {
		log.Printf("⚠️  Failed to migrate reports: %v", err)
		// 如果 AutoMigrate 失败，尝试手动创建
		db.Exec(`
			CREATE TABLE IF NOT EXISTS reports (
				report_id bigserial PRIMARY KEY,
				employee_id bigint NOT NULL,
				report_date date NOT NULL,
				report_text text NOT NULL,
				CONSTRAINT fk_employees_reports FOREIGN KEY (employee_id) REFERENCES employees(id) ON DELETE CASCADE
			)
		`)
		db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_report ON reports(employee_id, report_date)`)
	}

	if err := db.AutoMigrate(&models.VectorMapping{}); err != nil {
		log.Printf("⚠️  Failed to migrate vector_mappings: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS vector_mappings (
				point_id varchar(64) PRIMARY KEY,
				report_id bigint NOT NULL,
				chunk_index integer NOT NULL,
				created_at timestamptz DEFAULT NOW(),
				CONSTRAINT fk_reports_vector_mappings FOREIGN KEY (report_id) REFERENCES reports(report_id) ON DELETE CASCADE
			)
		`)
	}

	if err := db.AutoMigrate(&models.IngestIntent{}); err != nil {
		log.Printf("⚠️  Failed to migrate ingest_intents: %v", err)
		db.Exec(`
			CREATE TABLE IF NOT EXISTS ingest_intents (
				id bigserial PRIMARY KEY,
				point_id varchar(64) UNIQUE NOT NULL,
				report_id bigint NOT NULL,
				chunk_index integer NOT NULL,
				status varchar(16) NOT NULL DEFAULT 'pending',
				created_at timestamptz DEFAULT NOW(),
				updated_at timestamptz
			)
		`)
	}

	return nil
}

func CloseDB() error {
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}
