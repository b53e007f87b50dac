package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"canvas-backend/internal/model"
)

// DB is the process-wide database handle.
var DB *gorm.DB

// Config database settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// LoadConfig reads DB settings from the environment.
func LoadConfig() *Config {
	return &Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "postgres"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
		TimeZone: getEnv("DB_TIMEZONE", "UTC"),
	}
}

// ConnectDB establishes the database connection.
func ConnectDB() (*gorm.DB, error) {
	cfg := LoadConfig()

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.TimeZone,
	)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	DB = db

	if err := db.AutoMigrate(&model.ShapeNode{}); err != nil {
		log.Printf("AutoMigrate warning: %v", err)
	}

	// shape_nodes is the hot table; make sure it exists with its indexes
	// even when AutoMigrate is skipped in a constrained environment.
	sql := `CREATE TABLE IF NOT EXISTS shape_nodes (
		id uuid PRIMARY KEY,
		page_id uuid NOT NULL,
		parent_id uuid,
		type varchar(20) NOT NULL,
		x double precision DEFAULT 0,
		y double precision DEFAULT 0,
		width double precision DEFAULT 0,
		height double precision DEFAULT 0,
		radius double precision DEFAULT 0,
		end_x double precision DEFAULT 0,
		end_y double precision DEFAULT 0,
		text text DEFAULT '',
		fill varchar(32) DEFAULT '',
		stroke varchar(32) DEFAULT '',
		stroke_width double precision DEFAULT 0,
		rotation double precision DEFAULT 0,
		opacity double precision DEFAULT 1,
		visible boolean DEFAULT true,
		order_key double precision NOT NULL DEFAULT 0,
		version bigint NOT NULL DEFAULT 1,
		created_by varchar(64) DEFAULT '',
		created_at timestamptz DEFAULT now(),
		updated_by varchar(64) DEFAULT '',
		updated_at timestamptz,
		updated_by_request varchar(64) DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_page_order ON shape_nodes (page_id, order_key);
	CREATE INDEX IF NOT EXISTS idx_shape_nodes_parent_id ON shape_nodes (parent_id);`

	if err := db.Exec(sql).Error; err != nil {
		log.Printf("manual table creation warning: %v", err)
	}

	return db, nil
}

// Ping verifies the connection.
func Ping() error {
	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close closes the connection.
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// getEnv fetches a variable with a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
