package database

import (
	"log"
	"os"

	"prompt-registry-api/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDB initializes the database connection and runs migrations
func InitDB() {
	var err error

	dbPath := os.Getenv("REGISTRY_DB_PATH")
	if dbPath == "" {
		dbPath = "prompt-registry.db"
	}

	// Open SQLite database file (created on first run)
	// Using glebarez/sqlite which is a pure Go implementation (no CGO required)
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})

	if err != nil {
		log.Fatal("Failed to connect to database: ", err)
	}

	// Auto-migrate the schema (it will create tables if they don't exist)
	err = DB.AutoMigrate(
		&models.User{},
		&models.Application{},
		&models.Prompt{},
		&models.APIKey{},
		&models.AccessLog{},
	)

	if err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	log.Println("Database connected and migrated")
}

// GetDB returns the database connection
func GetDB() *gorm.DB {
	return DB
}
