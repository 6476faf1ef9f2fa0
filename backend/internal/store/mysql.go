package store

import (
	"database/sql"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// RawDB exposes the underlying *sql.DB for the collaborator stores that
// query with plain SQL.
func RawDB(db *gorm.DB) (*sql.DB, error) {
	return db.DB()
}
