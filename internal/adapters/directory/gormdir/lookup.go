package gormdir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"medical-records-access/internal/ports/auth"
	"medical-records-access/internal/ports/directory"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// User es la fila de la tabla users (schema.sql). Solo lectura.
type User struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Email     string
	Role      string
	Specialty string
}

func (User) TableName() string { return "users" }

type Lookup struct {
	db *gorm.DB
}

// Open reutiliza el pool *sql.DB (pgx) del ledger.
func Open(sqlDB *sql.DB) (*Lookup, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	return New(db), nil
}

func New(db *gorm.DB) *Lookup {
	return &Lookup{db: db}
}

func (l *Lookup) ResolveUser(ctx context.Context, id string) (directory.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return directory.Profile{}, directory.ErrNotFound
	}

	var u User
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return directory.Profile{}, directory.ErrNotFound
		}
		return directory.Profile{}, err
	}
	return toProfile(u), nil
}

func toProfile(u User) directory.Profile {
	role, _ := auth.ParseRole(u.Role)
	return directory.Profile{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      role,
		Specialty: u.Specialty,
	}
}
