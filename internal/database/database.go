package database

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"paycore/config"
	"paycore/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger(log.New(os.Stdout, "\r\n", log.LstdFlags)),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// gormLogger logs failed and slow queries only. Lookups that find nothing are
// normal control flow here and are not logged.
func gormLogger(w logger.Writer) logger.Interface {
	return logger.New(w, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Error,
		IgnoreRecordNotFoundError: true,
	})
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Payment{},
		&models.Wallet{},
		&models.LedgerEntry{},
		&models.ReferralCode{},
		&models.Referral{},
		&models.ReferralLevel{},
		&models.ReferralEarning{},
		&models.CommissionJob{},
		&models.IdempotencyKey{},
		&models.Notification{},
		&models.PushToken{},
		&models.AuditLog{},
	)
}

// ParseLevels parses "name:min:rate" triples separated by commas.
func ParseLevels(table string) ([]models.ReferralLevel, error) {
	var levels []models.ReferralLevel
	for _, part := range strings.Split(table, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("referral level %q: want name:min:rate", part)
		}
		min, err := strconv.Atoi(fields[1])
		if err != nil || min < 0 {
			return nil, fmt.Errorf("referral level %q: bad minimum", part)
		}
		rate, err := decimal.NewFromString(fields[2])
		if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("referral level %q: bad rate", part)
		}
		levels = append(levels, models.ReferralLevel{Name: fields[0], MinReferrals: min, Rate: rate})
	}
	if len(levels) == 0 {
		return nil, errors.New("no referral levels configured")
	}
	return levels, nil
}

// SeedReferralLevels inserts the configured tiers if the table is empty.
func SeedReferralLevels(db *gorm.DB, table string) (int, error) {
	var count int64
	if err := db.Model(&models.ReferralLevel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	levels, err := ParseLevels(table)
	if err != nil {
		return 0, err
	}
	if err := db.Create(&levels).Error; err != nil {
		return 0, err
	}
	return len(levels), nil
}
