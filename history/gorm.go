package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hoopvision/overfit/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrDBNotInitialized = errors.New("gorm db is not initialized")

// EpochHistory is the MySQL row of one Record.
type EpochHistory struct {
	ID             uint      `gorm:"primaryKey;column:id" json:"id"`
	Experiment     string    `gorm:"column:experiment;size:128;index" json:"experiment"`
	Epoch          int       `gorm:"column:epoch" json:"epoch"`
	ModelFile      string    `gorm:"column:model_file;size:512" json:"model_file"`
	TrainLoss      float64   `gorm:"column:train_loss" json:"train_loss"`
	ValLoss        float64   `gorm:"column:val_loss" json:"val_loss"`
	TrainAcc       float64   `gorm:"column:train_acc" json:"train_acc"`
	ValAcc         float64   `gorm:"column:val_acc" json:"val_acc"`
	TrainF1        float64   `gorm:"column:train_f1" json:"train_f1"`
	ValF1          float64   `gorm:"column:val_f1" json:"val_f1"`
	TrainPrecision float64   `gorm:"column:train_precision" json:"train_precision"`
	ValPrecision   float64   `gorm:"column:val_precision" json:"val_precision"`
	TrainRecall    float64   `gorm:"column:train_recall" json:"train_recall"`
	ValRecall      float64   `gorm:"column:val_recall" json:"val_recall"`
	TrainConfusion string    `gorm:"column:train_cm;type:text" json:"train_cm"`
	ValConfusion   string    `gorm:"column:val_cm;type:text" json:"val_cm"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (EpochHistory) TableName() string {
	return "overfit_epoch_history"
}

func newEpochHistory(experiment string, rec Record) *EpochHistory {
	return &EpochHistory{
		Experiment:     experiment,
		Epoch:          rec.Epoch,
		ModelFile:      rec.ModelFile,
		TrainLoss:      rec.TrainLoss,
		ValLoss:        rec.ValLoss,
		TrainAcc:       rec.TrainAcc,
		ValAcc:         rec.ValAcc,
		TrainF1:        rec.TrainF1,
		ValF1:          rec.ValF1,
		TrainPrecision: rec.TrainPrecision,
		ValPrecision:   rec.ValPrecision,
		TrainRecall:    rec.TrainRecall,
		ValRecall:      rec.ValRecall,
		TrainConfusion: rec.TrainConfusion,
		ValConfusion:   rec.ValConfusion,
	}
}

// Record converts the row back to a history record.
func (e *EpochHistory) Record() Record {
	return Record{
		Epoch:          e.Epoch,
		ModelFile:      e.ModelFile,
		TrainLoss:      e.TrainLoss,
		ValLoss:        e.ValLoss,
		TrainAcc:       e.TrainAcc,
		ValAcc:         e.ValAcc,
		TrainF1:        e.TrainF1,
		ValF1:          e.ValF1,
		TrainPrecision: e.TrainPrecision,
		ValPrecision:   e.ValPrecision,
		TrainRecall:    e.TrainRecall,
		ValRecall:      e.ValRecall,
		TrainConfusion: e.TrainConfusion,
		ValConfusion:   e.ValConfusion,
	}
}

// MySQLDSN builds the go-sql-driver DSN for cfg.
func MySQLDSN(cfg config.MySQLConfig) string {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	loc := url.QueryEscape("Local")
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=%s&timeout=5s&readTimeout=10s&writeTimeout=10s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		port,
		cfg.DBName,
		loc,
	)
}

// OpenMySQL connects, pings and creates the history table when missing.
func OpenMySQL(cfg config.MySQLConfig) (*gorm.DB, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("mysql host is empty")
	}

	db, err := gorm.Open(mysql.Open(MySQLDSN(cfg)), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf(
			"connect mysql failed (host=%s port=%d db=%s user=%s): %w",
			cfg.Host, cfg.Port, cfg.DBName, cfg.User, err,
		)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB failed: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("mysql ping failed: %w", err)
	}

	if err := ensureTables(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func ensureTables(db *gorm.DB) error {
	models := []interface{}{
		&EpochHistory{},
	}

	for _, m := range models {
		if db.Migrator().HasTable(m) {
			continue
		}
		if err := db.AutoMigrate(m); err != nil {
			return fmt.Errorf("auto migrate missing table failed: %w", err)
		}
	}
	return nil
}

// GormSink inserts one EpochHistory row per record.
type GormSink struct {
	DB         *gorm.DB
	Experiment string
	Logger     *slog.Logger
}

func NewGormSink(db *gorm.DB, experiment string, logger *slog.Logger) *GormSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormSink{DB: db, Experiment: experiment, Logger: logger}
}

func (s *GormSink) Append(ctx context.Context, rec Record) error {
	logger := s.Logger.With("sink", "GormSink", "method", "Append")

	dbConn, err := withContext(s.DB, ctx)
	if err != nil {
		logger.Error("append history failed: with context", "error", err)
		return fmt.Errorf("append history failed: %w", err)
	}

	row := newEpochHistory(s.Experiment, rec)
	if err := dbConn.Create(row).Error; err != nil {
		logger.Error("append history failed: db create", "epoch", rec.Epoch, "error", err)
		return fmt.Errorf("append history failed: %w", err)
	}
	logger.Debug("append history success", "epoch", rec.Epoch, "id", row.ID)
	return nil
}

// List returns the experiment's rows in epoch order.
func (s *GormSink) List(ctx context.Context) ([]EpochHistory, error) {
	dbConn, err := withContext(s.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("list history failed: %w", err)
	}

	var rows []EpochHistory
	err = dbConn.Where("experiment = ?", s.Experiment).Order("epoch asc, id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history failed: %w", err)
	}
	return rows, nil
}

func withContext(dbConn *gorm.DB, ctx context.Context) (*gorm.DB, error) {
	if dbConn == nil {
		return nil, ErrDBNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return dbConn.WithContext(ctx), nil
}
