// Package store persists an audit trail of every executed transaction:
// hash, relayer, gas token and fee charged, submission time and the
// status at submission (rows are not updated afterwards). Adapted from the reference service's asset-snapshot recorder,
// repointed at transaction records instead of portfolio snapshots.
package store

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ExecutedTransaction is what the execution pipeline hands the store
// right after a relayer submits a transaction.
type ExecutedTransaction struct {
	TransactionHash common.Hash
	RelayerAddress  common.Address
	GasToken        common.Address
	FeeInToken      *big.Int
	SubmittedAt     time.Time
	Status          string
}

// Recorder is the narrow interface the execution pipeline depends on,
// letting main wire either the GORM-backed implementation or NoOp.
type Recorder interface {
	Record(ctx context.Context, tx ExecutedTransaction) error
}

// transactionRecord is the database model for ExecutedTransaction.
type transactionRecord struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	TransactionHash string    `gorm:"type:varchar(66);uniqueIndex;not null"`
	RelayerAddress  string    `gorm:"type:varchar(42);index;not null"`
	GasToken        string    `gorm:"type:varchar(42);not null"`
	FeeInToken      string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	Status          string    `gorm:"type:varchar(32);index;not null"`
	SubmittedAt     time.Time `gorm:"index;not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (transactionRecord) TableName() string {
	return "executed_transactions"
}

// MySQLRecorder implements Recorder on top of GORM/MySQL.
type MySQLRecorder struct {
	db *gorm.DB
}

// NewMySQLRecorder dials MySQL and migrates the executed_transactions
// table. dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: connect to MySQL: %w", err)
	}

	if err := db.AutoMigrate(&transactionRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	return &MySQLRecorder{db: db}, nil
}

// Record writes one audit row. Write failures are the caller's problem
// to decide whether they're fatal; Record itself never panics and never
// retries.
func (r *MySQLRecorder) Record(ctx context.Context, tx ExecutedTransaction) error {
	record := transactionRecord{
		TransactionHash: tx.TransactionHash.Hex(),
		RelayerAddress:  tx.RelayerAddress.Hex(),
		GasToken:        tx.GasToken.Hex(),
		FeeInToken:      bigIntToString(tx.FeeInToken),
		Status:          tx.Status,
		SubmittedAt:     tx.SubmittedAt,
	}

	result := r.db.WithContext(ctx).Create(&record)
	if result.Error != nil {
		return fmt.Errorf("store: record transaction: %w", result.Error)
	}
	return nil
}

// RecentByRelayer returns the most recently submitted rows for one
// relayer address, newest first, used by operational tooling to spot a
// relayer stuck retrying the same nonce.
func (r *MySQLRecorder) RecentByRelayer(ctx context.Context, relayer common.Address, limit int) ([]ExecutedTransaction, error) {
	var rows []transactionRecord
	result := r.db.WithContext(ctx).
		Where("relayer_address = ?", relayer.Hex()).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("store: query recent transactions: %w", result.Error)
	}

	out := make([]ExecutedTransaction, 0, len(rows))
	for _, row := range rows {
		fee, _ := new(big.Int).SetString(row.FeeInToken, 10)
		out = append(out, ExecutedTransaction{
			TransactionHash: common.HexToHash(row.TransactionHash),
			RelayerAddress:  common.HexToAddress(row.RelayerAddress),
			GasToken:        common.HexToAddress(row.GasToken),
			FeeInToken:      fee,
			SubmittedAt:     row.SubmittedAt,
			Status:          row.Status,
		})
	}
	return out, nil
}

func (r *MySQLRecorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("store: get underlying connection: %w", err)
	}
	return sqlDB.Close()
}

func bigIntToString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

// NoOpRecorder discards every record, used when no audit database is
// configured.
type NoOpRecorder struct{}

func (NoOpRecorder) Record(context.Context, ExecutedTransaction) error { return nil }
