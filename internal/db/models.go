// Package db is the relational persistence layer: earmarks, rebalance
// operations, swap sub-operations and transactions, built on GORM the way
// the teacher's internal/db/transaction_recorder.go was (model structs with
// TableName(), gorm.Open + AutoMigrate), swapped from MySQL to Postgres so
// JSONB metadata columns (gorm.io/datatypes) are native rather than
// serialized text.
package db

import (
	"time"

	"gorm.io/datatypes"
)

// EarmarkRecord is the storage row for domain.Earmark.
type EarmarkRecord struct {
	ID                      string    `gorm:"type:varchar(64);primaryKey"`
	InvoiceID               string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	DesignatedPurchaseChain int64     `gorm:"not null"`
	TickerHash              string    `gorm:"type:varchar(128);not null;index"`
	MinAmount               string    `gorm:"type:varchar(78);not null"`
	Status                  string    `gorm:"type:varchar(16);not null;index"`
	CreatedAt               time.Time `gorm:"autoCreateTime"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime"`

	RebalanceOperations []RebalanceOperationRecord `gorm:"foreignKey:EarmarkID;constraint:OnDelete:CASCADE"`
}

func (EarmarkRecord) TableName() string { return "earmarks" }

// RebalanceOperationRecord is the storage row for domain.RebalanceOperation.
type RebalanceOperationRecord struct {
	ID                 string         `gorm:"type:varchar(64);primaryKey"`
	EarmarkID          *string        `gorm:"type:varchar(64);index"`
	OriginChainID      int64          `gorm:"not null;index"`
	DestinationChainID int64          `gorm:"not null"`
	TickerHash         string         `gorm:"type:varchar(128);not null;index"`
	Amount             string         `gorm:"type:varchar(78);not null"`
	SlippageDbps       int64          `gorm:"not null"`
	Bridge             string         `gorm:"type:varchar(32);not null"`
	OperationType      string         `gorm:"type:varchar(32);not null;default:bridge"`
	Status             string         `gorm:"type:varchar(24);not null;index"`
	Recipient          string         `gorm:"type:varchar(64);not null"`
	CreatedAt          time.Time      `gorm:"autoCreateTime;index"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime"`

	Transactions   []TransactionRecord   `gorm:"foreignKey:RebalanceOperationID;constraint:OnDelete:CASCADE"`
	SwapOperations []SwapOperationRecord `gorm:"foreignKey:RebalanceOperationID;constraint:OnDelete:CASCADE"`
}

func (RebalanceOperationRecord) TableName() string { return "rebalance_operations" }

// SwapOperationRecord is the storage row for domain.SwapOperation.
type SwapOperationRecord struct {
	ID                   string         `gorm:"type:varchar(64);primaryKey"`
	RebalanceOperationID string         `gorm:"type:varchar(64);not null;index"`
	Platform             string         `gorm:"type:varchar(32);not null"`
	FromAsset            string         `gorm:"type:varchar(128);not null"`
	ToAsset              string         `gorm:"type:varchar(128);not null"`
	FromAmount           string         `gorm:"type:varchar(78);not null"`
	ToAmount             string         `gorm:"type:varchar(78);not null"`
	ExpectedRate         string         `gorm:"type:varchar(78);not null"`
	QuoteID              *string        `gorm:"type:varchar(128)"`
	OrderID              *string        `gorm:"type:varchar(128);uniqueIndex"`
	ActualRate           *string        `gorm:"type:varchar(78)"`
	Status               string         `gorm:"type:varchar(24);not null;index"`
	Metadata             datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt            time.Time      `gorm:"autoCreateTime"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime"`
}

func (SwapOperationRecord) TableName() string { return "swap_operations" }

// TransactionRecord is the storage row for domain.Transaction.
type TransactionRecord struct {
	ID                   string         `gorm:"type:varchar(64);primaryKey"`
	RebalanceOperationID *string        `gorm:"type:varchar(64);index"`
	TransactionHash      string         `gorm:"type:varchar(80);not null;index"`
	ChainID              string         `gorm:"type:varchar(32);not null"`
	From                 string         `gorm:"type:varchar(64);not null"`
	To                   string         `gorm:"type:varchar(64);not null"`
	CumulativeGasUsed    string         `gorm:"type:varchar(78)"`
	EffectiveGasPrice    string         `gorm:"type:varchar(78)"`
	Reason               string         `gorm:"type:varchar(24);not null"`
	Metadata             datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt            time.Time      `gorm:"autoCreateTime"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime"`
}

func (TransactionRecord) TableName() string { return "transactions" }

// AllModels lists every model AutoMigrate must register, in FK-safe order.
func AllModels() []interface{} {
	return []interface{}{
		&EarmarkRecord{},
		&RebalanceOperationRecord{},
		&SwapOperationRecord{},
		&TransactionRecord{},
	}
}
