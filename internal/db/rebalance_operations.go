package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/errs"
)

// TxReceiptInput is one chain's confirmed receipt data supplied when
// creating a RebalanceOperation; one Transaction row is inserted per entry.
type TxReceiptInput struct {
	ChainID         string
	TransactionHash string
	From            string
	To              string
	BlockNumber     uint64
	Status          uint64
	Confirmations   int
}

// CreateRebalanceOperationInput is the transactional insert contract of
// spec §4.1 createRebalanceOperation.
type CreateRebalanceOperationInput struct {
	ID                 string
	EarmarkID          *string
	OriginChainID      int64
	DestinationChainID int64
	TickerHash         string
	Amount             string
	SlippageDbps       int64
	Bridge             string
	OperationType      domain.OperationType
	Recipient          string
	Transactions       []TxReceiptInput
}

// CreateRebalanceOperation inserts the operation row and one Transaction per
// confirmed receipt in input.Transactions, reason=Rebalance, in a single
// transaction. Returns the operation merged with its transactions.
func (s *Store) CreateRebalanceOperation(ctx context.Context, in CreateRebalanceOperationInput) (domain.RebalanceOperation, error) {
	opType := in.OperationType
	if opType == "" {
		opType = domain.OperationBridge
	}

	rec := RebalanceOperationRecord{
		ID:                 in.ID,
		EarmarkID:          in.EarmarkID,
		OriginChainID:      in.OriginChainID,
		DestinationChainID: in.DestinationChainID,
		TickerHash:         in.TickerHash,
		Amount:             in.Amount,
		SlippageDbps:       in.SlippageDbps,
		Bridge:             in.Bridge,
		OperationType:      string(opType),
		Status:             string(domain.RebalancePending),
		Recipient:          in.Recipient,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("insert rebalance operation: %w", err)
		}
		for _, t := range in.Transactions {
			meta, err := json.Marshal(map[string]any{
				"blockNumber":   t.BlockNumber,
				"status":        t.Status,
				"confirmations": t.Confirmations,
			})
			if err != nil {
				return fmt.Errorf("marshal transaction metadata: %w", err)
			}
			txRec := TransactionRecord{
				ID:                   fmt.Sprintf("%s-%s", rec.ID, t.ChainID),
				RebalanceOperationID: &rec.ID,
				TransactionHash:      t.TransactionHash,
				ChainID:              t.ChainID,
				From:                 t.From,
				To:                   t.To,
				Reason:               string(domain.ReasonRebalance),
				Metadata:             datatypes.JSON(meta),
			}
			if err := tx.Create(&txRec).Error; err != nil {
				return fmt.Errorf("insert transaction for chain %s: %w", t.ChainID, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.RebalanceOperation{}, err
	}

	return s.GetRebalanceOperation(ctx, rec.ID)
}

// GetRebalanceOperation loads one operation hydrated with its Transactions.
func (s *Store) GetRebalanceOperation(ctx context.Context, id string) (domain.RebalanceOperation, error) {
	var rec RebalanceOperationRecord
	if err := s.db.WithContext(ctx).Preload("Transactions").First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RebalanceOperation{}, fmt.Errorf("rebalance operation %s: %w", id, errs.ErrNotFound)
		}
		return domain.RebalanceOperation{}, fmt.Errorf("get rebalance operation %s: %w", id, err)
	}
	return rebalanceOperationToDomain(rec), nil
}

// UpdateRebalanceOperationInput updates only the fields that are non-nil.
type UpdateRebalanceOperationInput struct {
	Status   *domain.RebalanceStatus
	TxHashes map[string]TxReceiptInput // merged by chainId
}

// UpdateRebalanceOperation applies a partial update and merges any new
// per-chain transactions into the operation's set (at most one row per
// chainId, per the idempotency invariant).
func (s *Store) UpdateRebalanceOperation(ctx context.Context, id string, in UpdateRebalanceOperationInput) (domain.RebalanceOperation, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec RebalanceOperationRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("rebalance operation %s: %w", id, errs.ErrNotFound)
			}
			return fmt.Errorf("load rebalance operation %s: %w", id, err)
		}

		if in.Status != nil {
			if err := tx.Model(&rec).Update("status", string(*in.Status)).Error; err != nil {
				return fmt.Errorf("update status for %s: %w", id, err)
			}
		}

		for chainID, t := range in.TxHashes {
			var existing TransactionRecord
			err := tx.Where("rebalance_operation_id = ? AND chain_id = ?", id, chainID).First(&existing).Error
			if err == nil {
				if err := tx.Model(&existing).Updates(map[string]any{
					"transaction_hash": t.TransactionHash,
					"from":             t.From,
					"to":               t.To,
				}).Error; err != nil {
					return fmt.Errorf("merge transaction for chain %s: %w", chainID, err)
				}
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lookup transaction for chain %s: %w", chainID, err)
			}
			txRec := TransactionRecord{
				ID:                   fmt.Sprintf("%s-%s", id, chainID),
				RebalanceOperationID: &id,
				TransactionHash:      t.TransactionHash,
				ChainID:              chainID,
				From:                 t.From,
				To:                   t.To,
				Reason:               string(domain.ReasonRebalance),
			}
			if err := tx.Create(&txRec).Error; err != nil {
				return fmt.Errorf("insert transaction for chain %s: %w", chainID, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.RebalanceOperation{}, err
	}
	return s.GetRebalanceOperation(ctx, id)
}

// GetRebalanceOperationsByEarmark returns an earmark's operations, oldest
// first.
func (s *Store) GetRebalanceOperationsByEarmark(ctx context.Context, earmarkID string) ([]domain.RebalanceOperation, error) {
	var recs []RebalanceOperationRecord
	err := s.db.WithContext(ctx).Preload("Transactions").
		Where("earmark_id = ?", earmarkID).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("get rebalance operations for earmark %s: %w", earmarkID, err)
	}
	return rebalanceOperationsToDomain(recs), nil
}

// RebalanceOperationFilter matches spec §4.1 getRebalanceOperations filter.
type RebalanceOperationFilter struct {
	Statuses        []domain.RebalanceStatus
	ChainID         *int64
	EarmarkID       *string // nil = no filter; ignored when EarmarkIDIsNull is set
	// EarmarkIDIsNull matches only operations with no earmark (threshold-driven).
	EarmarkIDIsNull bool
}

// GetRebalanceOperations applies filter and orders by createdAt ASC.
func (s *Store) GetRebalanceOperations(ctx context.Context, filter RebalanceOperationFilter) ([]domain.RebalanceOperation, error) {
	q := s.db.WithContext(ctx).Preload("Transactions").Model(&RebalanceOperationRecord{})

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.ChainID != nil {
		q = q.Where("origin_chain_id = ?", *filter.ChainID)
	}
	if filter.EarmarkIDIsNull {
		q = q.Where("earmark_id IS NULL")
	} else if filter.EarmarkID != nil {
		q = q.Where("earmark_id = ?", *filter.EarmarkID)
	}

	var recs []RebalanceOperationRecord
	if err := q.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("get rebalance operations: %w", err)
	}
	return rebalanceOperationsToDomain(recs), nil
}

// GetRebalanceOperationByTransactionHash matches hash case-insensitively on
// chainId, returning the parent operation with every Transaction of every
// chainId it touched.
func (s *Store) GetRebalanceOperationByTransactionHash(ctx context.Context, hash, chainID string) (domain.RebalanceOperation, error) {
	var txRec TransactionRecord
	err := s.db.WithContext(ctx).
		Where("LOWER(transaction_hash) = LOWER(?) AND chain_id = ?", hash, chainID).
		First(&txRec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RebalanceOperation{}, fmt.Errorf("transaction %s on chain %s: %w", hash, chainID, errs.ErrNotFound)
		}
		return domain.RebalanceOperation{}, fmt.Errorf("lookup transaction %s: %w", hash, err)
	}
	if txRec.RebalanceOperationID == nil {
		return domain.RebalanceOperation{}, fmt.Errorf("transaction %s has no parent operation: %w", hash, errs.ErrNotFound)
	}
	return s.GetRebalanceOperation(ctx, *txRec.RebalanceOperationID)
}

func rebalanceOperationsToDomain(recs []RebalanceOperationRecord) []domain.RebalanceOperation {
	out := make([]domain.RebalanceOperation, len(recs))
	for i, r := range recs {
		out[i] = rebalanceOperationToDomain(r)
	}
	return out
}

func rebalanceOperationToDomain(r RebalanceOperationRecord) domain.RebalanceOperation {
	txs := map[string]domain.Transaction{}
	for _, t := range r.Transactions {
		txs[strings.ToLower(t.ChainID)] = transactionToDomain(t)
	}
	return domain.RebalanceOperation{
		ID:                 r.ID,
		EarmarkID:          r.EarmarkID,
		OriginChainID:      r.OriginChainID,
		DestinationChainID: r.DestinationChainID,
		TickerHash:         r.TickerHash,
		Amount:             r.Amount,
		SlippageDbps:       r.SlippageDbps,
		Bridge:             r.Bridge,
		OperationType:      domain.OperationType(r.OperationType),
		Status:             domain.RebalanceStatus(r.Status),
		Recipient:          r.Recipient,
		Transactions:       txs,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func transactionToDomain(t TransactionRecord) domain.Transaction {
	var meta map[string]any
	if len(t.Metadata) > 0 {
		_ = json.Unmarshal(t.Metadata, &meta)
	}
	return domain.Transaction{
		ID:                   t.ID,
		RebalanceOperationID: t.RebalanceOperationID,
		TransactionHash:      t.TransactionHash,
		ChainID:              t.ChainID,
		From:                 t.From,
		To:                   t.To,
		CumulativeGasUsed:    t.CumulativeGasUsed,
		EffectiveGasPrice:    t.EffectiveGasPrice,
		Reason:               domain.TransactionReason(t.Reason),
		Metadata:             meta,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}
