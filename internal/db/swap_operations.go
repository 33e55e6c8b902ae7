package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/errs"
)

// CreateSwapOperationInput is the insert contract for a swap_and_bridge leg.
type CreateSwapOperationInput struct {
	ID                   string
	RebalanceOperationID string
	Platform             string
	FromAsset            string
	ToAsset              string
	FromAmount           string
	ToAmount             string
	ExpectedRate         string
	QuoteID              *string
}

// CreateSwapOperation inserts a new pending_deposit swap leg.
func (s *Store) CreateSwapOperation(ctx context.Context, in CreateSwapOperationInput) (domain.SwapOperation, error) {
	rec := SwapOperationRecord{
		ID:                   in.ID,
		RebalanceOperationID: in.RebalanceOperationID,
		Platform:             in.Platform,
		FromAsset:            in.FromAsset,
		ToAsset:              in.ToAsset,
		FromAmount:           in.FromAmount,
		ToAmount:             in.ToAmount,
		ExpectedRate:         in.ExpectedRate,
		QuoteID:              in.QuoteID,
		Status:               string(domain.SwapPendingDeposit),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return domain.SwapOperation{}, fmt.Errorf("create swap operation: %w", err)
	}
	return swapOperationToDomain(rec), nil
}

// SwapOperationFilter matches spec §4.1 getSwapOperations filter.
type SwapOperationFilter struct {
	Status               *domain.SwapStatus
	RebalanceOperationID *string
}

// GetSwapOperations applies filter.
func (s *Store) GetSwapOperations(ctx context.Context, filter SwapOperationFilter) ([]domain.SwapOperation, error) {
	q := s.db.WithContext(ctx).Model(&SwapOperationRecord{})
	if filter.Status != nil {
		q = q.Where("status = ?", string(*filter.Status))
	}
	if filter.RebalanceOperationID != nil {
		q = q.Where("rebalance_operation_id = ?", *filter.RebalanceOperationID)
	}

	var recs []SwapOperationRecord
	if err := q.Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("get swap operations: %w", err)
	}
	out := make([]domain.SwapOperation, len(recs))
	for i, r := range recs {
		out[i] = swapOperationToDomain(r)
	}
	return out, nil
}

// GetSwapOperationByOrderID looks a swap up by its unique exchange order id.
func (s *Store) GetSwapOperationByOrderID(ctx context.Context, orderID string) (domain.SwapOperation, error) {
	var rec SwapOperationRecord
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.SwapOperation{}, fmt.Errorf("swap operation with order %s: %w", orderID, errs.ErrNotFound)
		}
		return domain.SwapOperation{}, fmt.Errorf("get swap operation by order %s: %w", orderID, err)
	}
	return swapOperationToDomain(rec), nil
}

// UpdateSwapOperationStatus transitions status and, when present in
// metadata, extracts orderId/actualRate into their own columns.
func (s *Store) UpdateSwapOperationStatus(ctx context.Context, id string, status domain.SwapStatus, metadata map[string]any) (domain.SwapOperation, error) {
	updates := map[string]any{"status": string(status)}

	if orderID, ok := metadata["orderId"].(string); ok && orderID != "" {
		updates["order_id"] = orderID
	}
	if actualRate, ok := metadata["actualRate"].(string); ok && actualRate != "" {
		updates["actual_rate"] = actualRate
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return domain.SwapOperation{}, fmt.Errorf("marshal swap metadata: %w", err)
		}
		updates["metadata"] = datatypes.JSON(raw)
	}

	result := s.db.WithContext(ctx).Model(&SwapOperationRecord{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return domain.SwapOperation{}, fmt.Errorf("update swap operation %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.SwapOperation{}, fmt.Errorf("swap operation %s: %w", id, errs.ErrNotFound)
	}

	var rec SwapOperationRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return domain.SwapOperation{}, fmt.Errorf("reload swap operation %s: %w", id, err)
	}
	return swapOperationToDomain(rec), nil
}

func swapOperationToDomain(r SwapOperationRecord) domain.SwapOperation {
	var meta map[string]any
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &meta)
	}
	return domain.SwapOperation{
		ID:                   r.ID,
		RebalanceOperationID: r.RebalanceOperationID,
		Platform:             r.Platform,
		FromAsset:            r.FromAsset,
		ToAsset:              r.ToAsset,
		FromAmount:           r.FromAmount,
		ToAmount:             r.ToAmount,
		ExpectedRate:         r.ExpectedRate,
		QuoteID:              r.QuoteID,
		OrderID:              r.OrderID,
		ActualRate:           r.ActualRate,
		Status:               domain.SwapStatus(r.Status),
		Metadata:             meta,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}
