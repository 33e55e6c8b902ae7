package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/everclearorg/mark-sub001/internal/domain"
	"github.com/everclearorg/mark-sub001/internal/errs"
)

func earmarkToDomain(r EarmarkRecord) domain.Earmark {
	return domain.Earmark{
		ID:                      r.ID,
		InvoiceID:               r.InvoiceID,
		DesignatedPurchaseChain: r.DesignatedPurchaseChain,
		TickerHash:              r.TickerHash,
		MinAmount:               r.MinAmount,
		Status:                  domain.EarmarkStatus(r.Status),
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

// CreateEarmark inserts a new PENDING earmark for invoiceId. Fails with
// errs.ErrDuplicate when invoiceId already has one (unique constraint).
func (s *Store) CreateEarmark(ctx context.Context, id, invoiceID string, chain int64, tickerHash, minAmount string) (domain.Earmark, error) {
	rec := EarmarkRecord{
		ID:                      id,
		InvoiceID:               invoiceID,
		DesignatedPurchaseChain: chain,
		TickerHash:              tickerHash,
		MinAmount:               minAmount,
		Status:                  string(domain.EarmarkPending),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.Earmark{}, fmt.Errorf("earmark for invoice %s: %w", invoiceID, errs.ErrDuplicate)
		}
		return domain.Earmark{}, fmt.Errorf("create earmark: %w", err)
	}
	return earmarkToDomain(rec), nil
}

// GetEarmarkForInvoice returns the earmark for invoiceId, or
// (domain.Earmark{}, false, nil) when none exists.
func (s *Store) GetEarmarkForInvoice(ctx context.Context, invoiceID string) (domain.Earmark, bool, error) {
	var rec EarmarkRecord
	err := s.db.WithContext(ctx).Where("invoice_id = ?", invoiceID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Earmark{}, false, nil
	}
	if err != nil {
		return domain.Earmark{}, false, fmt.Errorf("get earmark for invoice %s: %w", invoiceID, err)
	}
	return earmarkToDomain(rec), true, nil
}

// GetActiveEarmarksForChain returns PENDING earmarks on chain, oldest first.
func (s *Store) GetActiveEarmarksForChain(ctx context.Context, chain int64) ([]domain.Earmark, error) {
	var recs []EarmarkRecord
	err := s.db.WithContext(ctx).
		Where("designated_purchase_chain = ? AND status = ?", chain, string(domain.EarmarkPending)).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("get active earmarks for chain %d: %w", chain, err)
	}
	out := make([]domain.Earmark, len(recs))
	for i, r := range recs {
		out[i] = earmarkToDomain(r)
	}
	return out, nil
}

// ListOutstandingInvoiceIDs returns the invoiceId of every earmark not yet
// in a terminal status, the "outstanding purchases" §4.5 step 2 re-checks
// against the hub each tick.
func (s *Store) ListOutstandingInvoiceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&EarmarkRecord{}).
		Where("status IN ?", []string{string(domain.EarmarkPending), string(domain.EarmarkReady)}).
		Order("created_at ASC").
		Pluck("invoice_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list outstanding invoice ids: %w", err)
	}
	return ids, nil
}

// UpdateEarmarkStatus transitions an earmark's status, touching updatedAt.
// Fails with errs.ErrNotFound when id is unknown.
func (s *Store) UpdateEarmarkStatus(ctx context.Context, id string, status domain.EarmarkStatus) (domain.Earmark, error) {
	result := s.db.WithContext(ctx).Model(&EarmarkRecord{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return domain.Earmark{}, fmt.Errorf("update earmark %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.Earmark{}, fmt.Errorf("earmark %s: %w", id, errs.ErrNotFound)
	}

	var rec EarmarkRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return domain.Earmark{}, fmt.Errorf("reload earmark %s: %w", id, err)
	}
	return earmarkToDomain(rec), nil
}

// RemoveEarmark transactionally deletes an earmark's RebalanceOperations
// (and their Transactions/SwapOperations via cascade), then the earmark
// itself.
func (s *Store) RemoveEarmark(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("earmark_id = ?", id).Delete(&RebalanceOperationRecord{}).Error; err != nil {
			return fmt.Errorf("delete rebalance operations for earmark %s: %w", id, err)
		}
		result := tx.Delete(&EarmarkRecord{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("delete earmark %s: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("earmark %s: %w", id, errs.ErrNotFound)
		}
		return nil
	})
}
