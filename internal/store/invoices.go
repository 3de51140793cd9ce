package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	domainrepos "gatewayd.backend/internal/domain/repositories"
)

func (s *GormStore) AddInvoice(ctx context.Context, invoice *entities.Invoice) error {
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now()
	}
	if invoice.Status == "" {
		invoice.Status = entities.InvoiceStatusPending
	}
	invoice.Address = normalizeAddress(invoice.Address)
	if err := s.db.WithContext(ctx).Create(invoice).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateID
		}
		return err
	}
	if invoice.Status == entities.InvoiceStatusPending {
		s.cache.addWatch(invoice.ChainName, invoice.Address)
	}
	return nil
}

func (s *GormStore) GetInvoice(ctx context.Context, id string) (*entities.Invoice, error) {
	var inv entities.Invoice
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetPendingInvoiceByAddress is the watcher's correlation lookup, O(1) via the
// address column index; address matching is case-insensitive at this
// boundary because the caller's input is normalized before the query.
func (s *GormStore) GetPendingInvoiceByAddress(ctx context.Context, chainName, address string) (*entities.Invoice, error) {
	address = normalizeAddress(address)
	var inv entities.Invoice
	err := s.db.WithContext(ctx).
		Where("chain_name = ? AND address = ? AND status = ?", chainName, address, entities.InvoiceStatusPending).
		First(&inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domainerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *GormStore) SetInvoiceStatus(ctx context.Context, id string, status entities.InvoiceStatus) error {
	res := s.db.WithContext(ctx).Model(&entities.Invoice{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// ExpireOldInvoices atomically flips every Pending row whose deadline has
// passed to Expired, returning the triples the janitor needs to drop watch
// addresses. The select-then-bulk-update runs inside one transaction so a
// concurrent AddPaymentAttempt can't observe a half-expired invoice.
func (s *GormStore) ExpireOldInvoices(ctx context.Context, now time.Time) ([]domainrepos.ExpiredInvoice, error) {
	var expired []domainrepos.ExpiredInvoice
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var rows []entities.Invoice
		if err := tx.Where("status = ? AND expires_at <= ?", entities.InvoiceStatusPending, now).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
			expired = append(expired, domainrepos.ExpiredInvoice{InvoiceID: r.ID, ChainName: r.ChainName, Address: r.Address})
		}
		return tx.Model(&entities.Invoice{}).Where("id IN ?", ids).Update("status", entities.InvoiceStatusExpired).Error
	})
	if err != nil {
		return nil, err
	}
	// Watch-set removal is the janitor's job (spec §4.6), grouped by chain,
	// via RemoveWatchAddressesBulk - not duplicated here.
	return expired, nil
}
