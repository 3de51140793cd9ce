package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gatewayd.backend/internal/domain/entities"
	domainerrors "gatewayd.backend/internal/domain/errors"
	"gatewayd.backend/pkg/utils"
)

// AddPaymentAttempt upserts on (invoice_id, tx_hash, log_index): a fresh
// PaymentEvent inserts a new Confirming payment; re-observing the same log
// (e.g. after a reorg moved it to a new block) only refreshes block_number.
// inserted is true solely on the insert path - the watcher only enqueues
// TxDetected then, never on the conflict-update path.
func (s *GormStore) AddPaymentAttempt(ctx context.Context, invoiceID string, ev entities.PaymentEvent) (entities.Payment, bool, error) {
	var out entities.Payment
	inserted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing entities.Payment
		err := tx.Where("invoice_id = ? AND tx_hash = ? AND log_index = ?", invoiceID, ev.TxHash, ev.LogIndex).
			First(&existing).Error
		if err == nil {
			if existing.BlockNumber != ev.BlockNumber {
				existing.BlockNumber = ev.BlockNumber
				if err := tx.Model(&existing).Update("block_number", ev.BlockNumber).Error; err != nil {
					return err
				}
			}
			out = existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		p := entities.Payment{
			ID:          utils.GenerateUUIDv7().String(),
			InvoiceID:   invoiceID,
			ChainName:   ev.ChainName,
			From:        normalizeAddress(ev.From),
			To:          normalizeAddress(ev.To),
			TxHash:      ev.TxHash,
			LogIndex:    ev.LogIndex,
			BlockNumber: ev.BlockNumber,
			AmountRaw:   ev.AmountRaw,
			Confirmed:   false,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		out = p
		inserted = true
		return nil
	})
	if err != nil {
		return entities.Payment{}, false, err
	}
	return out, inserted, nil
}

func (s *GormStore) GetConfirmingPayments(ctx context.Context, chainName string) ([]entities.Payment, error) {
	var rows []entities.Payment
	q := s.db.WithContext(ctx).Where("confirmed = ?", false)
	if chainName != "" {
		q = q.Where("chain_name = ?", chainName)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) UpdatePaymentBlock(ctx context.Context, paymentID string, blockNumber uint64) error {
	res := s.db.WithContext(ctx).Model(&entities.Payment{}).Where("id = ?", paymentID).Update("block_number", blockNumber)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

// FinalizePayment is the single atomic critical section per invoice spec.md
// §4.1 requires: flip the payment Confirming->Confirmed, add its amount to
// the invoice's paid total, and flip the invoice Pending->Paid once the total
// reaches the invoice amount. The invoice row is locked FOR UPDATE so two
// payments finalizing concurrently on the same invoice serialize instead of
// racing on paid_raw (teacher's unit_of_work_impl.go locking-clause pattern).
func (s *GormStore) FinalizePayment(ctx context.Context, paymentID string) (entities.Invoice, bool, error) {
	var invoice entities.Invoice
	fullyPaid := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var payment entities.Payment
		if err := tx.Where("id = ?", paymentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrNotFound
			}
			return err
		}
		if payment.Confirmed {
			// Already finalized by a previous tick; nothing to do.
			return tx.Where("id = ?", payment.InvoiceID).First(&invoice).Error
		}
		if err := tx.Model(&payment).Update("confirmed", true).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", payment.InvoiceID).First(&invoice).Error; err != nil {
			return err
		}
		invoice.PaidRaw = invoice.PaidRaw.Add(payment.AmountRaw)
		updates := map[string]interface{}{"paid_raw": invoice.PaidRaw}
		if invoice.IsFullyPaid() && invoice.Status == entities.InvoiceStatusPending {
			invoice.Status = entities.InvoiceStatusPaid
			updates["status"] = invoice.Status
			fullyPaid = true
		}
		return tx.Model(&entities.Invoice{}).Where("id = ?", invoice.ID).Updates(updates).Error
	})
	if err != nil {
		return entities.Invoice{}, false, err
	}
	return invoice, fullyPaid, nil
}

// RemovePayment drops an unconfirmed payment whose block vanished entirely in
// a reorg (distinct from UpdatePaymentBlock, which corrects a payment that
// merely moved to a different block).
func (s *GormStore) RemovePayment(ctx context.Context, paymentID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND confirmed = ?", paymentID, false).Delete(&entities.Payment{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}
