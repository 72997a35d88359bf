package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type contextKey int

const (
	transactionKey contextKey = iota
)

var (
	errTxDone = errors.New("transaction already finished")
	txSeq     atomic.Int64
)

// Tx is a gorm transaction carried in a context. Every store resolves its
// handle through FromContext, so calls made with that context join the transaction.
type Tx struct {
	id  int64
	tx  *gorm.DB
	log *zap.SugaredLogger
}

// Atomic runs fn inside a transaction on s. It commits when fn returns nil and
// rolls back otherwise. When ctx already carries a transaction, fn joins it and
// the outermost caller decides the outcome.
func Atomic(ctx context.Context, s Store, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(transactionKey).(*Tx); nested {
		return fn(ctx)
	}

	txCtx, err := s.NewTransactionContext(ctx)
	if err != nil {
		return Unavailable("begin transaction", err)
	}

	if err := fn(txCtx); err != nil {
		if _, rbErr := Rollback(txCtx); rbErr != nil {
			zap.S().Named("store").Warnw("rollback after failure did not complete", "error", rbErr)
		}
		return err
	}

	if _, err := Commit(txCtx); err != nil {
		return Unavailable("commit transaction", err)
	}
	return nil
}

func Commit(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok {
		return ctx, nil
	}
	return context.WithValue(ctx, transactionKey, nil), tx.Commit()
}

func Rollback(ctx context.Context) (context.Context, error) {
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok {
		return ctx, nil
	}
	return context.WithValue(ctx, transactionKey, nil), tx.Rollback()
}

// FromContext returns the open transaction handle, or nil.
func FromContext(ctx context.Context) *gorm.DB {
	if tx, found := ctx.Value(transactionKey).(*Tx); found && tx.tx != nil {
		return tx.tx
	}
	return nil
}

func newTransactionContext(ctx context.Context, db *gorm.DB) (context.Context, error) {
	if _, found := ctx.Value(transactionKey).(*Tx); found {
		return ctx, nil
	}

	tx := db.Session(&gorm.Session{Context: ctx}).Begin()
	if tx.Error != nil {
		return ctx, tx.Error
	}

	t := &Tx{
		id:  txSeq.Add(1),
		tx:  tx,
		log: zap.S().Named("store"),
	}
	t.log.Debugw("transaction started", "tx_id", t.id)

	return context.WithValue(ctx, transactionKey, t), nil
}

func (t *Tx) Commit() error {
	if t.tx == nil {
		return errTxDone
	}
	if err := t.tx.Commit().Error; err != nil {
		t.log.Errorw("failed to commit transaction", "tx_id", t.id, "error", err)
		return fmt.Errorf("commit transaction %d: %w", t.id, err)
	}
	t.tx = nil
	t.log.Debugw("transaction committed", "tx_id", t.id)
	return nil
}

func (t *Tx) Rollback() error {
	if t.tx == nil {
		return errTxDone
	}
	if err := t.tx.Rollback().Error; err != nil {
		t.log.Errorw("failed to rollback transaction", "tx_id", t.id, "error", err)
		return fmt.Errorf("rollback transaction %d: %w", t.id, err)
	}
	t.tx = nil
	t.log.Debugw("transaction rolled back", "tx_id", t.id)
	return nil
}
