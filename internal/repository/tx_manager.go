package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// txContextKey is unexported so only RunInTx can inject a transaction.
type txContextKey struct{}

// TransactionManager runs a function inside one database transaction. The
// transaction handle travels through the context, so every repository call
// made with the derived context joins the same transaction without explicit
// plumbing; a returned error rolls the whole unit back.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type gormTxManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &gormTxManager{db: db}
}

func (m *gormTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}

// GetDB returns the transaction injected by RunInTx when ctx carries one,
// otherwise the root handle. Repositories call this for every query so they
// work the same inside and outside a managed transaction.
func GetDB(ctx context.Context, root *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return root.WithContext(ctx)
}
