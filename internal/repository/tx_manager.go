package repository

import (
	"context"

	"gorm.io/gorm"
)

type txCtxKey struct{}

// TransactionManager runs a function inside one database transaction. Repos
// called with the returned context join that transaction, which is how
// workflow creation and its action rows stay one logical unit.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &transactionManager{db: db}
}

type transactionManager struct {
	db *gorm.DB
}

func (t *transactionManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txCtxKey{}, tx))
	})
}

// GetDB returns the transaction carried by ctx, or rootDB outside one.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txCtxKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
