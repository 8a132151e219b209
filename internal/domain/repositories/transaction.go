package repositories

import "context"

// TxFn is a function that runs within a transaction
type TxFn func(ctx context.Context) error

// TransactionManager handles database transactions
type TransactionManager interface {
	// ExecTx runs fn in a transaction, committing when fn returns nil
	ExecTx(ctx context.Context, fn TxFn) error
}

// InTransaction runs fn in a transaction and returns its result
func InTransaction[T any](ctx context.Context, tm TransactionManager, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := tm.ExecTx(ctx, func(txCtx context.Context) error {
		var err error
		result, err = fn(txCtx)
		return err
	})
	return result, err
}
