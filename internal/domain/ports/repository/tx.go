package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque transaction handle owned by the storage adapter. Repository methods
// take one as their second argument; NoTX runs the call outside any transaction.
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn in a transaction. Reads made through tx inside fn lock the
// rows they return until fn finishes, which is what makes a reconciliation step atomic.
type TransactionManager interface {
	WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
