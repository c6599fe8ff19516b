package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes fn inside one database transaction and passes
// the transaction handle through `tx`.
//
// Repositories detect a tx handle and bind their statements to it, so a
// conditional status transition and the entitlement writes that depend on it
// commit or roll back together. The concrete type of `tx` is infra-defined
// (pgx.Tx for Postgres). Repositories MUST accept a nil tx (pool path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
