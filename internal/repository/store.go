package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	domain "github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/repository/common"
)

// Store: PostgreSQL-реализация границы хранилища.
// Репозитории работают поверх sqlx.ExtContext, поэтому одни и те же запросы
// выполняются и на пуле, и внутри транзакции.
type Store struct {
	db *sqlx.DB
}

var _ domain.Store = (*Store)(nil)

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Repos() domain.Repositories {
	return bind(s.db)
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, r domain.Repositories) error) error {
	return common.WithTransaction(ctx, s.db, func(tx *sqlx.Tx) error {
		return fn(ctx, bind(tx))
	})
}

func bind(q sqlx.ExtContext) domain.Repositories {
	return domain.Repositories{
		Jobs:         NewJobRepository(q),
		Applications: NewApplicationRepository(q),
		Transactions: NewTransactionRepository(q),
		Ledger:       NewLedgerRepository(q),
		Disputes:     NewDisputeRepository(q),
		Arbitration:  NewArbitrationRepository(q),
		Events:       NewJobEventRepository(q),
	}
}
