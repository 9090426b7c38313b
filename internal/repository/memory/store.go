// Package memory хранит состояние движка в памяти процесса для режима разработки и тестов.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/escrow-engine/internal/domain/repository"
	"github.com/ignatzorin/escrow-engine/internal/models"
)

type state struct {
	jobs         map[uuid.UUID]models.Job
	applications map[uuid.UUID]models.Application
	transactions map[uuid.UUID]models.PaymentTransaction
	balances     map[uuid.UUID]models.EscrowBalance
	disputes     map[uuid.UUID]models.Dispute
	ledger       []models.LedgerEntry
	arbitration  []models.ArbitrationRecord
	events       []models.JobEvent
}

func newState() *state {
	return &state{
		jobs:         make(map[uuid.UUID]models.Job),
		applications: make(map[uuid.UUID]models.Application),
		transactions: make(map[uuid.UUID]models.PaymentTransaction),
		balances:     make(map[uuid.UUID]models.EscrowBalance),
		disputes:     make(map[uuid.UUID]models.Dispute),
		ledger:       make([]models.LedgerEntry, 0, 64),
		arbitration:  make([]models.ArbitrationRecord, 0, 16),
		events:       make([]models.JobEvent, 0, 128),
	}
}

func (s *state) clone() *state {
	c := &state{
		jobs:         make(map[uuid.UUID]models.Job, len(s.jobs)),
		applications: make(map[uuid.UUID]models.Application, len(s.applications)),
		transactions: make(map[uuid.UUID]models.PaymentTransaction, len(s.transactions)),
		balances:     make(map[uuid.UUID]models.EscrowBalance, len(s.balances)),
		disputes:     make(map[uuid.UUID]models.Dispute, len(s.disputes)),
		ledger:       append(make([]models.LedgerEntry, 0, len(s.ledger)+4), s.ledger...),
		arbitration:  append(make([]models.ArbitrationRecord, 0, len(s.arbitration)+1), s.arbitration...),
		events:       append(make([]models.JobEvent, 0, len(s.events)+4), s.events...),
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.applications {
		c.applications[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = v
	}
	return c
}

type execFunc func(fn func(st *state) error) error

// Store держит всё состояние под одним мьютексом. WithTransaction работает
// на копии состояния и подменяет его только при успешном завершении fn.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ repository.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) Repos() repository.Repositories {
	return bind(s.locked)
}

func (s *Store) locked(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, r repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	draft := s.st.clone()
	repos := bind(func(f func(st *state) error) error { return f(draft) })
	if err := fn(ctx, repos); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func bind(exec execFunc) repository.Repositories {
	return repository.Repositories{
		Jobs:         &jobRepo{exec: exec},
		Applications: &applicationRepo{exec: exec},
		Transactions: &transactionRepo{exec: exec},
		Ledger:       &ledgerRepo{exec: exec},
		Disputes:     &disputeRepo{exec: exec},
		Arbitration:  &arbitrationRepo{exec: exec},
		Events:       &eventRepo{exec: exec},
	}
}

func now() time.Time {
	return time.Now().UTC()
}
