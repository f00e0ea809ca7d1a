package transfer

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/pkg/db"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/repository"
	"trackpoints/services/action"
	"trackpoints/services/ledger"
)

var tracer = otel.Tracer("trackpoints/services/transfer")

var transferOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trackpoints_transfer_outcomes_total",
	Help: "Transfer attempts by outcome.",
}, []string{"outcome"})

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	ledger  *ledger.Service
	actions *action.Service

	transactions repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Ledger  *ledger.Service
	Actions *action.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		ledger:       p.Ledger,
		actions:      p.Actions,
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

// Transfer moves points between two accounts of one organization. The debit, the credit
// and the Transaction row commit together. Failed transfers are never retried here.
func (s *Service) Transfer(ctx context.Context, req Request) (*Transaction, error) {
	ctx, span := tracer.Start(ctx, "transfer.Transfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization_id", req.OrganizationID),
		attribute.Int64("value", req.Value),
	)

	log := logger.FromContext(ctx,
		zap.String("organization_id", req.OrganizationID),
		zap.String("benefactor_account_id", req.BenefactorAccountID),
		zap.String("beneficiary_account_id", req.BeneficiaryAccountID),
	)

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := validate(req); err != nil {
		transferOutcomes.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.replay(ctx, req)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	// fast rejection only; the authoritative check runs under the row lock in ApplyTx
	balance, err := s.ledger.Balance(ctx, req.OrganizationID, req.BenefactorAccountID)
	if err != nil {
		return nil, err
	}
	if balance < req.Value {
		transferOutcomes.WithLabelValues("insufficient_balance").Inc()
		return nil, &ledger.InsufficientBalanceError{
			AccountID: req.BenefactorAccountID,
			Available: balance,
			Requested: req.Value,
		}
	}

	txn := &Transaction{
		ID:                   s.node.Generate().String(),
		OrganizationID:       req.OrganizationID,
		BenefactorAccountID:  req.BenefactorAccountID,
		BeneficiaryAccountID: req.BeneficiaryAccountID,
		Value:                req.Value,
		Message:              req.Message,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		txn.IdempotencyKey = &key
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledger.ApplyTx(ctx, tx, req.OrganizationID, []ledger.Delta{
			{AccountID: req.BenefactorAccountID, Difference: -req.Value, ReferenceType: ledger.ReferenceTransaction, ReferenceID: txn.ID},
			{AccountID: req.BeneficiaryAccountID, Difference: req.Value, ReferenceType: ledger.ReferenceTransaction, ReferenceID: txn.ID},
		}); err != nil {
			return err
		}
		return s.transactions.WithTrx(tx).Create(ctx, txn)
	})
	if err != nil {
		if req.IdempotencyKey != "" && db.IsDuplicate(err) {
			// a concurrent submission with the same key committed first
			existing, rerr := s.replay(ctx, req)
			if rerr == nil && existing == nil {
				rerr = err
			}
			return existing, rerr
		}
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			transferOutcomes.WithLabelValues("insufficient_balance").Inc()
			log.Info("transfer rejected", zap.Error(err))
			return nil, err
		}
		transferOutcomes.WithLabelValues("failed").Inc()
		log.Error("transfer failed", zap.Error(err))
		return nil, db.Classify(err)
	}

	transferOutcomes.WithLabelValues("committed").Inc()
	log.Info("transfer committed", zap.String("transaction_id", txn.ID), zap.Int64("value", txn.Value))

	s.actions.Record(ctx, action.Entry{
		OrganizationID: req.OrganizationID,
		ActorAccountID: req.BenefactorAccountID,
		Type:           action.TypeTransfer,
		TransactionID:  txn.ID,
		Value:          txn.Value,
		Metadata:       map[string]any{"beneficiary_account_id": req.BeneficiaryAccountID},
	})
	return txn, nil
}

func (s *Service) replay(ctx context.Context, req Request) (*Transaction, error) {
	key := req.IdempotencyKey
	existing, err := s.transactions.FindOne(ctx, &Transaction{OrganizationID: req.OrganizationID, IdempotencyKey: &key})
	if err != nil {
		return nil, db.Classify(err)
	}
	if existing == nil {
		return nil, nil
	}
	if !req.matches(existing) {
		return nil, ErrIdempotencyKeyReuse
	}
	transferOutcomes.WithLabelValues("replayed").Inc()
	return existing, nil
}

// Get returns a transaction of the organization.
func (s *Service) Get(ctx context.Context, organizationID, transactionID string) (*Transaction, error) {
	txn, err := s.transactions.FindOne(ctx, &Transaction{ID: transactionID, OrganizationID: organizationID})
	if err != nil {
		return nil, db.Classify(err)
	}
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

func validate(req Request) error {
	switch {
	case req.OrganizationID == "",
		req.BenefactorAccountID == "",
		req.BeneficiaryAccountID == "",
		req.Value <= 0,
		req.BenefactorAccountID == req.BeneficiaryAccountID:
		return ErrInvalidTransfer
	}
	return nil
}
