package account

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"trackpoints/pkg/db"
	"trackpoints/pkg/logger"
	"trackpoints/pkg/repository"
)

var tracer = otel.Tracer("trackpoints/services/account")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	orgs     repository.Repository[Organization]
	users    repository.Repository[User]
	accounts repository.Repository[Account]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		orgs:     repository.ProvideStore[Organization](p.DB),
		users:    repository.ProvideStore[User](p.DB),
		accounts: repository.ProvideStore[Account](p.DB),
	}
}

// EnsureOrganization returns the organization keyed by the tracker's organization id,
// creating it on first sign-in of any member.
func (s *Service) EnsureOrganization(ctx context.Context, externalID, name string) (*Organization, error) {
	ctx, span := tracer.Start(ctx, "account.EnsureOrganization")
	defer span.End()

	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrIdentityResolutionFailed
	}

	query := &Organization{ExternalID: externalID}
	org, err := s.orgs.FindOne(ctx, query)
	if err != nil {
		return nil, db.Classify(err)
	}
	if org != nil {
		return org, nil
	}

	if name = strings.TrimSpace(name); name == "" {
		name = externalID
	}
	org = &Organization{
		ID:         s.node.Generate().String(),
		ExternalID: externalID,
		Name:       name,
		Slug:       slug.Make(name),
	}
	if err := s.orgs.Create(ctx, org); err != nil {
		if !db.IsDuplicate(err) {
			return nil, db.Classify(err)
		}
		return s.orgs.FindOne(ctx, query)
	}

	logger.FromContext(ctx).Info("organization provisioned",
		zap.String("organization_id", org.ID), zap.String("external_id", externalID))
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, organizationID string) (*Organization, error) {
	org, err := s.orgs.FindOne(ctx, &Organization{ID: organizationID})
	if err != nil {
		return nil, db.Classify(err)
	}
	if org == nil {
		return nil, ErrOrganizationNotFound
	}
	return org, nil
}

// FindOrganization returns the organization of a tracker organization id, or
// ErrOrganizationNotFound before any member has signed in.
func (s *Service) FindOrganization(ctx context.Context, externalID string) (*Organization, error) {
	org, err := s.orgs.FindOne(ctx, &Organization{ExternalID: strings.TrimSpace(externalID)})
	if err != nil {
		return nil, db.Classify(err)
	}
	if org == nil {
		return nil, ErrOrganizationNotFound
	}
	return org, nil
}

// SetAPICredential stores the credential used for marker calls on behalf of the organization.
func (s *Service) SetAPICredential(ctx context.Context, organizationID, credential string) error {
	if _, err := s.GetOrganization(ctx, organizationID); err != nil {
		return err
	}
	return db.Classify(s.orgs.Update(ctx, organizationID, map[string]any{"api_credential": credential}))
}

func (s *Service) GetAccount(ctx context.Context, organizationID, accountID string) (*Account, error) {
	acc, err := s.accounts.FindOne(ctx, &Account{ID: accountID, OrganizationID: organizationID})
	if err != nil {
		return nil, db.Classify(err)
	}
	if acc == nil {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

// Resolve looks up the account of an external identity, creating the account and its
// user on first sight. Concurrent first sights of the same identity converge on one row.
func (s *Service) Resolve(ctx context.Context, id Identity) (*Account, error) {
	return s.ResolveTx(ctx, s.db, id)
}

// ResolveTx is Resolve inside the caller's transaction. The insert runs under a
// savepoint so losing a uniqueness race leaves tx usable.
func (s *Service) ResolveTx(ctx context.Context, tx *gorm.DB, id Identity) (*Account, error) {
	ctx, span := tracer.Start(ctx, "account.Resolve")
	defer span.End()

	id.Provider = strings.TrimSpace(id.Provider)
	id.ExternalID = strings.TrimSpace(id.ExternalID)
	if id.OrganizationID == "" || id.Provider == "" || id.ExternalID == "" {
		return nil, ErrIdentityResolutionFailed
	}

	accounts := s.accounts.WithTrx(tx)
	query := &Account{OrganizationID: id.OrganizationID, Provider: id.Provider, ExternalID: id.ExternalID}

	acc, err := accounts.FindOne(ctx, query)
	if err != nil {
		return nil, db.Classify(err)
	}
	if acc != nil {
		return acc, nil
	}

	acc, err = s.create(ctx, tx, id)
	if err == nil {
		return acc, nil
	}
	if !db.IsDuplicate(err) {
		return nil, db.Classify(err)
	}

	// lost the race: the winner has committed, read it back
	acc, err = accounts.FindOne(ctx, query)
	if err != nil {
		return nil, db.Classify(err)
	}
	if acc == nil {
		return nil, ErrIdentityResolutionFailed
	}
	return acc, nil
}

func (s *Service) create(ctx context.Context, tx *gorm.DB, id Identity) (*Account, error) {
	org, err := s.orgs.WithTrx(tx).FindOne(ctx, &Organization{ID: id.OrganizationID})
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrOrganizationNotFound
	}

	var acc *Account
	err = tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		user := &User{
			ID:             s.node.Generate().String(),
			OrganizationID: id.OrganizationID,
			DisplayName:    displayName(id),
		}
		if id.Email != "" {
			email := id.Email
			user.Email = &email
		}
		if err := s.users.WithTrx(sp).Create(ctx, user); err != nil {
			return err
		}

		acc = &Account{
			ID:             s.node.Generate().String(),
			OrganizationID: id.OrganizationID,
			Provider:       id.Provider,
			ExternalID:     id.ExternalID,
			UserID:         user.ID,
		}
		return s.accounts.WithTrx(sp).Create(ctx, acc)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("account provisioned",
		zap.String("organization_id", id.OrganizationID),
		zap.String("account_id", acc.ID),
		zap.String("provider", id.Provider),
	)
	return acc, nil
}

func displayName(id Identity) string {
	if name := strings.TrimSpace(id.DisplayName); name != "" {
		return name
	}
	return id.ExternalID
}
