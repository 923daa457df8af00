package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"duck-sandbox/internal/domain"
	"duck-sandbox/internal/engine"
)

// Fixture names created by the seed.
const (
	GroupAllUsers        = "All Users"
	GroupData            = "data"
	GroupCollection      = "collection"
	SandboxedUser        = "sandboxed"
	SandboxAttribute     = "filter-attribute"
	SandboxingCollection = "Sandboxing"
)

type seeder struct {
	principals  domain.PrincipalRepository
	groups      domain.GroupRepository
	collections domain.CollectionRepository
	cards       domain.CardRepository
	metadata    domain.MetadataRepository
	logger      *slog.Logger
}

// seed creates the sandboxing fixture: the All Users, data and collection
// groups, a sandboxed user in data carrying filter-attribute=Gizmo, and a
// Sandboxing collection holding a Gizmo products question and model. It also
// records the sample foreign keys. Idempotent: nothing is created once the
// data group exists.
func (s *seeder) seed(ctx context.Context) error {
	if err := s.foreignKeys(ctx); err != nil {
		return err
	}

	if _, err := s.groups.GetByName(ctx, GroupData); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("lookup group %s: %w", GroupData, err)
	}

	// --- Groups ---
	groups := make(map[string]*domain.Group, 3)
	for _, g := range []domain.Group{
		{Name: GroupAllUsers, Description: "Every user"},
		{Name: GroupData, Description: "Sandboxed data access"},
		{Name: GroupCollection, Description: "Collection access"},
	} {
		created, err := s.groups.Create(ctx, &g)
		if err != nil {
			return fmt.Errorf("create group %s: %w", g.Name, err)
		}
		groups[g.Name] = created
	}

	// --- Sandboxed user ---
	user, err := s.principals.Create(ctx, &domain.Principal{
		Name:            SandboxedUser,
		Type:            "user",
		LoginAttributes: map[string]string{SandboxAttribute: "Gizmo"},
	})
	if err != nil {
		return fmt.Errorf("create user %s: %w", SandboxedUser, err)
	}
	for _, name := range []string{GroupAllUsers, GroupData} {
		if err := s.groups.AddMember(ctx, &domain.GroupMember{
			GroupID: groups[name].ID, MemberType: "user", MemberID: user.ID,
		}); err != nil {
			return fmt.Errorf("add %s to %s: %w", SandboxedUser, name, err)
		}
	}

	// --- Collection and cards ---
	coll, err := s.collections.Create(ctx, &domain.Collection{
		Name:        SandboxingCollection,
		Description: "Custom views for sandbox policies",
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	gizmos := domain.Query{
		SourceTable: "PRODUCTS",
		Filter:      ptr(domain.Eq(domain.FieldExpr("CATEGORY"), domain.ValueExpr("Gizmo"))),
	}
	for _, c := range []domain.Card{
		{Name: "Gizmo products", Type: domain.CardTypeQuestion},
		{Name: "Gizmo products model", Type: domain.CardTypeModel},
	} {
		c.CollectionID = &coll.ID
		c.Query = gizmos
		c.CreatedBy = "seed"
		if _, err := s.cards.Create(ctx, &c); err != nil {
			return fmt.Errorf("create card %q: %w", c.Name, err)
		}
	}

	s.logger.Info("sandboxing fixtures seeded", "user", SandboxedUser, "collection", SandboxingCollection)
	return nil
}

// foreignKeys records the sample foreign keys on tables that exist.
func (s *seeder) foreignKeys(ctx context.Context) error {
	for _, fk := range engine.SampleForeignKeys {
		from, err := s.field(ctx, fk.Table, fk.Column)
		if err != nil {
			return err
		}
		to, err := s.field(ctx, fk.TargetTable, fk.TargetColumn)
		if err != nil {
			return err
		}
		if from == nil || to == nil || (from.FKTargetFieldID != nil && *from.FKTargetFieldID == to.ID) {
			continue
		}
		if err := s.metadata.SetForeignKey(ctx, from.ID, &to.ID); err != nil {
			return fmt.Errorf("set foreign key %s.%s: %w", fk.Table, fk.Column, err)
		}
	}
	return nil
}

// field returns nil when the table is not registered.
func (s *seeder) field(ctx context.Context, table, column string) (*domain.Field, error) {
	t, err := s.metadata.GetTableByName(ctx, "main", table)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup table %s: %w", table, err)
	}
	f, ok := t.Field(column)
	if !ok {
		return nil, nil
	}
	return f, nil
}

func isNotFound(err error) bool {
	var nf *domain.NotFoundError
	return errors.As(err, &nf)
}

func ptr[T any](v T) *T { return &v }
