package scope

import (
	"context"

	"github.com/go-pg/pg/v10"
)

var _ OwnershipStore = (*PgOwnershipStore)(nil)

// PgOwnershipStore reads the ownership chain from the platform's document
// storage tables. This subsystem never writes them.
type PgOwnershipStore struct {
	db *pg.DB
}

func NewPgOwnershipStore(db *pg.DB) *PgOwnershipStore {
	return &PgOwnershipStore{db: db}
}

type projectRow struct {
	tableName struct{} `pg:"projects"`

	ID      string `pg:"id,pk"`
	OwnerID string `pg:"owner_id"`
}

type documentRow struct {
	tableName struct{} `pg:"documents"`

	ID        string `pg:"id,pk"`
	ProjectID string `pg:"project_id"`
}

type sectionRow struct {
	tableName struct{} `pg:"sections"`

	ID         string `pg:"id,pk"`
	DocumentID string `pg:"document_id"`
}

func (s *PgOwnershipStore) ProjectOwnedBy(ctx context.Context, projectID, userID string) (bool, error) {
	row := &projectRow{ID: projectID}
	if err := s.db.ModelContext(ctx, row).WherePK().Select(); err != nil {
		return false, err
	}
	return row.OwnerID == userID, nil
}

func (s *PgOwnershipStore) DocumentProject(ctx context.Context, documentID string) (string, error) {
	row := &documentRow{ID: documentID}
	if err := s.db.ModelContext(ctx, row).WherePK().Select(); err != nil {
		return "", err
	}
	return row.ProjectID, nil
}

func (s *PgOwnershipStore) SectionDocument(ctx context.Context, sectionID string) (string, error) {
	row := &sectionRow{ID: sectionID}
	if err := s.db.ModelContext(ctx, row).WherePK().Select(); err != nil {
		return "", err
	}
	return row.DocumentID, nil
}
