package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/dtroode/faceid-server/internal/model"
)

const (
	uniqueViolation        = "23505"
	externalIDConstraint   = "identities_external_id_key"
	summaryColumns         = "i.external_id, i.display_name, i.institutional_email, i.phone, i.image_ref, i.created_at"
	identitiesTableAliased = "identities i"
)

var _ model.IdentityStore = (*IdentityRepository)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type IdentityRepository struct {
	db *Connection
}

func NewIdentityRepository(db *Connection) *IdentityRepository {
	return &IdentityRepository{
		db: db,
	}
}

// Insert writes the identity and its descriptors in one transaction. The
// first insert ever claims the store dimension in store_settings. A taken
// external id is reported before a dimension mismatch.
func (r *IdentityRepository) Insert(ctx context.Context, identity model.Identity) (model.Identity, error) {
	dim, err := identity.Dimension()
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to insert identity: %w", err)
	}
	if dim == 0 {
		return model.Identity{}, fmt.Errorf("failed to insert identity: %w", model.ErrValidation)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return model.Identity{}, unavailable("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO identities (external_id, display_name, institutional_email, phone, image_ref)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		identity.ExternalID, identity.DisplayName, identity.InstitutionalEmail, identity.Phone, identity.ImageRef,
	).Scan(&id, &identity.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return model.Identity{}, model.ErrDuplicateIdentity
		}
		return model.Identity{}, unavailable("failed to insert identity", err)
	}

	if err := claimDimension(ctx, tx, dim); err != nil {
		return model.Identity{}, err
	}

	batch := &pgx.Batch{}
	for pos, d := range identity.Descriptors {
		batch.Queue(
			`INSERT INTO identity_descriptors (identity_id, position, embedding) VALUES ($1, $2, $3)`,
			id, pos, pgvector.NewVector(d),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return model.Identity{}, unavailable("failed to insert descriptors", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Identity{}, unavailable("failed to commit identity", err)
	}

	return identity, nil
}

func claimDimension(ctx context.Context, tx pgx.Tx, dim int) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO store_settings (id, descriptor_dimension) VALUES (TRUE, $1)
		 ON CONFLICT (id) DO NOTHING`, dim)
	if err != nil {
		return unavailable("failed to claim descriptor dimension", err)
	}

	var stored int
	err = tx.QueryRow(ctx, `SELECT descriptor_dimension FROM store_settings WHERE id`).Scan(&stored)
	if err != nil {
		return unavailable("failed to read descriptor dimension", err)
	}
	if stored != dim {
		return model.ErrDimensionMismatch
	}
	return nil
}

func (r *IdentityRepository) FindByExternalID(ctx context.Context, externalID string) (model.Identity, error) {
	query, args, err := psql.Select("i.id", summaryColumns).
		From(identitiesTableAliased).
		Where(sq.Eq{"i.external_id": externalID}).
		ToSql()
	if err != nil {
		return model.Identity{}, fmt.Errorf("failed to build query: %w", err)
	}

	var (
		id       int64
		identity model.Identity
	)
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&id, &identity.ExternalID, &identity.DisplayName, &identity.InstitutionalEmail,
		&identity.Phone, &identity.ImageRef, &identity.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, model.ErrNotFound
		}
		return model.Identity{}, unavailable("failed to get identity", err)
	}

	descriptors, err := loadDescriptors(ctx, r.db, id)
	if err != nil {
		return model.Identity{}, err
	}
	identity.Descriptors = descriptors

	return identity, nil
}

func loadDescriptors(ctx context.Context, q querier, identityID int64) ([]model.Descriptor, error) {
	query, args, err := psql.Select("embedding").
		From("identity_descriptors").
		Where(sq.Eq{"identity_id": identityID}).
		OrderBy("position").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("failed to get descriptors", err)
	}
	defer rows.Close()

	var out []model.Descriptor
	for rows.Next() {
		var v pgvector.Vector
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable("failed to scan descriptor", err)
		}
		out = append(out, v.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("failed to iterate descriptors", err)
	}
	return out, nil
}

// List streams summaries ordered by external id. Descriptors are not read.
func (r *IdentityRepository) List(ctx context.Context) iter.Seq2[model.Summary, error] {
	return func(yield func(model.Summary, error) bool) {
		query, args, err := psql.Select(summaryColumns).
			From(identitiesTableAliased).
			OrderBy("i.external_id").
			ToSql()
		if err != nil {
			yield(model.Summary{}, fmt.Errorf("failed to build query: %w", err))
			return
		}

		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			yield(model.Summary{}, unavailable("failed to list identities", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var s model.Summary
			if err := rows.Scan(&s.ExternalID, &s.DisplayName, &s.InstitutionalEmail, &s.Phone, &s.ImageRef, &s.CreatedAt); err != nil {
				yield(model.Summary{}, unavailable("failed to scan identity", err))
				return
			}
			if !yield(s, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Summary{}, unavailable("failed to iterate identities", err))
		}
	}
}

// Scan streams full identities from a single statement, so every scan sees
// one consistent snapshot.
func (r *IdentityRepository) Scan(ctx context.Context) iter.Seq2[model.Identity, error] {
	return func(yield func(model.Identity, error) bool) {
		query, args, err := psql.Select(summaryColumns, "d.embedding").
			From(identitiesTableAliased).
			Join("identity_descriptors d ON d.identity_id = i.id").
			OrderBy("i.external_id", "d.position").
			ToSql()
		if err != nil {
			yield(model.Identity{}, fmt.Errorf("failed to build query: %w", err))
			return
		}

		rows, err := r.db.Query(ctx, query, args...)
		if err != nil {
			yield(model.Identity{}, unavailable("failed to scan identities", err))
			return
		}
		defer rows.Close()

		var current model.Identity
		for rows.Next() {
			var (
				row model.Identity
				v   pgvector.Vector
			)
			if err := rows.Scan(&row.ExternalID, &row.DisplayName, &row.InstitutionalEmail, &row.Phone, &row.ImageRef, &row.CreatedAt, &v); err != nil {
				yield(model.Identity{}, unavailable("failed to scan identity", err))
				return
			}

			if current.ExternalID != row.ExternalID {
				if current.ExternalID != "" && !yield(current, nil) {
					return
				}
				current = row
			}
			current.Descriptors = append(current.Descriptors, v.Slice())
		}
		if err := rows.Err(); err != nil {
			yield(model.Identity{}, unavailable("failed to iterate identities", err))
			return
		}
		if current.ExternalID != "" {
			yield(current, nil)
		}
	}
}

// Delete removes the identity in one statement and returns the row it
// removed, without descriptors. Descriptors go with it through ON DELETE
// CASCADE.
func (r *IdentityRepository) Delete(ctx context.Context, externalID string) (model.Identity, error) {
	var identity model.Identity
	err := r.db.QueryRow(ctx,
		`DELETE FROM identities WHERE external_id = $1
		 RETURNING external_id, display_name, institutional_email, phone, image_ref, created_at`,
		externalID,
	).Scan(&identity.ExternalID, &identity.DisplayName, &identity.InstitutionalEmail,
		&identity.Phone, &identity.ImageRef, &identity.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Identity{}, model.ErrNotFound
		}
		return model.Identity{}, unavailable("failed to delete identity", err)
	}

	return identity, nil
}

func (r *IdentityRepository) Dimension(ctx context.Context) (int, error) {
	var dim int
	err := r.db.QueryRow(ctx, `SELECT descriptor_dimension FROM store_settings WHERE id`).Scan(&dim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, unavailable("failed to read descriptor dimension", err)
	}
	return dim, nil
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == externalIDConstraint
}

func unavailable(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, model.ErrStoreUnavailable, err)
}
