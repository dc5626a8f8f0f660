package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver

	"github.com/earthdata/cmr-embeddings/pkg/models"
	"github.com/earthdata/cmr-embeddings/pkg/observability"
)

// Table names of the persisted schema.
const (
	embeddingsTable      = "concept_embeddings"
	associationsTable    = "concept_associations"
	kmsEmbeddingsTable   = "kms_embeddings"
	kmsAssociationsTable = "concept_kms_associations"
)

// associationTypeMap maps CMR association keys to concept types. Keys not
// listed here are ignored.
var associationTypeMap = map[string]string{
	"variables": models.ConceptTypeVariable,
	"citations": models.ConceptTypeCitation,
}

// PostgresDatastore implements Datastore over Postgres with pgvector.
type PostgresDatastore struct {
	db     *sqlx.DB
	logger observability.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewPostgresDatastore opens a pooled connection and verifies it.
func NewPostgresDatastore(ctx context.Context, dsn string, maxConns, maxIdleConns int, logger observability.Logger) (*PostgresDatastore, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, &StorageError{Op: "connect", Err: err}
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "ping", Err: err}
	}
	return NewPostgresDatastoreWithDB(db, logger), nil
}

// NewPostgresDatastoreWithDB wraps an existing connection pool, primarily
// for tests.
func NewPostgresDatastoreWithDB(db *sqlx.DB, logger observability.Logger) *PostgresDatastore {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &PostgresDatastore{db: db, logger: logger}
}

// UpsertChunks replaces all chunks of a concept in one transaction.
func (d *PostgresDatastore) UpsertChunks(ctx context.Context, conceptType, conceptID string, chunks []models.EmbeddedChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+embeddingsTable+` WHERE concept_id = $1`, conceptID); err != nil {
			return err
		}

		for _, chunk := range chunks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO `+embeddingsTable+`
					(id, concept_type, concept_id, attribute, text_content, embedding)
				VALUES ($1, $2, $3, $4, $5, $6::vector)`,
				uuid.NewString(), conceptType, conceptID,
				chunk.Attribute, chunk.TextContent, formatVector(chunk.Embedding),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "upsert_chunks", Err: err}
	}

	d.logger.Info("Upserted chunks", map[string]interface{}{
		"concept_id": conceptID,
		"count":      len(chunks),
	})
	return len(chunks), nil
}

// DeleteChunks removes all chunks of a concept.
func (d *PostgresDatastore) DeleteChunks(ctx context.Context, conceptID string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM `+embeddingsTable+` WHERE concept_id = $1`, conceptID)
	if err != nil {
		return 0, &StorageError{Op: "delete_chunks", Err: err}
	}
	return rowsAffected(res), nil
}

// UpsertAssociations full-replaces the outgoing associations of a concept.
func (d *PostgresDatastore) UpsertAssociations(ctx context.Context, conceptType, conceptID string, associations map[string][]string) (int, error) {
	if len(associations) == 0 {
		return 0, nil
	}

	count := 0
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+associationsTable+` WHERE left_concept_id = $1`, conceptID); err != nil {
			return err
		}

		for assocKey, rightType := range associationTypeMap {
			for _, rightID := range associations[assocKey] {
				res, err := tx.ExecContext(ctx,
					`INSERT INTO `+associationsTable+`
						(left_concept_type, left_concept_id, right_concept_type, right_concept_id)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (left_concept_id, right_concept_id) DO NOTHING`,
					conceptType, conceptID, rightType, rightID)
				if err != nil {
					return err
				}
				count += rowsAffected(res)
			}
		}
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "upsert_associations", Err: err}
	}
	return count, nil
}

// DeleteAssociations removes associations touching the concept on either
// side.
func (d *PostgresDatastore) DeleteAssociations(ctx context.Context, conceptID string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM `+associationsTable+`
		WHERE left_concept_id = $1 OR right_concept_id = $1`, conceptID)
	if err != nil {
		return 0, &StorageError{Op: "delete_associations", Err: err}
	}
	return rowsAffected(res), nil
}

// GetKMSEmbedding returns the stored row for a UUID, or nil when absent.
func (d *PostgresDatastore) GetKMSEmbedding(ctx context.Context, kmsUUID string) (*KMSEmbedding, error) {
	row := d.db.QueryRowxContext(ctx,
		`SELECT kms_uuid, scheme, term, definition, updated_at
		FROM `+kmsEmbeddingsTable+`
		WHERE kms_uuid = $1`, kmsUUID)

	var e KMSEmbedding
	var definition sql.NullString
	if err := row.Scan(&e.UUID, &e.Scheme, &e.Term, &definition, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, &StorageError{Op: "get_kms_embedding", Err: err}
	}
	e.Definition = definition.String
	return &e, nil
}

// UpsertKMSEmbedding inserts or overwrites a canonical-term embedding,
// reporting whether the row is new.
func (d *PostgresDatastore) UpsertKMSEmbedding(ctx context.Context, embedding KMSEmbedding) (bool, error) {
	var inserted bool
	err := d.db.QueryRowxContext(ctx,
		`INSERT INTO `+kmsEmbeddingsTable+`
			(kms_uuid, scheme, term, definition, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5::vector, NOW())
		ON CONFLICT (kms_uuid) DO UPDATE SET
			definition = EXCLUDED.definition,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted`,
		embedding.UUID, embedding.Scheme, embedding.Term,
		nullIfEmpty(embedding.Definition), formatVector(embedding.Embedding),
	).Scan(&inserted)
	if err != nil {
		return false, &StorageError{Op: "upsert_kms_embedding", Err: err}
	}

	action := "Updated"
	if inserted {
		action = "Inserted"
	}
	d.logger.Info(action+" KMS embedding", map[string]interface{}{
		"scheme": embedding.Scheme,
		"term":   embedding.Term,
	})
	return inserted, nil
}

// UpsertConceptKMSAssociations full-replaces the KMS links of a concept.
func (d *PostgresDatastore) UpsertConceptKMSAssociations(ctx context.Context, conceptType, conceptID string, uuids []string) (int, error) {
	if len(uuids) == 0 {
		return 0, nil
	}

	count := 0
	err := d.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+kmsAssociationsTable+`
			WHERE concept_type = $1 AND concept_id = $2`,
			conceptType, conceptID); err != nil {
			return err
		}

		for _, kmsUUID := range dedupe(uuids) {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO `+kmsAssociationsTable+`
					(concept_type, concept_id, kms_uuid)
				VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING`,
				conceptType, conceptID, kmsUUID)
			if err != nil {
				return err
			}
			count += rowsAffected(res)
		}
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "upsert_concept_kms_associations", Err: err}
	}

	d.logger.Info("Linked KMS terms", map[string]interface{}{
		"concept_id": conceptID,
		"count":      count,
	})
	return count, nil
}

// DeleteConceptKMSAssociations removes all KMS links of a concept.
func (d *PostgresDatastore) DeleteConceptKMSAssociations(ctx context.Context, conceptID string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM `+kmsAssociationsTable+` WHERE concept_id = $1`, conceptID)
	if err != nil {
		return 0, &StorageError{Op: "delete_concept_kms_associations", Err: err}
	}
	return rowsAffected(res), nil
}

// SearchSimilar returns chunks ranked by cosine similarity.
func (d *PostgresDatastore) SearchSimilar(ctx context.Context, embedding []float32, limit int, conceptType string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	vector := formatVector(embedding)

	var rows *sqlx.Rows
	var err error
	if conceptType != "" {
		rows, err = d.db.QueryxContext(ctx,
			`SELECT concept_type, concept_id, attribute, text_content,
				1 - (embedding <=> $1::vector) AS similarity
			FROM `+embeddingsTable+`
			WHERE concept_type = $2
			ORDER BY embedding <=> $1::vector
			LIMIT $3`,
			vector, conceptType, limit)
	} else {
		rows, err = d.db.QueryxContext(ctx,
			`SELECT concept_type, concept_id, attribute, text_content,
				1 - (embedding <=> $1::vector) AS similarity
			FROM `+embeddingsTable+`
			ORDER BY embedding <=> $1::vector
			LIMIT $2`,
			vector, limit)
	}
	if err != nil {
		return nil, &StorageError{Op: "search_similar", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.StructScan(&r); err != nil {
			return nil, &StorageError{Op: "search_similar", Err: err}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "search_similar", Err: err}
	}
	return results, nil
}

// Close releases the connection pool. Safe to call multiple times.
func (d *PostgresDatastore) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

func (d *PostgresDatastore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// formatVector renders a vector in pgvector text form: [1,2,3].
func formatVector(vector []float32) string {
	elements := make([]string, len(vector))
	for i, v := range vector {
		elements[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(elements, ",") + "]"
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
