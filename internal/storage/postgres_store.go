package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"medialift/internal/models"
)

// PostgresConfig describes how the repository initialises its Postgres
// connection pool.
type PostgresConfig struct {
	DSN                 string
	MaxConnections      int32
	MinConnections      int32
	MaxConnLifetime     time.Duration
	MaxConnIdleTime     time.Duration
	HealthCheckInterval time.Duration
	ConnectTimeout      time.Duration
	ApplicationName     string
}

// PostgresStore is the pgx-backed Repository used in production.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const objectColumns = `id, object_type, title, filename, upload_state, live_state, manifest_url, metadata, created_at, updated_at`

// NewPostgresStore opens the pool, applies the schema migration, and returns
// a ready repository.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateObject(ctx context.Context, params CreateObjectParams) (models.UploadableObject, error) {
	objectType, err := models.ParseObjectType(string(params.ObjectType))
	if err != nil {
		return models.UploadableObject{}, err
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	state := params.UploadState
	if state == "" {
		state = models.UploadStatePending
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO objects (id, object_type, title, filename, upload_state, live_state, manifest_url, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+objectColumns,
		id,
		string(objectType),
		strings.TrimSpace(params.Title),
		strings.TrimSpace(params.Filename),
		string(state),
		string(params.LiveState),
		strings.TrimSpace(params.ManifestURL),
		cloneMetadata(params.Metadata),
	)
	object, err := scanObject(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.UploadableObject{}, errObjectExists(id)
		}
		return models.UploadableObject{}, fmt.Errorf("insert object: %w", err)
	}
	return object, nil
}

func (s *PostgresStore) GetObject(ctx context.Context, objectType models.ObjectType, id string) (models.UploadableObject, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+objectColumns+`
		FROM objects
		WHERE id = $1 AND ($2 = '' OR object_type = $2)`,
		strings.TrimSpace(id), string(objectType),
	)
	object, err := scanObject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.UploadableObject{}, ErrObjectNotFound
		}
		return models.UploadableObject{}, fmt.Errorf("select object: %w", err)
	}
	return object, nil
}

func (s *PostgresStore) ListObjects(ctx context.Context, objectType models.ObjectType) ([]models.UploadableObject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+objectColumns+`
		FROM objects
		WHERE $1 = '' OR object_type = $1
		ORDER BY created_at, id`,
		string(objectType),
	)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()
	var objects []models.UploadableObject
	for rows.Next() {
		object, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		objects = append(objects, object)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return objects, nil
}

func (s *PostgresStore) UpdateObject(ctx context.Context, objectType models.ObjectType, id string, update ObjectUpdate) (models.UploadableObject, error) {
	if update.UploadState != nil {
		if _, err := models.ParseUploadState(string(*update.UploadState)); err != nil {
			return models.UploadableObject{}, err
		}
	}
	var object models.UploadableObject
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+objectColumns+`
			FROM objects
			WHERE id = $1 AND ($2 = '' OR object_type = $2)
			FOR UPDATE`,
			strings.TrimSpace(id), string(objectType),
		)
		current, err := scanObject(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrObjectNotFound
			}
			return fmt.Errorf("select object for update: %w", err)
		}
		if update.Title != nil {
			current.Title = strings.TrimSpace(*update.Title)
		}
		if update.Filename != nil {
			current.Filename = strings.TrimSpace(*update.Filename)
		}
		if update.UploadState != nil {
			current.UploadState = *update.UploadState
		}
		if update.LiveState != nil {
			current.LiveState = *update.LiveState
		}
		if update.ManifestURL != nil {
			current.ManifestURL = strings.TrimSpace(*update.ManifestURL)
		}
		if update.Metadata != nil {
			current.Metadata = cloneMetadata(update.Metadata)
		}
		row = tx.QueryRow(ctx, `
			UPDATE objects
			SET title = $2, filename = $3, upload_state = $4, live_state = $5, manifest_url = $6, metadata = $7, updated_at = now()
			WHERE id = $1
			RETURNING `+objectColumns,
			current.ID,
			current.Title,
			current.Filename,
			string(current.UploadState),
			string(current.LiveState),
			current.ManifestURL,
			current.Metadata,
		)
		object, err = scanObject(row)
		if err != nil {
			return fmt.Errorf("update object: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.UploadableObject{}, err
	}
	return object, nil
}

func (s *PostgresStore) SetUploadState(ctx context.Context, objectType models.ObjectType, id string, state models.UploadState) (models.UploadableObject, error) {
	return s.UpdateObject(ctx, objectType, id, ObjectUpdate{UploadState: &state})
}

func (s *PostgresStore) DeleteObject(ctx context.Context, objectType models.ObjectType, id string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM objects
		WHERE id = $1 AND ($2 = '' OR object_type = $2)`,
		strings.TrimSpace(id), string(objectType),
	)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrObjectNotFound
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func scanObject(row pgx.Row) (models.UploadableObject, error) {
	var (
		object                 models.UploadableObject
		objectType             string
		uploadState, liveState string
	)
	err := row.Scan(
		&object.ID,
		&objectType,
		&object.Title,
		&object.Filename,
		&uploadState,
		&liveState,
		&object.ManifestURL,
		&object.Metadata,
		&object.CreatedAt,
		&object.UpdatedAt,
	)
	if err != nil {
		return models.UploadableObject{}, err
	}
	object.ObjectType = models.ObjectType(objectType)
	object.UploadState = models.UploadState(uploadState)
	object.LiveState = models.LiveState(liveState)
	return object, nil
}
