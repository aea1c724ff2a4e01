package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

// EntityRef identifies a domain entity by type and id
type EntityRef struct {
	EntityType string
	EntityID   string
}

// ServerVersion is the authoritative state snapshot for one entity at
// detection time
type ServerVersion struct {
	Version int64
	Data    json.RawMessage
}

// VersionResolver resolves current authoritative version numbers for domain
// entities. The domain CRUD modules own the entities; the engine only reads
// their version counters through this port.
type VersionResolver interface {
	// ResolveVersions returns the server version for each known entity,
	// keyed by entity id. Unknown entities are absent from the result.
	ResolveVersions(ctx context.Context, refs []EntityRef) (map[string]ServerVersion, error)
}

// SQLVersionResolver resolves versions from the server-of-record tables
type SQLVersionResolver struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder sq.StatementBuilderType
}

// NewSQLVersionResolver creates a new SQL version resolver
func NewSQLVersionResolver(db *sql.DB, logger *loggy.Logger) *SQLVersionResolver {
	return &SQLVersionResolver{
		db:      db,
		logger:  logger,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// tableForEntityType maps an entity type tag to its server-of-record table.
// Unknown types resolve to no version, which the detector treats as
// conflict-free.
func tableForEntityType(entityType string) (string, bool) {
	switch entityType {
	case "Lot":
		return "lots", true
	case "Paddock":
		return "paddocks", true
	case "Animal":
		return "animals", true
	case "HealthRecord":
		return "health_records", true
	default:
		return "", false
	}
}

// ResolveVersions looks up current versions for the referenced entities
func (r *SQLVersionResolver) ResolveVersions(ctx context.Context, refs []EntityRef) (map[string]ServerVersion, error) {
	// Group ids per table so each table is queried once
	idsByTable := make(map[string][]string)
	for _, ref := range refs {
		table, ok := tableForEntityType(ref.EntityType)
		if !ok {
			r.logger.Debug("Unknown entity type in change batch", "entity_type", ref.EntityType)
			continue
		}
		idsByTable[table] = append(idsByTable[table], ref.EntityID)
	}

	versions := make(map[string]ServerVersion)

	for table, ids := range idsByTable {
		query, args, err := r.builder.
			Select("id", "version", "data").
			From(table).
			Where(sq.Eq{"id": ids}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("building version query for %s: %w", table, err)
		}

		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("executing version query for %s: %w", table, err)
		}

		for rows.Next() {
			var (
				id      string
				version int64
				data    sql.NullString
			)
			if err := rows.Scan(&id, &version, &data); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning version row from %s: %w", table, err)
			}

			sv := ServerVersion{Version: version}
			if data.Valid && data.String != "" {
				sv.Data = []byte(data.String)
			}
			versions[id] = sv
		}

		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterating version rows from %s: %w", table, err)
		}
		rows.Close()
	}

	return versions, nil
}
