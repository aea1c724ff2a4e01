package engine

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tildaslashalef/fieldsync/internal/loggy"
)

func TestResolveVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock database")
	defer db.Close()

	resolver := NewSQLVersionResolver(db, loggy.NewNoopLogger())

	t.Run("single table", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "version", "data"}).
			AddRow("animal_1", int64(5), `{"weight_kg":430}`).
			AddRow("animal_2", int64(1), nil)

		mock.ExpectQuery("SELECT id, version, data FROM animals WHERE id IN").
			WithArgs("animal_1", "animal_2").
			WillReturnRows(rows)

		versions, err := resolver.ResolveVersions(context.Background(), []EntityRef{
			{EntityType: "Animal", EntityID: "animal_1"},
			{EntityType: "Animal", EntityID: "animal_2"},
		})
		require.NoError(t, err)

		require.Len(t, versions, 2)
		assert.Equal(t, int64(5), versions["animal_1"].Version)
		assert.JSONEq(t, `{"weight_kg":430}`, string(versions["animal_1"].Data))
		assert.Equal(t, int64(1), versions["animal_2"].Version)
		assert.Nil(t, versions["animal_2"].Data)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("entity unknown to the server is absent", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, version, data FROM lots WHERE id IN").
			WithArgs("lot_new").
			WillReturnRows(sqlmock.NewRows([]string{"id", "version", "data"}))

		versions, err := resolver.ResolveVersions(context.Background(), []EntityRef{
			{EntityType: "Lot", EntityID: "lot_new"},
		})
		require.NoError(t, err)

		_, known := versions["lot_new"]
		assert.False(t, known)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown entity type is skipped without a query", func(t *testing.T) {
		versions, err := resolver.ResolveVersions(context.Background(), []EntityRef{
			{EntityType: "Spaceship", EntityID: "ss_1"},
		})
		require.NoError(t, err)
		assert.Empty(t, versions)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty refs", func(t *testing.T) {
		versions, err := resolver.ResolveVersions(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, versions)
	})
}

func TestTableForEntityType(t *testing.T) {
	tests := []struct {
		entityType string
		wantTable  string
		wantOK     bool
	}{
		{"Lot", "lots", true},
		{"Paddock", "paddocks", true},
		{"Animal", "animals", true},
		{"HealthRecord", "health_records", true},
		{"lot", "", false}, // type tags are case-sensitive
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.entityType, func(t *testing.T) {
			table, ok := tableForEntityType(tt.entityType)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantTable, table)
		})
	}
}
