package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestReadMigrationSet_SortsPairsByVersion(t *testing.T) {
	t.Parallel()

	set, err := readMigrationSet(fstest.MapFS{
		"sql/migrations/000010_payments.up.sql":   sqlFile("CREATE TABLE payments (id INT);"),
		"sql/migrations/000010_payments.down.sql": sqlFile("DROP TABLE payments;"),
		"sql/migrations/000002_shops.up.sql":      sqlFile("CREATE TABLE shops (id INT);"),
		"sql/migrations/000002_shops.down.sql":    sqlFile("DROP TABLE shops;"),
	})
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, int64(2), set[0].Version)
	assert.Equal(t, "shops", set[0].Name)
	assert.Equal(t, "000010_payments", set[1].label())
	assert.Equal(t, "DROP TABLE payments;", set[1].DownSQL)

	found, ok := set.find(10)
	require.True(t, ok)
	assert.Equal(t, "payments", found.Name)
	_, ok = set.find(3)
	assert.False(t, ok)
}

func TestReadMigrationSet_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr string
	}{
		{
			name: "missing down",
			fsys: fstest.MapFS{
				"sql/migrations/000001_init.up.sql": sqlFile("CREATE TABLE a (id INT);"),
			},
			wantErr: "missing its down script",
		},
		{
			name: "missing up",
			fsys: fstest.MapFS{
				"sql/migrations/000001_init.down.sql": sqlFile("DROP TABLE a;"),
			},
			wantErr: "missing its up script",
		},
		{
			name: "bad file name",
			fsys: fstest.MapFS{
				"sql/migrations/orders.sql": sqlFile("SELECT 1;"),
			},
			wantErr: "name must look like",
		},
		{
			name: "blank body",
			fsys: fstest.MapFS{
				"sql/migrations/000001_init.up.sql":   sqlFile("  \n\t"),
				"sql/migrations/000001_init.down.sql": sqlFile("DROP TABLE a;"),
			},
			wantErr: "file is empty",
		},
		{
			name: "name clash",
			fsys: fstest.MapFS{
				"sql/migrations/000001_init.up.sql":    sqlFile("CREATE TABLE a (id INT);"),
				"sql/migrations/000001_other.down.sql": sqlFile("DROP TABLE a;"),
			},
			wantErr: "is named both",
		},
		{
			name:    "no directory",
			fsys:    fstest.MapFS{},
			wantErr: "read sql/migrations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := readMigrationSet(tt.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMigrationSet_Pending(t *testing.T) {
	t.Parallel()

	set := migrationSet{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 4}}

	versions := func(s migrationSet) []int64 {
		out := make([]int64, 0, len(s))
		for _, m := range s {
			out = append(out, m.Version)
		}
		return out
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, versions(set.pending(nil, 0)))
	assert.Equal(t, []int64{2, 4}, versions(set.pending([]int64{3, 1}, 0)))
	assert.Equal(t, []int64{2}, versions(set.pending([]int64{1}, 1)))
	assert.Empty(t, set.pending([]int64{4, 3, 2, 1}, 0))
}

func TestReadMigrationSet_EmbeddedMarketplaceSchema(t *testing.T) {
	t.Parallel()

	set, err := readMigrationSet(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, set)

	initial := set[0]
	assert.Equal(t, "000001_init", initial.label())
	for _, table := range []string{"shops", "products", "orders", "order_items", "outbox_messages", "timeline_events", "idempotency_keys"} {
		assert.Contains(t, initial.UpSQL, "CREATE TABLE IF NOT EXISTS "+table+" ", "init should create %s", table)
		assert.Contains(t, initial.DownSQL, "DROP TABLE IF EXISTS "+table+";", "init should drop %s", table)
	}
}
