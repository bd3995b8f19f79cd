package sqlite_test

import (
	"context"
	"testing"

	"github.com/joernroeder/silverstripe-framework/orm"
	_ "github.com/joernroeder/silverstripe-framework/orm/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB opens a fresh in-memory database per test.
func setupTestDB(t *testing.T) *orm.DB {
	t.Helper()

	db := orm.New()
	err := db.Connect(context.Background(), orm.Config{Type: "sqlite", Database: ":memory:"})
	require.NoError(t, err, "failed to open sqlite database")

	t.Cleanup(func() {
		conn, err := db.Conn()
		if err == nil {
			_ = conn.Close()
		}
	})
	return db
}

func memberSpec() orm.TableSpec {
	return orm.TableSpec{
		Name: "member",
		Fields: map[string]string{
			"Email":     "VARCHAR(255) NOT NULL",
			"FirstName": "VARCHAR(50)",
		},
		Indexes: map[string]*orm.IndexSpec{
			"Email": {Kind: orm.KindUnique},
		},
		AutoIncPK: true,
	}
}

func countRows(t *testing.T, db *orm.DB, table string) int64 {
	t.Helper()

	rows, err := db.Execute(context.Background(), `SELECT COUNT(*) AS n FROM "`+table+`"`, orm.SeverityFatal)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	require.True(t, rows.Next())
	n, ok := rows.Row()["n"].(int64)
	require.True(t, ok, "count column type: %T", rows.Row()["n"])
	return n
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("in-memory database", func(t *testing.T) {
		db := setupTestDB(t)
		assert.True(t, db.IsActive(ctx))
	})

	t.Run("missing database path", func(t *testing.T) {
		db := orm.New()
		err := db.Connect(ctx, orm.Config{Type: "sqlite"})
		assert.ErrorIs(t, err, orm.ErrConfiguration)
	})
}

func TestCreateDatabase(t *testing.T) {
	ctx := context.Background()
	d, err := orm.LookupDriver("sqlite")
	require.NoError(t, err)

	path := t.TempDir() + "/app.db"
	created, err := d.CreateDatabase(ctx, orm.Config{Type: "sqlite", Database: path})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = d.CreateDatabase(ctx, orm.Config{Type: "sqlite", Database: path})
	require.NoError(t, err)
	assert.False(t, created, "existing file must not report as newly created")
}

func TestRequireTable_Lifecycle(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))

	tables, err := db.TableList(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "member")

	fields, err := db.FieldList(ctx, "member")
	require.NoError(t, err)
	assert.Contains(t, fields, "id")
	assert.Contains(t, fields, "Email")
	assert.Contains(t, fields, "FirstName")
	assert.Contains(t, fields["id"], "AUTOINCREMENT")

	// Declared and introspected specs must already agree, otherwise every
	// later reconciliation would rewrite the column.
	conn, err := db.Conn()
	require.NoError(t, err)
	assert.Equal(t,
		conn.CanonicalFieldSpec("VARCHAR(255) NOT NULL"),
		conn.CanonicalFieldSpec(fields["Email"]))

	// Second pass converges without error and without schema drift.
	require.NoError(t, db.RequireTable(ctx, memberSpec()))
	after, err := db.FieldList(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, fields, after)
}

func TestRequireTable_GrowsExistingTable(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))
	require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
		{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'a@example.com'"}},
	}))

	grown := memberSpec()
	grown.Fields["Surname"] = "VARCHAR(50) DEFAULT 'unknown'"
	grown.Indexes["Names"] = &orm.IndexSpec{Columns: []string{"FirstName", "Surname"}}
	require.NoError(t, db.RequireTable(ctx, grown))

	fields, err := db.FieldList(ctx, "member")
	require.NoError(t, err)
	assert.Contains(t, fields, "Surname")
	assert.Equal(t, int64(1), countRows(t, db, "member"), "existing rows must survive")
}

func TestRequireField_AlterRebuildPreservesRows(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))
	require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
		{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'a@example.com'", "FirstName": "'Alice'"}},
		{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'b@example.com'", "FirstName": "'Bob'"}},
	}))

	// Widening the column forces the full table rebuild path.
	require.NoError(t, db.RequireField(ctx, "member", "FirstName", "VARCHAR(100)"))

	fields, err := db.FieldList(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, "VARCHAR(100)", fields["FirstName"])
	assert.Equal(t, int64(2), countRows(t, db, "member"))

	// The unique index must survive the rebuild. Close the rows before the
	// next write: on :memory: the open cursor holds the pool's only
	// connection.
	rows, err := db.Execute(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'ix_member_Email'`, orm.SeverityFatal)
	require.NoError(t, err)
	indexSurvived := rows.Next()
	require.NoError(t, rows.Close())
	assert.True(t, indexSurvived, "explicit index lost during rebuild")

	// Autoincrement state must survive too.
	require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
		{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'c@example.com'"}},
	}))
	id, err := db.GeneratedID(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}

func TestRequireIndex_Replace(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))

	conn, err := db.Conn()
	require.NoError(t, err)

	indexes, err := conn.IndexList(ctx, "member")
	require.NoError(t, err)
	require.Contains(t, indexes, "Email")
	assert.Equal(t, orm.KindUnique, indexes["Email"].Kind)

	// Demote unique to plain and widen the column list.
	require.NoError(t, db.RequireIndex(ctx, "member", "Email",
		&orm.IndexSpec{Columns: []string{"Email", "FirstName"}}))

	indexes, err = conn.IndexList(ctx, "member")
	require.NoError(t, err)
	require.Contains(t, indexes, "Email")
	assert.Equal(t, orm.KindIndex, indexes["Email"].Kind)
	assert.Equal(t, []string{"Email", "FirstName"}, indexes["Email"].Columns)

	// Remove it.
	require.NoError(t, db.RequireIndex(ctx, "member", "Email", nil))
	indexes, err = conn.IndexList(ctx, "member")
	require.NoError(t, err)
	assert.NotContains(t, indexes, "Email")
}

func TestRequireIndex_TableNameCasing(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))

	// Re-requiring the existing index under a different table casing must
	// converge as a no-op, not attempt a duplicate create.
	require.NoError(t, db.RequireIndex(ctx, "MEMBER", "Email",
		&orm.IndexSpec{Kind: orm.KindUnique}))

	conn, err := db.Conn()
	require.NoError(t, err)
	indexes, err := conn.IndexList(ctx, "MEMBER")
	require.NoError(t, err)
	require.Contains(t, indexes, "Email")
	assert.Equal(t, orm.KindUnique, indexes["Email"].Kind)
}

func TestDontRequireTable_PreservesData(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))
	require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
		{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'a@example.com'"}},
	}))

	require.NoError(t, db.DontRequireTable(ctx, "member"))

	tables, err := db.TableList(ctx)
	require.NoError(t, err)
	assert.NotContains(t, tables, "member")
	assert.Contains(t, tables, "_obsolete_member")
	assert.Equal(t, int64(1), countRows(t, db, "_obsolete_member"))

	// Retiring again is a no-op.
	require.NoError(t, db.DontRequireTable(ctx, "member"))
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("select returns rows", func(t *testing.T) {
		db := setupTestDB(t)
		rows, err := db.Execute(ctx, "SELECT 1 AS one, 'x' AS s", orm.SeverityFatal)
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()

		require.True(t, rows.Next())
		row := rows.Row()
		assert.Equal(t, int64(1), row["one"])
		assert.Equal(t, "x", row["s"])
		assert.False(t, rows.Next())
		assert.NoError(t, rows.Err())
	})

	t.Run("fatal severity surfaces syntax errors", func(t *testing.T) {
		db := setupTestDB(t)
		_, err := db.Execute(ctx, "SELEKT 1", orm.SeverityFatal)
		assert.ErrorIs(t, err, orm.ErrExecution)
		assert.Equal(t, "SELEKT 1", db.LastStatement())
	})

	t.Run("warn severity degrades to empty rows", func(t *testing.T) {
		db := setupTestDB(t)
		rows, err := db.Execute(ctx, "SELEKT 1", orm.SeverityWarn)
		require.NoError(t, err)
		assert.False(t, rows.Next())
	})

	t.Run("write statement reports affected rows", func(t *testing.T) {
		db := setupTestDB(t)
		require.NoError(t, db.RequireTable(ctx, memberSpec()))
		require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
			{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'a@example.com'"}},
			{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'b@example.com'"}},
		}))

		_, err := db.Execute(ctx, `UPDATE "member" SET "FirstName" = 'x'`, orm.SeverityFatal)
		require.NoError(t, err)
		assert.Equal(t, int64(2), db.AffectedRows())
	})
}

func TestManipulate(t *testing.T) {
	ctx := context.Background()

	t.Run("insert then update", func(t *testing.T) {
		db := setupTestDB(t)
		require.NoError(t, db.RequireTable(ctx, memberSpec()))

		require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
			{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'a@example.com'", "FirstName": "'Alice'"}},
			{Table: "member", Command: orm.CommandUpdate, Fields: map[string]string{"FirstName": "'Alicia'"}, Where: `"Email" = 'a@example.com'`},
		}))
		assert.Equal(t, int64(2), db.AffectedRows())

		rows, err := db.Execute(ctx, `SELECT "FirstName" AS fn FROM "member"`, orm.SeverityFatal)
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()
		require.True(t, rows.Next())
		assert.Equal(t, "Alicia", rows.Row()["fn"])
	})

	t.Run("update without where is rejected", func(t *testing.T) {
		db := setupTestDB(t)
		require.NoError(t, db.RequireTable(ctx, memberSpec()))

		err := db.Manipulate(ctx, orm.Manipulation{
			{Table: "member", Command: orm.CommandUpdate, Fields: map[string]string{"FirstName": "'x'"}},
		})
		assert.ErrorIs(t, err, orm.ErrExecution)
	})
}

func TestGeneratedID_NextID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))

	// Before any insert the prediction starts at 1.
	next, err := db.NextID(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)

	require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
		{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'a@example.com'"}},
	}))

	id, err := db.GeneratedID(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	next, err = db.NextID(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next)

	require.NoError(t, db.Manipulate(ctx, orm.Manipulation{
		{Table: "member", Command: orm.CommandInsert, Fields: map[string]string{"Email": "'b@example.com'"}},
	}))

	id, err = db.GeneratedID(ctx, "member")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestCheckAndRepairTable(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	require.NoError(t, db.RequireTable(ctx, memberSpec()))
	assert.True(t, db.CheckAndRepairTable(ctx, "member"))
}

func TestFieldList_MissingTable(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.FieldList(context.Background(), "ghost")
	assert.ErrorIs(t, err, orm.ErrNotFound)
}
