package postgres_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/joernroeder/silverstripe-framework/orm"
	_ "github.com/joernroeder/silverstripe-framework/orm/postgres"
)

var (
	testCfg     orm.Config
	testCfgOnce sync.Once
	testCleanup func()
)

func getRandomString(t *testing.T) string {
	t.Helper()
	n, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	assert.NoError(t, err, "random string")
	return fmt.Sprintf("test%x", n.Int64())
}

// getSharedTestConfig starts one postgres container for the whole package
// and returns connection settings pointing at it. Tests isolate themselves
// with unique table names instead of separate containers.
func getSharedTestConfig(t *testing.T) orm.Config {
	t.Helper()

	testCfgOnce.Do(func() {
		ctx := context.Background()

		pgContainer, err := pgcontainer.Run(ctx,
			"postgres:18-alpine",
			pgcontainer.WithDatabase("testdb"),
			pgcontainer.WithUsername("testuser"),
			pgcontainer.WithPassword("testpass"),
			pgcontainer.BasicWaitStrategies(),
		)
		if err != nil {
			t.Fatalf("failed to start postgres container: %v", err)
		}

		testCleanup = func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %s", err)
			}
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			testCleanup()
			t.Fatalf("failed to get container host: %v", err)
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			testCleanup()
			t.Fatalf("failed to get container port: %v", err)
		}

		testCfg = orm.Config{
			Type:     "postgres",
			Host:     host,
			Port:     port.Int(),
			User:     "testuser",
			Password: "testpass",
			Database: "testdb",
			Options:  map[string]string{"sslmode": "disable"},
		}
	})

	return testCfg
}

// setupTestDB connects a DB to the shared container and hands back a unique
// table name for the test to work with.
func setupTestDB(t *testing.T) (*orm.DB, string) {
	t.Helper()

	cfg := getSharedTestConfig(t)
	ctx := context.Background()

	db := orm.New()
	require.NoError(t, db.Connect(ctx, cfg), "failed to connect")

	table := fmt.Sprintf("member_%s", getRandomString(t))
	t.Cleanup(func() {
		_, _ = db.Execute(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table), orm.SeverityWarn)
		_, _ = db.Execute(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, orm.ObsoletePrefix+table), orm.SeverityWarn)
		if conn, err := db.Conn(); err == nil {
			_ = conn.Close()
		}
	})

	return db, table
}

func tableSpec(table string) orm.TableSpec {
	return orm.TableSpec{
		Name: table,
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
