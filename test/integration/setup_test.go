package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/medtrack/internal/platform/auth"
	"github.com/ehr/medtrack/internal/platform/db"
	"github.com/ehr/medtrack/migrations"
)

// databaseURLEnv names the Postgres the integration tests run against. The
// tests skip when it is unset.
const databaseURLEnv = "TEST_DATABASE_URL"

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool    *pgxpool.Pool
	ConnStr string
}

// globalDB is the package-level test database, initialized once in TestMain.
// It stays nil when no database is configured.
var globalDB *testDB

func TestMain(m *testing.M) {
	connStr := os.Getenv(databaseURLEnv)
	if connStr == "" {
		os.Exit(m.Run())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 4})
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to %s: %v\n", databaseURLEnv, err)
		os.Exit(1)
	}

	globalDB = &testDB{Pool: pool, ConnStr: connStr}
	code := m.Run()
	pool.Close()
	os.Exit(code)
}

// requireDB skips the test when no database is configured.
func requireDB(t *testing.T) {
	t.Helper()
	if globalDB == nil {
		t.Skipf("%s not set; skipping Postgres integration test", databaseURLEnv)
	}
}

// newSchemaPool creates a throwaway schema, applies the embedded migrations to
// it and returns a pool whose connections use it. The schema is dropped when
// the test ends.
func newSchemaPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	requireDB(t)

	schema := "it_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	if _, err := globalDB.Pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		t.Fatalf("create schema %s: %v", schema, err)
	}
	t.Cleanup(func() {
		_, err := globalDB.Pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
		if err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	cfg, err := pgxpool.ParseConfig(globalDB.ConnStr)
	if err != nil {
		t.Fatalf("parse %s: %v", databaseURLEnv, err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool for %s: %v", schema, err)
	}
	t.Cleanup(pool.Close)

	applied, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if applied == 0 {
		t.Fatal("expected at least one migration to be applied")
	}
	return pool
}

// asUser returns ctx authenticated as subject.
func asUser(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, auth.UserIDKey, subject)
}

// seed holds the ids of the rows inserted by seedPatient.
type seed struct {
	PatientID    int64
	OtherPatient int64
	Older, Newer int64
	TakenItem    int64
	PendingItems []int64
	OtherItem    int64
}

func insertID(t *testing.T, ctx context.Context, pool *pgxpool.Pool, sql string, args ...interface{}) int64 {
	t.Helper()
	var id int64
	if err := pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		t.Fatalf("seed %q: %v", strings.Fields(sql)[2], err)
	}
	return id
}

// seedPatient inserts one patient ("user-1", DNI 12345678) with two
// prescriptions and a second patient with one item of their own.
//
//	older (2024-04-20): item taken, one taken dose
//	newer (2024-05-01): two pending items; the first has doses inserted out of order
func seedPatient(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seed {
	t.Helper()
	var s seed

	s.PatientID = insertID(t, ctx, pool, `INSERT INTO patient (dni, user_subject, full_name, birth_date, gender)
		VALUES ('12345678', 'user-1', 'Juan Soto', '1980-02-03', 'M') RETURNING id`)
	s.OtherPatient = insertID(t, ctx, pool, `INSERT INTO patient (dni, user_subject, full_name)
		VALUES ('87654321', 'user-2', 'Rosa Díaz') RETURNING id`)
	prof := insertID(t, ctx, pool, `INSERT INTO professional (first_names, last_names)
		VALUES ('Ana', 'Pérez') RETURNING id`)
	amox := insertID(t, ctx, pool, `INSERT INTO medication (description, unit)
		VALUES ('Amoxicilina 500mg', 'tableta') RETURNING id`)
	para := insertID(t, ctx, pool, `INSERT INTO medication (description, unit)
		VALUES ('Paracetamol 1g', 'tableta') RETURNING id`)

	s.Older = insertID(t, ctx, pool, `INSERT INTO prescription (number, patient_id, professional_id, issued_at)
		VALUES ('R-1', $1, $2, '2024-04-20T10:00:00Z') RETURNING id`, s.PatientID, prof)
	s.Newer = insertID(t, ctx, pool, `INSERT INTO prescription (number, patient_id, professional_id, issued_at)
		VALUES ('R-2', $1, $2, '2024-05-01T09:00:00Z') RETURNING id`, s.PatientID, prof)

	s.TakenItem = insertID(t, ctx, pool, `INSERT INTO prescription_item (prescription_id, medication_id, requested_qty, taken, taken_at)
		VALUES ($1, $2, 10, TRUE, '2024-04-20T12:00:00Z') RETURNING id`, s.Older, para)
	insertID(t, ctx, pool, `INSERT INTO dose_event (item_id, scheduled_at, taken, taken_at)
		VALUES ($1, '2024-04-20T12:00:00Z', TRUE, '2024-04-20T12:00:00Z') RETURNING id`, s.TakenItem)

	first := insertID(t, ctx, pool, `INSERT INTO prescription_item (prescription_id, medication_id, requested_qty, dispensed_qty, diagnosis)
		VALUES ($1, $2, 21, 21, 'Faringitis') RETURNING id`, s.Newer, amox)
	second := insertID(t, ctx, pool, `INSERT INTO prescription_item (prescription_id, medication_id, requested_qty)
		VALUES ($1, $2, 6) RETURNING id`, s.Newer, para)
	s.PendingItems = []int64{first, second}
	for _, hour := range []int{20, 8, 14} {
		at := time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC)
		insertID(t, ctx, pool, `INSERT INTO dose_event (item_id, scheduled_at)
			VALUES ($1, $2) RETURNING id`, first, at)
	}
	insertID(t, ctx, pool, `INSERT INTO dose_event (item_id, scheduled_at)
		VALUES ($1, '2024-05-01T08:00:00Z') RETURNING id`, second)

	other := insertID(t, ctx, pool, `INSERT INTO prescription (number, patient_id, issued_at)
		VALUES ('R-9', $1, '2024-05-02T09:00:00Z') RETURNING id`, s.OtherPatient)
	s.OtherItem = insertID(t, ctx, pool, `INSERT INTO prescription_item (prescription_id, medication_id, requested_qty)
		VALUES ($1, $2, 1) RETURNING id`, other, amox)

	return s
}
