package seed

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentworkforce/relaycollab/internal/collab"
)

func TestMemorySource(t *testing.T) {
	source := NewMemorySource()
	source.Put("room_1", "hello")
	text, found, err := source.Load(context.Background(), "room_1")
	if err != nil || !found || text != "hello" {
		t.Fatalf("expected seeded text, got %q found=%v err=%v", text, found, err)
	}
	if _, found, err := source.Load(context.Background(), "room_2"); err != nil || found {
		t.Fatalf("expected unknown room to be absent, got found=%v err=%v", found, err)
	}
	if _, _, err := source.Load(context.Background(), "../etc"); !errors.Is(err, collab.ErrInvalidRoom) {
		t.Fatalf("expected invalid room rejection, got %v", err)
	}
}

func TestFileSourceReadsRoomFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "room_1.txt"), []byte("from disk"), 0o644); err != nil {
		t.Fatalf("write seed file: %v", err)
	}
	source, err := BuildSourceFromDSN("file://" + dir)
	if err != nil {
		t.Fatalf("build file source: %v", err)
	}
	text, found, err := source.Load(context.Background(), "room_1")
	if err != nil || !found || text != "from disk" {
		t.Fatalf("expected file seed, got %q found=%v err=%v", text, found, err)
	}
	if _, found, err := source.Load(context.Background(), "room_2"); err != nil || found {
		t.Fatalf("missing file should be absent, got found=%v err=%v", found, err)
	}
	if _, _, err := source.Load(context.Background(), ".."); !errors.Is(err, collab.ErrInvalidRoom) {
		t.Fatalf("expected traversal to be rejected, got %v", err)
	}
}

func TestYAMLSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	body := "room_1: |\n  line one\n  line two\nroom_2: short\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	source, err := BuildSourceFromDSN("yaml://" + path)
	if err != nil {
		t.Fatalf("build yaml source: %v", err)
	}
	text, found, err := source.Load(context.Background(), "room_1")
	if err != nil || !found || text != "line one\nline two\n" {
		t.Fatalf("unexpected yaml seed %q found=%v err=%v", text, found, err)
	}
	text, _, _ = source.Load(context.Background(), "room_2")
	if text != "short" {
		t.Fatalf("expected short, got %q", text)
	}
}

func TestYAMLSourceRejectsBadRoomIDs(t *testing.T) {
	if _, err := parseYAMLSource([]byte("\"a/b\": text\n")); !errors.Is(err, collab.ErrInvalidRoom) {
		t.Fatalf("expected invalid room error, got %v", err)
	}
	if _, err := parseYAMLSource([]byte("- not a map\n")); err == nil {
		t.Fatalf("expected non-mapping yaml to fail")
	}
}

func TestSQLiteSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.db")
	source, err := BuildSourceFromDSN("sqlite://" + path + "?table=docs")
	if err != nil {
		t.Fatalf("build sqlite source: %v", err)
	}
	t.Cleanup(func() { _ = source.Close() })

	if _, found, err := source.Load(context.Background(), "room_1"); err != nil || found {
		t.Fatalf("expected empty table, got found=%v err=%v", found, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO "docs" (room_id, content) VALUES (?, ?)`, "room_1", "from sqlite"); err != nil {
		t.Fatalf("insert seed row: %v", err)
	}

	text, found, err := source.Load(context.Background(), "room_1")
	if err != nil || !found || text != "from sqlite" {
		t.Fatalf("expected sqlite seed, got %q found=%v err=%v", text, found, err)
	}
}

func TestSQLSourceRetriesFailedSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retry.db")
	source := newSQLSource("sqlite", path, "", "?")
	t.Cleanup(func() { _ = source.Close() })
	calls := 0
	source.openDB = func(driverName, dsn string) (*sql.DB, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("dial refused")
		}
		return sql.Open(driverName, dsn)
	}
	if _, _, err := source.Load(context.Background(), "room_1"); err == nil || !strings.Contains(err.Error(), "dial refused") {
		t.Fatalf("expected open failure, got %v", err)
	}
	if _, found, err := source.Load(context.Background(), "room_1"); err != nil || found {
		t.Fatalf("expected second load to set up the table, got found=%v err=%v", found, err)
	}
	if _, _, err := source.Load(context.Background(), "room_1"); err != nil {
		t.Fatalf("third load failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected two open attempts, got %d", calls)
	}
}

func TestSQLSourceSetupIgnoresCallerCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel.db")
	source, err := NewSQLiteSource(path, "")
	if err != nil {
		t.Fatalf("new sqlite source: %v", err)
	}
	t.Cleanup(func() { _ = source.Close() })

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := source.Load(cancelled, "room_1"); err == nil {
		t.Fatalf("expected load with a cancelled context to fail")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`INSERT INTO "relaycollab_documents" (room_id, content) VALUES (?, ?)`, "room_1", "still here"); err != nil {
		t.Fatalf("seed table was not created by the cancelled load: %v", err)
	}
	text, found, err := source.Load(context.Background(), "room_1")
	if err != nil || !found || text != "still here" {
		t.Fatalf("expected later load to succeed, got %q found=%v err=%v", text, found, err)
	}
}

func TestPostgresSourceStripsTableParameter(t *testing.T) {
	source, err := NewPostgresSource("postgres://user:pw@localhost:5432/app?sslmode=disable&table=seeds")
	if err != nil {
		t.Fatalf("new postgres source: %v", err)
	}
	if source.tableName != "seeds" {
		t.Fatalf("expected table seeds, got %q", source.tableName)
	}
	if strings.Contains(source.dsn, "table=") || !strings.Contains(source.dsn, "sslmode=disable") {
		t.Fatalf("unexpected dsn %q", source.dsn)
	}
}

func TestPostgresIntegrationSource(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("RELAYCOLLAB_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("RELAYCOLLAB_TEST_POSTGRES_DSN not set")
	}
	source, err := NewPostgresSource(dsn)
	if err != nil {
		t.Fatalf("new postgres source: %v", err)
	}
	source.tableName = "relaycollab_documents_it"
	t.Cleanup(func() {
		if source.db != nil {
			_, _ = source.db.Exec(`DROP TABLE IF EXISTS "relaycollab_documents_it"`)
		}
		_ = source.Close()
	})
	if _, found, err := source.Load(context.Background(), "room_1"); err != nil || found {
		t.Fatalf("expected empty table, got found=%v err=%v", found, err)
	}
	if _, err := source.db.Exec(`INSERT INTO "relaycollab_documents_it" (room_id, content) VALUES ($1, $2)`, "room_1", "from postgres"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	text, found, err := source.Load(context.Background(), "room_1")
	if err != nil || !found || text != "from postgres" {
		t.Fatalf("expected postgres seed, got %q found=%v err=%v", text, found, err)
	}
}

func TestRedisSourceKeyPrefix(t *testing.T) {
	source, err := BuildSourceFromDSN("redis://localhost:6379/2?prefix=notes:")
	if err != nil {
		t.Fatalf("build redis source: %v", err)
	}
	defer source.Close()
	rs, ok := source.(*RedisSource)
	if !ok {
		t.Fatalf("expected *RedisSource, got %T", source)
	}
	if rs.prefix != "notes:" {
		t.Fatalf("expected prefix notes:, got %q", rs.prefix)
	}
	if rs.client.Options().DB != 2 {
		t.Fatalf("expected db 2, got %d", rs.client.Options().DB)
	}

	fallback, err := NewRedisSource("redis://localhost:6379")
	if err != nil {
		t.Fatalf("build redis source: %v", err)
	}
	defer fallback.Close()
	if fallback.prefix != defaultRedisKeyPrefix {
		t.Fatalf("expected default prefix, got %q", fallback.prefix)
	}
}

func TestRedisIntegrationSource(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("RELAYCOLLAB_TEST_REDIS_URL"))
	if dsn == "" {
		t.Skip("RELAYCOLLAB_TEST_REDIS_URL not set")
	}
	source, err := NewRedisSource(dsn)
	if err != nil {
		t.Fatalf("new redis source: %v", err)
	}
	defer source.Close()
	ctx := context.Background()
	key := source.prefix + "room_it"
	if err := source.client.Set(ctx, key, "from redis", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	defer source.client.Del(ctx, key)
	text, found, err := source.Load(ctx, "room_it")
	if err != nil || !found || text != "from redis" {
		t.Fatalf("expected redis seed, got %q found=%v err=%v", text, found, err)
	}
}

func TestBuildSourceFromDSN(t *testing.T) {
	source, err := BuildSourceFromDSN("")
	if err != nil {
		t.Fatalf("empty dsn: %v", err)
	}
	if _, ok := source.(*MemorySource); !ok {
		t.Fatalf("expected memory source for empty dsn, got %T", source)
	}
	if _, err := BuildSourceFromDSN("ftp://seeds"); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported scheme error, got %v", err)
	}
	if _, err := BuildSourceFromDSN("yaml://" + filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing yaml file to fail")
	}
}

func TestRegisterSourceFactory(t *testing.T) {
	scheme := "seedtestcustom"
	custom := NewMemorySource()
	custom.Put("room_1", "custom")
	RegisterSourceFactory(scheme, func(dsn string) (Source, error) {
		return custom, nil
	})
	source, err := BuildSourceFromDSN(scheme + "://example")
	if err != nil {
		t.Fatalf("build source via registered factory failed: %v", err)
	}
	text, _, _ := source.Load(context.Background(), "room_1")
	if text != "custom" {
		t.Fatalf("expected registered factory source, got %q", text)
	}
}
