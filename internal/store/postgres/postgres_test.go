package postgres

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", User: "mp", Password: "p@ss/word", Database: "marginpool"})
	want := "postgres://mp:p%40ss%2Fword@db:5432/marginpool?sslmode=disable"
	if got != want {
		t.Fatalf("DSN = %s, want %s", got, want)
	}
	if got := DSN(ClientConfig{DSN: " postgres://x ", Host: "ignored"}); got != "postgres://x" {
		t.Fatalf("explicit DSN = %s", got)
	}
}

func TestSelectQuery(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := domain.ListOpts{Limit: 50, Offset: 100, Since: &since}

	query, args := newSelect("SELECT seq FROM events").
		where("seq > ?", int64(7)).
		where("name = ?", "swap").
		window("occurred_at", opts).
		build("seq ASC", opts)

	want := "SELECT seq FROM events WHERE seq > $1 AND name = $2 AND occurred_at >= $3 ORDER BY seq ASC LIMIT $4 OFFSET $5"
	if query != want {
		t.Fatalf("query = %s", query)
	}
	if !reflect.DeepEqual(args, []any{int64(7), "swap", since, 50, 100}) {
		t.Fatalf("args = %v", args)
	}

	query, args = newSelect("SELECT id FROM audit_log").build("id DESC", domain.ListOpts{})
	if query != "SELECT id FROM audit_log ORDER BY id DESC" || len(args) != 0 {
		t.Fatalf("bare query = %s %v", query, args)
	}
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("migrations = %v", names)
	}
	for _, n := range names {
		if !strings.HasSuffix(n, ".sql") {
			t.Fatalf("non-sql migration %s", n)
		}
	}
}
