package clientdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/doorman-core/doorman/pkg/guard/guardtest"
	_ "github.com/mattn/go-sqlite3"
)

func TestClientStorage(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "doorman.db"))
	if err != nil {
		panic(err)
	}
	defer db.Close()

	cur, tgt, err := db.Version()
	if err != nil {
		panic(err)
	}
	if cur != 0 {
		panic("current version not 0")
	}
	if err := db.MigrateUp(context.Background(), tgt); err != nil {
		panic(err)
	}

	guardtest.TestClientStorage(t, db)
}
