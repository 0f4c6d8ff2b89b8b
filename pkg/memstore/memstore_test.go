package memstore_test

import (
	"testing"

	"github.com/doorman-core/doorman/pkg/guard/guardtest"
	"github.com/doorman-core/doorman/pkg/memstore"
)

func TestClientStorage(t *testing.T) {
	guardtest.TestClientStorage(t, memstore.NewClientStore())
}
