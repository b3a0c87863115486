package store_test

import (
	"testing"

	memstore "github.com/Delmoro12/Elevalucro-BPO-sub001/recurrence/store"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return memstore.NewMemory()
	})
}
