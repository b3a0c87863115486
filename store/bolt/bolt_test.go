package bolt_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/bolt"
	"github.com/Delmoro12/Elevalucro-BPO-sub001/store/storetest"
)

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		s, err := bolt.New(filepath.Join(t.TempDir(), "obligations.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
