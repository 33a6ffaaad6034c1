package module

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadUnknownPathFails(t *testing.T) {
	r := NewRegistry()
	err := r.Load("/nonexistent/path.so", "whatever")
	require.Error(t, err)
}

func TestConfigUnknownModuleFails(t *testing.T) {
	r := NewRegistry()
	err := r.Config("missing", "k", "v")
	require.Error(t, err)
}

func TestStartStopOrderEmpty(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Start(nil))
	r.Stop() // must not panic with no modules loaded
}
