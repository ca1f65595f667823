package harness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGolden_PackSingleOrder(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/pack-single-order.yaml")
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, s))
}
