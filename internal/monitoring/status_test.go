package monitoring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeKeepsWorseLevel(t *testing.T) {
	re := require.New(t)
	merged := OKStatus().Merge(WarningStatus("degraded")).Merge(CriticalStatus("dead"))
	re.Equal(Critical, merged.Level())
	re.Equal([]string{"degraded", "dead"}, merged.Messages())
}

func TestMergeOrderDoesNotDowngrade(t *testing.T) {
	re := require.New(t)
	merged := CriticalStatus("dead").Merge(OKStatus())
	re.Equal(Critical, merged.Level())
}

func TestLevelString(t *testing.T) {
	re := require.New(t)
	re.Equal("OK", OK.String())
	re.Equal("WARNING", Warning.String())
	re.Equal("CRITICAL", Critical.String())
}
