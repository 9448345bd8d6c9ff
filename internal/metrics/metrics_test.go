package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(refreshes.WithLabelValues("done"))
	IncRefresh("done")
	assert.Equal(t, before+1, testutil.ToFloat64(refreshes.WithLabelValues("done")))

	beforeJoined := testutil.ToFloat64(joined)
	IncJoined()
	assert.Equal(t, beforeJoined+1, testutil.ToFloat64(joined))

	beforeCmd := testutil.ToFloat64(commands.WithLabelValues("git", "exit_0"))
	IncCommand("git", "exit_0")
	assert.Equal(t, beforeCmd+1, testutil.ToFloat64(commands.WithLabelValues("git", "exit_0")))
}

func TestObserveStage(t *testing.T) {
	ObserveStage("fetch", 20*time.Millisecond, nil)
	ObserveStage("fetch", time.Second, errors.New("boom"))
	assert.Equal(t, 2, testutil.CollectAndCount(stageLatency, "apidocs_pipeline_stage_duration_seconds"))
}
