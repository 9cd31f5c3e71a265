package temporal

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"

	"github.com/flowkit/world/queue"
)

func TestDefaultRetryPolicy(t *testing.T) {
	r := DefaultRetryPolicy()
	require.EqualValues(t, 3, r.MaximumAttempts)
	require.Greater(t, r.MaximumInterval, r.InitialInterval)
}

func TestActivityNameForPrefixIsStablePerPrefix(t *testing.T) {
	require.Equal(t, "world_queue_activity_"+queue.StepPrefix, activityNameForPrefix(queue.StepPrefix))
	require.NotEqual(t, activityNameForPrefix(queue.StepPrefix), activityNameForPrefix(queue.WorkflowPrefix))
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestNewRequiresTaskQueue(t *testing.T) {
	_, err := New(Options{Client: struct{ client.Client }{}})
	require.Error(t, err)
}
