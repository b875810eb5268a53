package capability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/tasklog/internal/capability"
	"github.com/mtlprog/tasklog/internal/domain"
)

func TestStaticResolver(t *testing.T) {
	r := capability.NewStaticResolver()
	ctx := context.Background()

	system, err := r.Resolve(ctx, capability.ActorSystem)
	require.NoError(t, err)
	assert.Len(t, system, 4)
	assert.True(t, system.Has("archive_task"))

	user, err := r.Resolve(ctx, capability.ActorUser)
	require.NoError(t, err)
	assert.Len(t, user, 3)
	assert.True(t, user.Has("submit_for_review"))
	assert.False(t, user.Has("archive_task"))

	stranger, err := r.Resolve(ctx, "unknown_actor")
	require.NoError(t, err)
	assert.Empty(t, stranger)
}

func TestStaticResolver_CoversEveryGuardedAction(t *testing.T) {
	r := capability.NewStaticResolver()
	system, err := r.Resolve(context.Background(), capability.ActorSystem)
	require.NoError(t, err)

	for _, action := range []domain.Action{
		domain.ActionSubmitForReview, domain.ActionStartProgress,
		domain.ActionCompleteTask, domain.ActionArchiveTask,
	} {
		c, ok := domain.RequiredCapability(action)
		require.True(t, ok)
		assert.True(t, system.Has(c), "SYSTEM should hold %s", c)
	}
}
