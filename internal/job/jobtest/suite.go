// Package jobtest holds the behaviour every job.Store must share.
package jobtest

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/gally-search/internal/job"
)

// RunStoreSuite runs the store contract against fresh stores from newStore.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) job.Store) {
	t.Run("root is unique per key", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		first, created, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, job.StatusRunning, first.Status)
		assert.True(t, first.IsRoot())

		again, created, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		other, created, err := s.CreateRoot(ctx, "reindex", "msg-2")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("root finishes once when last child completes", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		root, _, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		c1, err := s.CreateChild(ctx, root.ID, "chunk")
		require.NoError(t, err)
		c2, err := s.CreateChild(ctx, root.ID, "chunk")
		require.NoError(t, err)
		assert.Equal(t, root.ID, c1.RootID)
		assert.Equal(t, job.StatusNew, c1.Status)

		done, err := s.Seal(ctx, root.ID)
		require.NoError(t, err)
		assert.False(t, done)

		require.NoError(t, s.Start(ctx, c1.ID))
		done, err = s.CompleteChild(ctx, c1.ID)
		require.NoError(t, err)
		assert.False(t, done)

		done, err = s.CompleteChild(ctx, c1.ID)
		require.NoError(t, err)
		assert.False(t, done, "completing twice must not count twice")

		done, err = s.CompleteChild(ctx, c2.ID)
		require.NoError(t, err)
		assert.True(t, done)

		done, err = s.CompleteChild(ctx, c2.ID)
		require.NoError(t, err)
		assert.False(t, done)

		got, err := s.Get(ctx, root.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusSuccess, got.Status)
		assert.True(t, got.Sealed)
		assert.Equal(t, 0, got.Pending)
	})

	t.Run("children completing before seal finish the root at seal", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		root, _, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		c1, err := s.CreateChild(ctx, root.ID, "chunk")
		require.NoError(t, err)

		done, err := s.CompleteChild(ctx, c1.ID)
		require.NoError(t, err)
		assert.False(t, done)

		done, err = s.Seal(ctx, root.ID)
		require.NoError(t, err)
		assert.True(t, done)

		done, err = s.Seal(ctx, root.ID)
		require.NoError(t, err)
		assert.False(t, done)
	})

	t.Run("sealed root rejects children", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		root, _, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		_, err = s.Seal(ctx, root.ID)
		require.NoError(t, err)

		_, err = s.CreateChild(ctx, root.ID, "chunk")
		assert.Error(t, err)
	})

	t.Run("failed child stays pending and can succeed later", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		root, _, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		c1, err := s.CreateChild(ctx, root.ID, "chunk")
		require.NoError(t, err)
		_, err = s.Seal(ctx, root.ID)
		require.NoError(t, err)

		require.NoError(t, s.Start(ctx, c1.ID))
		require.NoError(t, s.Fail(ctx, c1.ID))
		got, err := s.Get(ctx, c1.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, got.Status)

		r, err := s.Get(ctx, root.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, r.Pending)
		assert.Equal(t, job.StatusRunning, r.Status)

		require.NoError(t, s.Start(ctx, c1.ID))
		done, err := s.CompleteChild(ctx, c1.ID)
		require.NoError(t, err)
		assert.True(t, done)

		require.NoError(t, s.Fail(ctx, c1.ID))
		got, err = s.Get(ctx, c1.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusSuccess, got.Status, "finished jobs keep their status")
	})

	t.Run("abandon releases the unique key", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		root, _, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		require.NoError(t, s.Abandon(ctx, root.ID))

		got, err := s.Get(ctx, root.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, got.Status)

		again, created, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, root.ID, again.ID)
	})

	t.Run("dependents keep their order", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		root, _, err := s.CreateRoot(ctx, "reindex", "msg-1")
		require.NoError(t, err)

		deps := []job.Dependent{
			{Topic: "finish", Body: json.RawMessage(`{"root_job_id":1}`)},
			{Topic: "notify", Body: json.RawMessage(`"done"`)},
		}
		require.NoError(t, s.SaveDependents(ctx, root.ID, deps))

		got, err := s.Dependents(ctx, root.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "finish", got[0].Topic)
		assert.JSONEq(t, `{"root_job_id":1}`, string(got[0].Body))
		assert.Equal(t, "notify", got[1].Topic)
	})

	t.Run("unknown job", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), 424242)
		assert.ErrorIs(t, err, job.ErrNotFound)
	})
}
