package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/HSouheill/barrim_network/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAssignPosition_BreadthFirstOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sponsor := env.addRoot(t)

	var placed []*models.NetworkPosition
	for i := 0; i < 5; i++ {
		id := env.addMember(t, &sponsor)
		pos, err := env.tree.AssignPosition(ctx, id, sponsor)
		require.NoError(t, err)
		placed = append(placed, pos)
	}

	root, err := env.store.GetRoot(ctx, models.StructureKey{OwnerMemberID: sponsor, StructureNumber: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.Equal(t, 1, placed[i].Level)
		assert.Equal(t, i, placed[i].SlotIndex)
		require.NotNil(t, placed[i].ParentPositionID)
		assert.Equal(t, root.ID, *placed[i].ParentPositionID)
	}
	for i := 3; i < 5; i++ {
		assert.Equal(t, 2, placed[i].Level)
		assert.Equal(t, i-3, placed[i].SlotIndex)
		assert.Equal(t, placed[0].ID, *placed[i].ParentPositionID, "level 2 fills under the first level 1 seat")
	}
	for _, p := range placed {
		assert.Equal(t, sponsor, p.OwnerMemberID)
		assert.Equal(t, 1, p.StructureNumber)
	}

	member := env.member(t, placed[4].MemberID)
	require.NotNil(t, member.NetworkPositionID)
	assert.Equal(t, placed[4].ID, *member.NetworkPositionID)
}

func TestAssignPosition_Rejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sponsor := env.addRoot(t)

	t.Run("self sponsorship", func(t *testing.T) {
		_, err := env.tree.AssignPosition(ctx, sponsor, sponsor)
		assert.ErrorIs(t, err, ErrSelfSponsor)
	})

	t.Run("already placed", func(t *testing.T) {
		id := env.addMember(t, &sponsor)
		_, err := env.tree.AssignPosition(ctx, id, sponsor)
		require.NoError(t, err)
		_, err = env.tree.AssignPosition(ctx, id, sponsor)
		assert.ErrorIs(t, err, ErrAlreadyPlaced)
	})

	t.Run("sponsor not placed", func(t *testing.T) {
		unplaced := env.addMember(t, nil)
		id := env.addMember(t, &unplaced)
		_, err := env.tree.AssignPosition(ctx, id, unplaced)
		assert.ErrorIs(t, err, ErrSponsorNotPlaced)
	})

	t.Run("unknown member", func(t *testing.T) {
		_, err := env.tree.AssignPosition(ctx, primitive.NewObjectID(), sponsor)
		assert.ErrorIs(t, err, ErrMemberNotFound)
	})
}

func TestAssignPosition_OverflowNeedsUnlockedStructure(t *testing.T) {
	policy := newTestEnv(t).policy
	policy.MaxDepth = 2
	policy.FanOut = 2
	require.Equal(t, 6, policy.StructureCapacity())

	env := newTestEnvWithPolicy(t, policy)
	ctx := context.Background()
	sponsor := env.addRoot(t)

	for i := 0; i < 6; i++ {
		id := env.addMember(t, &sponsor)
		_, err := env.tree.AssignPosition(ctx, id, sponsor)
		require.NoError(t, err)
	}

	overflow := env.addMember(t, &sponsor)
	_, err := env.tree.AssignPosition(ctx, overflow, sponsor)
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.False(t, env.member(t, overflow).IsPlaced())

	_, err = env.store.UpdateQualification(ctx, sponsor, 6, 2, 0)
	require.NoError(t, err)

	pos, err := env.tree.AssignPosition(ctx, overflow, sponsor)
	require.NoError(t, err)
	assert.Equal(t, 2, pos.StructureNumber)
	assert.Equal(t, 1, pos.Level)
	assert.Equal(t, 0, pos.SlotIndex)
}

func TestGetUpline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sponsor := env.addRoot(t)

	var placed []*models.NetworkPosition
	for i := 0; i < 4; i++ {
		id := env.addMember(t, &sponsor)
		pos, err := env.tree.AssignPosition(ctx, id, sponsor)
		require.NoError(t, err)
		placed = append(placed, pos)
	}
	root, err := env.store.GetRoot(ctx, models.StructureKey{OwnerMemberID: sponsor, StructureNumber: 1})
	require.NoError(t, err)

	upline, err := env.tree.GetUpline(ctx, placed[3].ID)
	require.NoError(t, err)
	require.Len(t, upline, 2)
	assert.Equal(t, placed[0].ID, upline[0].ID)
	assert.Equal(t, root.ID, upline[1].ID)

	rootUpline, err := env.tree.GetUpline(ctx, root.ID)
	require.NoError(t, err)
	assert.Empty(t, rootUpline)
}

func TestGetUpline_DetectsCorruption(t *testing.T) {
	t.Run("cycle", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		sponsor := env.addRoot(t)

		var placed []*models.NetworkPosition
		for i := 0; i < 4; i++ {
			id := env.addMember(t, &sponsor)
			pos, err := env.tree.AssignPosition(ctx, id, sponsor)
			require.NoError(t, err)
			placed = append(placed, pos)
		}
		root, err := env.store.GetRoot(ctx, models.StructureKey{OwnerMemberID: sponsor, StructureNumber: 1})
		require.NoError(t, err)

		env.store.CorruptParent(root.ID, placed[0].ID)

		_, err = env.tree.GetUpline(ctx, placed[3].ID)
		assert.ErrorIs(t, err, ErrIntegrityViolation)
	})

	t.Run("dangling parent", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		sponsor := env.addRoot(t)
		id := env.addMember(t, &sponsor)
		pos, err := env.tree.AssignPosition(ctx, id, sponsor)
		require.NoError(t, err)

		env.store.CorruptParent(pos.ID, primitive.NewObjectID())

		_, err = env.tree.GetUpline(ctx, pos.ID)
		assert.ErrorIs(t, err, ErrIntegrityViolation)
	})
}

func TestGetDownlineCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sponsor := env.addRoot(t)
	for i := 0; i < 5; i++ {
		id := env.addMember(t, &sponsor)
		_, err := env.tree.AssignPosition(ctx, id, sponsor)
		require.NoError(t, err)
	}
	root, err := env.store.GetRoot(ctx, models.StructureKey{OwnerMemberID: sponsor, StructureNumber: 1})
	require.NoError(t, err)

	counts, err := env.tree.GetDownlineCounts(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 3, 2: 2}, counts)
}

func TestAssignPosition_ConcurrentPlacementsGetDistinctSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sponsor := env.addRoot(t)

	const n = 20
	ids := make([]primitive.ObjectID, n)
	for i := range ids {
		ids[i] = env.addMember(t, &sponsor)
	}

	var wg sync.WaitGroup
	positions := make([]*models.NetworkPosition, n)
	errs := make([]error, n)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			positions[i], errs[i] = env.tree.AssignPosition(ctx, ids[i], sponsor)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	perLevel := make(map[int]int)
	for i := range ids {
		require.NoError(t, errs[i])
		p := positions[i]
		key := fmt.Sprintf("%s/%d", p.ParentPositionID.Hex(), p.SlotIndex)
		assert.False(t, seen[key], "slot %s assigned twice", key)
		seen[key] = true
		perLevel[p.Level]++
	}
	assert.Equal(t, map[int]int{1: 3, 2: 9, 3: 8}, perLevel)

	placed, err := env.store.CountPlaced(ctx, models.StructureKey{OwnerMemberID: sponsor, StructureNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, n, placed)
}
