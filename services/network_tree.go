package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/HSouheill/barrim_network/config"
	"github.com/HSouheill/barrim_network/logging"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/monitoring"
	"github.com/HSouheill/barrim_network/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

var errStructureFull = errors.New("structure full")

// NetworkTree assigns positions and walks the structure trees.
// Trees are navigated only through store lookups by id.
type NetworkTree struct {
	members   repositories.MemberStore
	positions repositories.PositionStore
	locker    Locker
	policy    config.NetworkPolicy
	attempts  int
	logger    *zap.Logger
}

// NewNetworkTree creates the placement engine. A nil locker falls back to an in-process lock.
func NewNetworkTree(members repositories.MemberStore, positions repositories.PositionStore, locker Locker, policy config.NetworkPolicy, logger *zap.Logger) *NetworkTree {
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &NetworkTree{
		members:   members,
		positions: positions,
		locker:    locker,
		policy:    policy,
		attempts:  5,
		logger:    logging.Named(logger, "network-tree"),
	}
}

// WithPlacementAttempts bounds how often a lost slot race is retried
func (t *NetworkTree) WithPlacementAttempts(n int) *NetworkTree {
	if n > 0 {
		t.attempts = n
	}
	return t
}

// AssignPosition places a newly activated member in the first free slot of the
// sponsor's structures, breadth-first, structure 1 first.
func (t *NetworkTree) AssignPosition(ctx context.Context, newMemberID, sponsorID primitive.ObjectID) (*models.NetworkPosition, error) {
	if newMemberID == sponsorID {
		return nil, ErrSelfSponsor
	}

	unlockMember, err := t.locker.Lock(ctx, "member:"+newMemberID.Hex())
	if err != nil {
		return nil, err
	}
	defer unlockMember()

	// every placement in the sponsor's structures goes through this lock
	unlockSubtree, err := t.locker.Lock(ctx, "subtree:"+sponsorID.Hex())
	if err != nil {
		return nil, err
	}
	defer unlockSubtree()

	member, err := t.members.GetMember(ctx, newMemberID)
	if err != nil {
		return nil, memberError(err, newMemberID)
	}
	if member.IsPlaced() {
		return nil, ErrAlreadyPlaced
	}
	sponsor, err := t.members.GetMember(ctx, sponsorID)
	if err != nil {
		return nil, memberError(err, sponsorID)
	}
	if !sponsor.IsPlaced() {
		return nil, ErrSponsorNotPlaced
	}

	capacity := t.policy.StructureCapacity()
	for s := 1; s <= t.policy.MaxStructures; s++ {
		if s > 1 && sponsor.UnlockedStructureCount < s {
			break
		}
		key := models.StructureKey{OwnerMemberID: sponsorID, StructureNumber: s}
		placed, err := t.positions.CountPlaced(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to count structure %d: %w", s, err)
		}
		if placed >= capacity {
			continue
		}

		position, err := t.claimSlot(ctx, key, newMemberID)
		if errors.Is(err, errStructureFull) {
			continue
		}
		if err != nil {
			monitoring.PlacementsTotal.WithLabelValues(strconv.Itoa(s), "error").Inc()
			return nil, err
		}

		if err := t.members.SetNetworkPosition(ctx, newMemberID, position.ID); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return nil, ErrAlreadyPlaced
			}
			return nil, fmt.Errorf("failed to record position on member: %w", err)
		}

		monitoring.PlacementsTotal.WithLabelValues(strconv.Itoa(s), "placed").Inc()
		t.logger.Info("member placed",
			zap.String("member_id", newMemberID.Hex()),
			zap.String("sponsor_id", sponsorID.Hex()),
			zap.Int("structure", s),
			zap.Int("level", position.Level),
			zap.Int("slot", position.SlotIndex),
		)
		return position, nil
	}

	monitoring.PlacementsTotal.WithLabelValues("none", "capacity_exceeded").Inc()
	return nil, fmt.Errorf("%w: sponsor %s has no free slot in its unlocked structures", ErrCapacityExceeded, sponsorID.Hex())
}

// PlaceRootMember gives a member without sponsor the root of its own first structure
func (t *NetworkTree) PlaceRootMember(ctx context.Context, memberID primitive.ObjectID) (*models.NetworkPosition, error) {
	unlock, err := t.locker.Lock(ctx, "member:"+memberID.Hex())
	if err != nil {
		return nil, err
	}
	defer unlock()

	member, err := t.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, memberError(err, memberID)
	}
	if member.IsPlaced() {
		return nil, ErrAlreadyPlaced
	}

	root, err := t.EnsureRoot(ctx, models.StructureKey{OwnerMemberID: memberID, StructureNumber: 1})
	if err != nil {
		return nil, err
	}
	if err := t.members.SetNetworkPosition(ctx, memberID, root.ID); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, ErrAlreadyPlaced
		}
		return nil, err
	}
	return root, nil
}

// EnsureRoot returns the root of a structure, creating it on first use
func (t *NetworkTree) EnsureRoot(ctx context.Context, key models.StructureKey) (*models.NetworkPosition, error) {
	root, err := t.positions.GetRoot(ctx, key)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	root = &models.NetworkPosition{
		OwnerMemberID:   key.OwnerMemberID,
		MemberID:        key.OwnerMemberID,
		Level:           0,
		SlotIndex:       0,
		StructureNumber: key.StructureNumber,
		CreatedAt:       time.Now(),
	}
	if err := t.positions.InsertPosition(ctx, root); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return t.positions.GetRoot(ctx, key)
		}
		return nil, fmt.Errorf("failed to create structure root: %w", err)
	}
	return root, nil
}

func (t *NetworkTree) claimSlot(ctx context.Context, key models.StructureKey, memberID primitive.ObjectID) (*models.NetworkPosition, error) {
	root, err := t.EnsureRoot(ctx, key)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < t.attempts; attempt++ {
		parent, slot, err := t.findFreeSlot(ctx, root)
		if err != nil {
			return nil, err
		}

		parentID := parent.ID
		position := &models.NetworkPosition{
			OwnerMemberID:    key.OwnerMemberID,
			MemberID:         memberID,
			ParentPositionID: &parentID,
			Level:            parent.Level + 1,
			SlotIndex:        slot,
			StructureNumber:  key.StructureNumber,
			CreatedAt:        time.Now(),
		}
		err = t.positions.InsertPosition(ctx, position)
		if err == nil {
			return position, nil
		}
		if !errors.Is(err, repositories.ErrDuplicate) {
			return nil, fmt.Errorf("failed to claim slot: %w", err)
		}
		t.logger.Debug("slot claim lost, retrying",
			zap.String("parent_id", parentID.Hex()),
			zap.Int("slot", slot),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, fmt.Errorf("failed to claim a slot after %d attempts: %w", t.attempts, repositories.ErrConflict)
}

// findFreeSlot walks the structure breadth-first and returns the first parent with an open slot
func (t *NetworkTree) findFreeSlot(ctx context.Context, root *models.NetworkPosition) (*models.NetworkPosition, int, error) {
	visited := map[primitive.ObjectID]bool{root.ID: true}
	queue := []*models.NetworkPosition{root}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.Level >= t.policy.MaxDepth {
			continue
		}

		children, err := t.positions.ListChildren(ctx, node.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list children: %w", err)
		}
		occupied := make(map[int]bool, len(children))
		for i := range children {
			child := &children[i]
			if err := t.checkChild(node, child, visited); err != nil {
				return nil, 0, err
			}
			occupied[child.SlotIndex] = true
		}
		for slot := 0; slot < t.policy.FanOut; slot++ {
			if !occupied[slot] {
				return node, slot, nil
			}
		}
		for i := range children {
			queue = append(queue, &children[i])
		}
	}
	return nil, 0, errStructureFull
}

func (t *NetworkTree) checkChild(parent, child *models.NetworkPosition, visited map[primitive.ObjectID]bool) error {
	if visited[child.ID] {
		return fmt.Errorf("%w: position %s reached twice", ErrIntegrityViolation, child.ID.Hex())
	}
	visited[child.ID] = true
	if child.Level != parent.Level+1 {
		return fmt.Errorf("%w: position %s has level %d under level %d", ErrIntegrityViolation, child.ID.Hex(), child.Level, parent.Level)
	}
	if child.SlotIndex < 0 || child.SlotIndex >= t.policy.FanOut {
		return fmt.Errorf("%w: position %s has slot %d", ErrIntegrityViolation, child.ID.Hex(), child.SlotIndex)
	}
	return nil
}

// GetUpline returns the ancestors of a position, nearest first and root last
func (t *NetworkTree) GetUpline(ctx context.Context, positionID primitive.ObjectID) ([]models.NetworkPosition, error) {
	current, err := t.positions.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	visited := map[primitive.ObjectID]bool{current.ID: true}
	upline := make([]models.NetworkPosition, 0, t.policy.MaxDepth)

	for current.ParentPositionID != nil {
		parentID := *current.ParentPositionID
		if visited[parentID] {
			t.logger.Error("cycle in parent chain", zap.String("position_id", positionID.Hex()), zap.String("repeated_id", parentID.Hex()))
			return nil, fmt.Errorf("%w: cycle at position %s", ErrIntegrityViolation, parentID.Hex())
		}
		if len(upline) >= t.policy.MaxDepth {
			return nil, fmt.Errorf("%w: upline of %s deeper than %d", ErrIntegrityViolation, positionID.Hex(), t.policy.MaxDepth)
		}
		visited[parentID] = true

		parent, err := t.positions.GetPosition(ctx, parentID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: dangling parent %s", ErrIntegrityViolation, parentID.Hex())
		}
		if err != nil {
			return nil, err
		}
		if parent.Level != current.Level-1 ||
			parent.OwnerMemberID != current.OwnerMemberID ||
			parent.StructureNumber != current.StructureNumber {
			return nil, fmt.Errorf("%w: position %s does not chain to parent %s", ErrIntegrityViolation, current.ID.Hex(), parent.ID.Hex())
		}

		upline = append(upline, *parent)
		current = parent
	}
	return upline, nil
}

// GetDownlineCounts counts descendants of a position per level of its structure
func (t *NetworkTree) GetDownlineCounts(ctx context.Context, positionID primitive.ObjectID) (map[int]int, error) {
	start, err := t.positions.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}

	counts := make(map[int]int)
	visited := map[primitive.ObjectID]bool{start.ID: true}
	queue := []*models.NetworkPosition{start}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.Level >= t.policy.MaxDepth {
			continue
		}
		children, err := t.positions.ListChildren(ctx, node.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list children: %w", err)
		}
		for i := range children {
			child := &children[i]
			if err := t.checkChild(node, child, visited); err != nil {
				return nil, err
			}
			counts[child.Level]++
			queue = append(queue, child)
		}
	}
	return counts, nil
}

func memberError(err error, id primitive.ObjectID) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, id.Hex())
	}
	return err
}
