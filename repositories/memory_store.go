package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/HSouheill/barrim_network/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type slotKey struct {
	owner     primitive.ObjectID
	structure int
	parent    primitive.ObjectID
	slot      int
}

type seatKey struct {
	owner     primitive.ObjectID
	structure int
	member    primitive.ObjectID
}

type residualKey struct {
	referrer primitive.ObjectID
	period   string
}

type bonusKey struct {
	referrer primitive.ObjectID
	referred primitive.ObjectID
}

// MemoryStore keeps the whole network in process memory.
// It backs tests and local runs with STORE_BACKEND=memory.
type MemoryStore struct {
	mu sync.RWMutex

	members      map[primitive.ObjectID]*models.Member
	referralCode map[string]primitive.ObjectID
	emails       map[string]primitive.ObjectID

	positions map[primitive.ObjectID]*models.NetworkPosition
	slots     map[slotKey]primitive.ObjectID
	seats     map[seatKey]primitive.ObjectID
	children  map[primitive.ObjectID][]primitive.ObjectID

	commissions map[primitive.ObjectID]*models.CommissionRecord
	residuals   map[residualKey]primitive.ObjectID
	bonuses     map[bonusKey]primitive.ObjectID

	intents   map[primitive.ObjectID]*models.PaymentIntent
	addresses map[string]primitive.ObjectID

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members:      make(map[primitive.ObjectID]*models.Member),
		referralCode: make(map[string]primitive.ObjectID),
		emails:       make(map[string]primitive.ObjectID),
		positions:    make(map[primitive.ObjectID]*models.NetworkPosition),
		slots:        make(map[slotKey]primitive.ObjectID),
		seats:        make(map[seatKey]primitive.ObjectID),
		children:     make(map[primitive.ObjectID][]primitive.ObjectID),
		commissions:  make(map[primitive.ObjectID]*models.CommissionRecord),
		residuals:    make(map[residualKey]primitive.ObjectID),
		bonuses:      make(map[bonusKey]primitive.ObjectID),
		intents:      make(map[primitive.ObjectID]*models.PaymentIntent),
		addresses:    make(map[string]primitive.ObjectID),
		now:          time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

// ---- members ----

func (s *MemoryStore) GetMember(ctx context.Context, id primitive.ObjectID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMember(m), nil
}

func (s *MemoryStore) GetMemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.referralCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMember(s.members[id]), nil
}

func (s *MemoryStore) CreateMember(ctx context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if member.ID.IsZero() {
		member.ID = primitive.NewObjectID()
	}
	if _, ok := s.members[member.ID]; ok {
		return ErrDuplicate
	}
	if member.Email != "" {
		if _, ok := s.emails[member.Email]; ok {
			return ErrEmailTaken
		}
	}
	if member.ReferralCode != "" {
		if _, ok := s.referralCode[member.ReferralCode]; ok {
			return ErrDuplicate
		}
		s.referralCode[member.ReferralCode] = member.ID
	}
	if member.Email != "" {
		s.emails[member.Email] = member.ID
	}
	now := s.now()
	if member.CreatedAt.IsZero() {
		member.CreatedAt = now
	}
	member.UpdatedAt = now
	s.members[member.ID] = cloneMember(member)
	return nil
}

func (s *MemoryStore) SetNetworkPosition(ctx context.Context, memberID, positionID primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	if m.NetworkPositionID != nil {
		return ErrConflict
	}
	id := positionID
	m.NetworkPositionID = &id
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetActive(ctx context.Context, memberID primitive.ObjectID, active bool) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	now := s.now()
	if active && m.ActivatedAt == nil {
		m.ActivatedAt = &now
	}
	m.IsActive = active
	m.UpdatedAt = now
	return cloneMember(m), nil
}

func (s *MemoryStore) UpdateQualification(ctx context.Context, memberID primitive.ObjectID, directReferrals, unlocked, completed int) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return nil, ErrNotFound
	}
	m.DirectReferralCount = directReferrals
	if unlocked > m.UnlockedStructureCount {
		m.UnlockedStructureCount = unlocked
	}
	if completed > m.CompletedStructureCount {
		m.CompletedStructureCount = completed
	}
	m.UpdatedAt = s.now()
	return cloneMember(m), nil
}

func (s *MemoryStore) UpdatePayoutDestination(ctx context.Context, memberID primitive.ObjectID, destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberID]
	if !ok {
		return ErrNotFound
	}
	m.PayoutDestination = destination
	m.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) CountActiveReferrals(ctx context.Context, sponsorID primitive.ObjectID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.members {
		if m.IsActive && m.SponsorID != nil && *m.SponsorID == sponsorID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListMemberIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]primitive.ObjectID, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Hex() < ids[j].Hex() })
	return ids, nil
}

// ---- positions ----

func (s *MemoryStore) GetPosition(ctx context.Context, id primitive.ObjectID) (*models.NetworkPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePosition(p), nil
}

func (s *MemoryStore) GetRoot(ctx context.Context, key models.StructureKey) (*models.NetworkPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.slots[slotKey{owner: key.OwnerMemberID, structure: key.StructureNumber}]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePosition(s.positions[id]), nil
}

func (s *MemoryStore) InsertPosition(ctx context.Context, position *models.NetworkPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position.ID.IsZero() {
		position.ID = primitive.NewObjectID()
	}
	sk := slotKey{owner: position.OwnerMemberID, structure: position.StructureNumber, slot: position.SlotIndex}
	if position.ParentPositionID != nil {
		sk.parent = *position.ParentPositionID
	}
	seat := seatKey{owner: position.OwnerMemberID, structure: position.StructureNumber, member: position.MemberID}
	if _, taken := s.slots[sk]; taken {
		return ErrDuplicate
	}
	if _, taken := s.seats[seat]; taken {
		return ErrDuplicate
	}
	if position.CreatedAt.IsZero() {
		position.CreatedAt = s.now()
	}
	s.positions[position.ID] = clonePosition(position)
	s.slots[sk] = position.ID
	s.seats[seat] = position.ID
	if position.ParentPositionID != nil {
		s.children[*position.ParentPositionID] = append(s.children[*position.ParentPositionID], position.ID)
	}
	return nil
}

func (s *MemoryStore) ListChildren(ctx context.Context, parentID primitive.ObjectID) ([]models.NetworkPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.children[parentID]
	out := make([]models.NetworkPosition, 0, len(ids))
	for _, id := range ids {
		out = append(out, *clonePosition(s.positions[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out, nil
}

func (s *MemoryStore) CountPlaced(ctx context.Context, key models.StructureKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.positions {
		if p.OwnerMemberID == key.OwnerMemberID && p.StructureNumber == key.StructureNumber && p.Level > 0 {
			count++
		}
	}
	return count, nil
}

// CorruptParent rewires a parent pointer without any checks. Test helper for integrity scenarios.
func (s *MemoryStore) CorruptParent(positionID, parentID primitive.ObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[positionID]; ok {
		id := parentID
		p.ParentPositionID = &id
	}
}

// ---- commissions ----

func (s *MemoryStore) GetCommission(ctx context.Context, id primitive.ObjectID) (*models.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCommission(c), nil
}

func (s *MemoryStore) InsertCommission(ctx context.Context, record *models.CommissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	switch record.CommissionType {
	case models.CommissionTypeResidual:
		key := residualKey{referrer: record.ReferrerID, period: record.Period}
		if _, ok := s.residuals[key]; ok {
			return ErrDuplicate
		}
		s.residuals[key] = record.ID
	case models.CommissionTypeDirectBonus:
		if record.ReferredMemberID != nil {
			key := bonusKey{referrer: record.ReferrerID, referred: *record.ReferredMemberID}
			if _, ok := s.bonuses[key]; ok {
				return ErrDuplicate
			}
			s.bonuses[key] = record.ID
		}
	}
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.commissions[record.ID] = cloneCommission(record)
	return nil
}

func (s *MemoryStore) FindDirectBonus(ctx context.Context, referrerID, referredID primitive.ObjectID) (*models.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bonuses[bonusKey{referrer: referrerID, referred: referredID}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCommission(s.commissions[id]), nil
}

func (s *MemoryStore) FindResidual(ctx context.Context, referrerID primitive.ObjectID, period string) (*models.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.residuals[residualKey{referrer: referrerID, period: period}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCommission(s.commissions[id]), nil
}

func (s *MemoryStore) ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.CommissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CommissionRecord, 0)
	for _, c := range s.commissions {
		if filter.Period != "" && c.Period != filter.Period {
			continue
		}
		if filter.CommissionType != "" && c.CommissionType != filter.CommissionType {
			continue
		}
		if filter.ReferrerID != nil && c.ReferrerID != *filter.ReferrerID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, c.Status) {
			continue
		}
		out = append(out, *cloneCommission(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

func (s *MemoryStore) UpdateCommission(ctx context.Context, id primitive.ObjectID, from []models.CommissionStatus, mutate CommissionMutation) (*models.CommissionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.commissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if len(from) > 0 && !containsStatus(from, current.Status) {
		return cloneCommission(current), ErrConflict
	}
	next := cloneCommission(current)
	if err := mutate(next); err != nil {
		return cloneCommission(current), err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	s.commissions[id] = next
	return cloneCommission(next), nil
}

// ---- payment intents ----

func (s *MemoryStore) GetIntent(ctx context.Context, id primitive.ObjectID) (*models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(p), nil
}

func (s *MemoryStore) InsertIntent(ctx context.Context, intent *models.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if intent.ID.IsZero() {
		intent.ID = primitive.NewObjectID()
	}
	if _, ok := s.addresses[intent.DepositAddress]; ok {
		return ErrDuplicate
	}
	now := s.now()
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = now
	}
	intent.UpdatedAt = now
	s.intents[intent.ID] = cloneIntent(intent)
	s.addresses[intent.DepositAddress] = intent.ID
	return nil
}

func (s *MemoryStore) UpdateIntent(ctx context.Context, id primitive.ObjectID, mutate IntentMutation) (*models.PaymentIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.intents[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cloneIntent(current)
	if err := mutate(next); err != nil {
		return cloneIntent(current), err
	}
	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	s.intents[id] = next
	return cloneIntent(next), nil
}

func (s *MemoryStore) ListOpenIntents(ctx context.Context) ([]models.PaymentIntent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PaymentIntent, 0)
	for _, p := range s.intents {
		if p.IsFinal() {
			continue
		}
		out = append(out, *cloneIntent(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- snapshot ----

func (s *MemoryStore) LoadNetworkSnapshot(ctx context.Context) (*models.NetworkSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := &models.NetworkSnapshot{
		Members:   make([]models.Member, 0, len(s.members)),
		Positions: make([]models.NetworkPosition, 0, len(s.positions)),
		TakenAt:   s.now(),
	}
	for _, m := range s.members {
		snap.Members = append(snap.Members, *cloneMember(m))
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, *clonePosition(p))
	}
	sort.Slice(snap.Members, func(i, j int) bool { return snap.Members[i].ID.Hex() < snap.Members[j].ID.Hex() })
	return snap, nil
}

func cloneObjectID(id *primitive.ObjectID) *primitive.ObjectID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneMember(m *models.Member) *models.Member {
	c := *m
	c.SponsorID = cloneObjectID(m.SponsorID)
	c.NetworkPositionID = cloneObjectID(m.NetworkPositionID)
	c.ActivatedAt = cloneTime(m.ActivatedAt)
	return &c
}

func clonePosition(p *models.NetworkPosition) *models.NetworkPosition {
	c := *p
	c.ParentPositionID = cloneObjectID(p.ParentPositionID)
	return &c
}

func cloneCommission(r *models.CommissionRecord) *models.CommissionRecord {
	c := *r
	c.ReferredMemberID = cloneObjectID(r.ReferredMemberID)
	c.ProcessingStartedAt = cloneTime(r.ProcessingStartedAt)
	c.PaidAt = cloneTime(r.PaidAt)
	if r.Breakdown != nil {
		c.Breakdown = append([]models.StructureCommission(nil), r.Breakdown...)
	}
	return &c
}

func cloneIntent(p *models.PaymentIntent) *models.PaymentIntent {
	c := *p
	c.CompletedAt = cloneTime(p.CompletedAt)
	c.FulfilledAt = cloneTime(p.FulfilledAt)
	c.SweptAt = cloneTime(p.SweptAt)
	c.LastCheckedAt = cloneTime(p.LastCheckedAt)
	return &c
}
