package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/audit"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/storage"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/utils"
)

// FakeStore is an in-memory storage.Repository with the same uniqueness
// rules as the Postgres schema. A single mutex stands in for the unique
// indexes and advisory locks.
type FakeStore struct {
	mu sync.Mutex

	MobilePrefixes []string

	nextID uint

	members          map[uint]*model.Member
	phones           []*model.PhoneNumber
	subscriptions    map[uint]*model.Subscription
	memberSubs       map[[2]uint]*model.MemberSubscription
	contactCampaigns map[string]*model.ContactCampaign
	contacts         map[string]*model.Contact
	responseKeys     map[string]*model.ContactResponseKey
	responses        map[string]*model.ContactResponse
	watermarks       map[string]time.Time
	locks            map[string]bool

	failures map[string]error
}

// NewFakeStore creates an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		MobilePrefixes:   []string{"614"},
		members:          map[uint]*model.Member{},
		subscriptions:    map[uint]*model.Subscription{},
		memberSubs:       map[[2]uint]*model.MemberSubscription{},
		contactCampaigns: map[string]*model.ContactCampaign{},
		contacts:         map[string]*model.Contact{},
		responseKeys:     map[string]*model.ContactResponseKey{},
		responses:        map[string]*model.ContactResponse{},
		watermarks:       map[string]time.Time{},
		locks:            map[string]bool{},
		failures:         map[string]error{},
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *FakeStore) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *FakeStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *FakeStore) Get(_ context.Context, key string, def time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Get"]; err != nil {
		return time.Time{}, err
	}
	if v, ok := s.watermarks[key]; ok {
		return v, nil
	}
	return def.UTC(), nil
}

func (s *FakeStore) Set(_ context.Context, key string, value time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Set"]; err != nil {
		return err
	}
	if cur, ok := s.watermarks[key]; ok && cur.After(value) {
		return nil
	}
	s.watermarks[key] = value.UTC()
	return nil
}

// Watermark returns the stored value and whether it exists.
func (s *FakeStore) Watermark(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.watermarks[key]
	return v, ok
}

func (s *FakeStore) ResolveMember(ctx context.Context, in model.MemberInput, authoritative bool) (*model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["ResolveMember"]; err != nil {
		return nil, err
	}

	var phones []string
	for _, p := range in.Phones {
		if phone := utils.NormalizePhone(p.Phone); phone != "" {
			phones = append(phones, phone)
		}
	}
	if len(phones) == 0 {
		return nil, fmt.Errorf("%w: member input has no phone number", apperrors.ErrValidation)
	}
	auditData := audit.FromContext(ctx, in.EntryPoint).JSON()

	var member *model.Member
	if authoritative && in.ExternalID != "" {
		for _, m := range s.members {
			if m.ExternalID != nil && *m.ExternalID == in.ExternalID {
				member = m
				break
			}
		}
	}
	if member == nil {
		if m := s.memberByPhoneLocked(phones); m != nil {
			if !(authoritative && in.ExternalID != "" && m.ExternalID != nil && *m.ExternalID != in.ExternalID) {
				member = m
			}
		}
	}

	if member == nil {
		member = &model.Member{ID: s.id(), FirstName: in.FirstName, LastName: in.LastName, AuditData: auditData, CreatedAt: utils.Now()}
		if authoritative && in.ExternalID != "" {
			ext := in.ExternalID
			member.ExternalID = &ext
		}
		s.members[member.ID] = member
	} else if authoritative {
		if in.ExternalID != "" && member.ExternalID == nil {
			ext := in.ExternalID
			member.ExternalID = &ext
		}
		if in.FirstName != "" {
			member.FirstName = in.FirstName
		}
		if in.LastName != "" {
			member.LastName = in.LastName
		}
	} else {
		if in.FirstName != "" && member.FirstName == "" {
			member.FirstName = in.FirstName
		}
		if in.LastName != "" && member.LastName == "" {
			member.LastName = in.LastName
		}
	}
	member.UpdatedAt = utils.Now()

	now := utils.Now()
	for _, phone := range phones {
		phoneType := model.PhoneTypeLandline
		if utils.HasAnyPrefix(phone, s.MobilePrefixes) {
			phoneType = model.PhoneTypeMobile
		}
		var existing *model.PhoneNumber
		for _, pn := range s.phones {
			if pn.MemberID == member.ID && pn.Phone == phone {
				existing = pn
				break
			}
		}
		if existing != nil {
			existing.PhoneType = phoneType
			existing.UpdatedAt = now
			continue
		}
		s.phones = append(s.phones, &model.PhoneNumber{ID: s.id(), MemberID: member.ID, Phone: phone, PhoneType: phoneType, CreatedAt: now, UpdatedAt: now})
	}

	out := s.memberCopyLocked(member)
	return &out, nil
}

func (s *FakeStore) memberByPhoneLocked(phones []string) *model.Member {
	var best *model.PhoneNumber
	for _, pn := range s.phones {
		for _, phone := range phones {
			if pn.Phone != phone {
				continue
			}
			if best == nil || pn.UpdatedAt.After(best.UpdatedAt) || (pn.UpdatedAt.Equal(best.UpdatedAt) && pn.MemberID < best.MemberID) {
				best = pn
			}
		}
	}
	if best == nil {
		return nil
	}
	return s.members[best.MemberID]
}

func (s *FakeStore) memberCopyLocked(m *model.Member) model.Member {
	out := *m
	out.PhoneNumbers = nil
	for _, pn := range s.phones {
		if pn.MemberID == m.ID {
			out.PhoneNumbers = append(out.PhoneNumbers, *pn)
		}
	}
	out.CustomFields = append([]model.CustomField(nil), m.CustomFields...)
	return out
}

func (s *FakeStore) FindMembersWithPhones(_ context.Context, ids []uint) ([]model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["FindMembersWithPhones"]; err != nil {
		return nil, err
	}
	out := make([]model.Member, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.members[id]; ok {
			out = append(out, s.memberCopyLocked(m))
		}
	}
	return out, nil
}

func (s *FakeStore) FindSubscription(_ context.Context, id uint) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %d", apperrors.ErrNotFound, id)
	}
	out := *sub
	return &out, nil
}

func (s *FakeStore) Unsubscribe(ctx context.Context, memberID, subscriptionID uint, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Unsubscribe"]; err != nil {
		return err
	}
	if _, ok := s.subscriptions[subscriptionID]; !ok {
		return fmt.Errorf("%w: subscription %d", apperrors.ErrNotFound, subscriptionID)
	}
	key := [2]uint{memberID, subscriptionID}
	ms, ok := s.memberSubs[key]
	if !ok {
		ms = &model.MemberSubscription{ID: s.id(), MemberID: memberID, SubscriptionID: subscriptionID, CreatedAt: utils.Now()}
		s.memberSubs[key] = ms
	}
	ms.Subscribed = false
	ms.UnsubscribedAt = &at
	ms.UnsubscribeReason = reason
	ms.AuditData = audit.FromContext(ctx, reason).JSON()
	ms.UpdatedAt = utils.Now()
	return nil
}

// SeedMember stores a member with the given phones and returns its id.
func (s *FakeStore) SeedMember(m model.Member, phones ...model.PhoneNumber) uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.id()
	}
	stored := m
	stored.PhoneNumbers = nil
	s.members[stored.ID] = &stored
	for _, pn := range append(m.PhoneNumbers, phones...) {
		p := pn
		if p.ID == 0 {
			p.ID = s.id()
		}
		p.MemberID = stored.ID
		if p.PhoneType == "" {
			p.PhoneType = model.PhoneTypeMobile
		}
		s.phones = append(s.phones, &p)
	}
	return stored.ID
}

// SeedSubscription stores a subscription channel.
func (s *FakeStore) SeedSubscription(sub model.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.ID] = &sub
}

// Subscribe marks a member subscribed to a channel.
func (s *FakeStore) Subscribe(memberID, subscriptionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberSubs[[2]uint{memberID, subscriptionID}] = &model.MemberSubscription{ID: s.id(), MemberID: memberID, SubscriptionID: subscriptionID, Subscribed: true}
}

// MemberSubscription returns the member's subscription row for a channel.
func (s *FakeStore) MemberSubscription(memberID, subscriptionID uint) (model.MemberSubscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.memberSubs[[2]uint{memberID, subscriptionID}]
	if !ok {
		return model.MemberSubscription{}, false
	}
	return *ms, true
}

// Members returns every stored member ordered by id.
func (s *FakeStore) Members() []model.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, s.memberCopyLocked(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemberByPhone returns the member most recently seen with phone.
func (s *FakeStore) MemberByPhone(phone string) (model.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.memberByPhoneLocked([]string{utils.NormalizePhone(phone)})
	if m == nil {
		return model.Member{}, false
	}
	return s.memberCopyLocked(m), true
}

func externalKey(externalID, system string) string {
	return system + "\x00" + externalID
}

func (s *FakeStore) UpsertContactCampaign(ctx context.Context, cc *model.ContactCampaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["UpsertContactCampaign"]; err != nil {
		return err
	}
	if cc.ExternalID == "" || cc.System == "" {
		return fmt.Errorf("%w: contact campaign requires external_id and system", apperrors.ErrValidation)
	}
	key := externalKey(cc.ExternalID, cc.System)
	if existing, ok := s.contactCampaigns[key]; ok {
		existing.Name = cc.Name
		existing.ContactType = cc.ContactType
		existing.AuditData = cc.AuditData
		existing.UpdatedAt = utils.Now()
		*cc = *existing
		return nil
	}
	cc.ID = s.id()
	cc.CreatedAt = utils.Now()
	cc.UpdatedAt = cc.CreatedAt
	stored := *cc
	s.contactCampaigns[key] = &stored
	return nil
}

func (s *FakeStore) UpsertContact(ctx context.Context, c *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["UpsertContact"]; err != nil {
		return err
	}
	if c.ExternalID == "" || c.System == "" {
		return fmt.Errorf("%w: contact requires external_id and system", apperrors.ErrValidation)
	}
	key := externalKey(c.ExternalID, c.System)
	if existing, ok := s.contacts[key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		c.ID = s.id()
		c.CreatedAt = utils.Now()
	}
	c.UpdatedAt = utils.Now()
	stored := *c
	s.contacts[key] = &stored
	return nil
}

func (s *FakeStore) UpsertContactResponseKey(ctx context.Context, k *model.ContactResponseKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["UpsertContactResponseKey"]; err != nil {
		return err
	}
	if k.Key == "" || k.ContactCampaignID == 0 {
		return fmt.Errorf("%w: contact response key requires key and contact_campaign_id", apperrors.ErrValidation)
	}
	key := fmt.Sprintf("%s\x00%d", k.Key, k.ContactCampaignID)
	if existing, ok := s.responseKeys[key]; ok {
		*k = *existing
		return nil
	}
	k.ID = s.id()
	k.CreatedAt = utils.Now()
	stored := *k
	s.responseKeys[key] = &stored
	return nil
}

func (s *FakeStore) CreateContactResponseIfAbsent(ctx context.Context, resp *model.ContactResponse) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["CreateContactResponseIfAbsent"]; err != nil {
		return false, err
	}
	if resp.ContacteeID == 0 || resp.ContactResponseKeyID == 0 || resp.ContactID == 0 {
		return false, fmt.Errorf("%w: contact response requires contact, contactee and key", apperrors.ErrValidation)
	}
	key := fmt.Sprintf("%d\x00%s\x00%d", resp.ContacteeID, resp.Value, resp.ContactResponseKeyID)
	if _, ok := s.responses[key]; ok {
		return false, nil
	}
	resp.ID = s.id()
	resp.CreatedAt = utils.Now()
	stored := *resp
	s.responses[key] = &stored
	return true, nil
}

// ContactCampaigns returns every stored contact campaign ordered by id.
func (s *FakeStore) ContactCampaigns() []model.ContactCampaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ContactCampaign, 0, len(s.contactCampaigns))
	for _, cc := range s.contactCampaigns {
		out = append(out, *cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contacts returns every stored contact ordered by id.
func (s *FakeStore) Contacts() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContactResponseKeys returns every stored key ordered by id.
func (s *FakeStore) ContactResponseKeys() []model.ContactResponseKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ContactResponseKey, 0, len(s.responseKeys))
	for _, k := range s.responseKeys {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContactResponses returns every stored response ordered by id.
func (s *FakeStore) ContactResponses() []model.ContactResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ContactResponse, 0, len(s.responses))
	for _, r := range s.responses {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *FakeStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures["Ping"]
}

func (s *FakeStore) Close(context.Context) error { return nil }

var _ storage.Repository = (*FakeStore)(nil)

// TryLock mirrors PostgresRepo.TryLock: every orchestrator sharing the store
// sees the same locks.
func (s *FakeStore) TryLock(_ context.Context, key string) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["TryLock"]; err != nil {
		return nil, false, err
	}
	if s.locks[key] {
		return func() {}, false, nil
	}
	s.locks[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.locks, key)
		})
	}, true, nil
}
