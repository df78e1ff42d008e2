package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/internal/spoke"
)

// FakeClient is an in-memory Spoke database. Seed it with the Add* helpers.
type FakeClient struct {
	mu sync.Mutex

	campaigns         map[int64]*spoke.Campaign
	steps             map[int64]*spoke.InteractionStep
	users             map[int64]*spoke.User
	assignments       map[int64]*spoke.Assignment
	campaignContacts  []*spoke.CampaignContact
	messages          map[int64]*spoke.Message
	questionResponses []*spoke.QuestionResponse
	optOuts           map[int64]*spoke.OptOut

	nextID int64

	// Fetches counts calls to the delta queries.
	Fetches  int
	failures map[string]error
}

// NewFakeClient creates an empty Spoke database.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		campaigns:   map[int64]*spoke.Campaign{},
		steps:       map[int64]*spoke.InteractionStep{},
		users:       map[int64]*spoke.User{},
		assignments: map[int64]*spoke.Assignment{},
		messages:    map[int64]*spoke.Message{},
		optOuts:     map[int64]*spoke.OptOut{},
		nextID:      1000,
		failures:    map[string]error{},
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (f *FakeClient) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

func (f *FakeClient) id(requested int64) int64 {
	if requested != 0 {
		return requested
	}
	f.nextID++
	return f.nextID
}

func (f *FakeClient) AddCampaign(c spoke.Campaign) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.id(c.ID)
	c.InteractionSteps = nil
	f.campaigns[c.ID] = &c
	return c.ID
}

func (f *FakeClient) AddInteractionStep(s spoke.InteractionStep) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = f.id(s.ID)
	f.steps[s.ID] = &s
	return s.ID
}

func (f *FakeClient) AddUser(u spoke.User) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.id(u.ID)
	f.users[u.ID] = &u
	return u.ID
}

func (f *FakeClient) AddAssignment(a spoke.Assignment) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = f.id(a.ID)
	a.Campaign, a.User = nil, nil
	f.assignments[a.ID] = &a
	return a.ID
}

func (f *FakeClient) AddCampaignContact(cc spoke.CampaignContact) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	cc.ID = f.id(cc.ID)
	f.campaignContacts = append(f.campaignContacts, &cc)
	return cc.ID
}

func (f *FakeClient) AddMessage(m spoke.Message) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = f.id(m.ID)
	m.Assignment = nil
	f.messages[m.ID] = &m
	return m.ID
}

func (f *FakeClient) AddQuestionResponse(qr spoke.QuestionResponse) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	qr.ID = f.id(qr.ID)
	qr.InteractionStep = nil
	f.questionResponses = append(f.questionResponses, &qr)
	return qr.ID
}

func (f *FakeClient) AddOptOut(o spoke.OptOut) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.ID = f.id(o.ID)
	f.optOuts[o.ID] = &o
	return o.ID
}

// CampaignContacts returns every stored campaign contact in insertion order.
func (f *FakeClient) CampaignContacts() []spoke.CampaignContact {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]spoke.CampaignContact, len(f.campaignContacts))
	for i, cc := range f.campaignContacts {
		out[i] = *cc
	}
	return out
}

func afterCursor(createdAt time.Time, id int64, cursor spoke.Cursor) bool {
	if createdAt.After(cursor.Since) {
		return true
	}
	return cursor.AfterID != 0 && createdAt.Equal(cursor.Since) && id > cursor.AfterID
}

func (f *FakeClient) UpdatedMessages(_ context.Context, cursor spoke.Cursor, limit int) ([]spoke.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetches++
	if err := f.failures["UpdatedMessages"]; err != nil {
		return nil, err
	}
	var out []spoke.Message
	for _, m := range f.messages {
		if m.SendStatus == spoke.SendStatusError {
			continue
		}
		if afterCursor(m.CreatedAt, m.ID, cursor) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeClient) UpdatedOptOuts(_ context.Context, cursor spoke.Cursor, limit int) ([]spoke.OptOut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetches++
	if err := f.failures["UpdatedOptOuts"]; err != nil {
		return nil, err
	}
	var out []spoke.OptOut
	for _, o := range f.optOuts {
		if afterCursor(o.CreatedAt, o.ID, cursor) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeClient) ActiveCampaigns(_ context.Context, afterID int64, limit int) ([]spoke.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetches++
	if err := f.failures["ActiveCampaigns"]; err != nil {
		return nil, err
	}
	var out []spoke.Campaign
	for _, c := range f.campaigns {
		if c.Active() && c.ID > afterID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeClient) FindMessage(_ context.Context, id int64) (*spoke.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %d", apperrors.ErrNotFound, id)
	}
	out := *m
	a, ok := f.assignments[m.AssignmentID]
	if !ok {
		return nil, fmt.Errorf("%w: assignment %d", apperrors.ErrNotFound, m.AssignmentID)
	}
	assignment := *a
	if c, ok := f.campaigns[a.CampaignID]; ok {
		campaign := *c
		assignment.Campaign = &campaign
	}
	if u, ok := f.users[a.UserID]; ok {
		user := *u
		assignment.User = &user
	}
	if assignment.Campaign == nil || assignment.User == nil {
		return nil, fmt.Errorf("%w: message %d has no assignment, campaign or user", apperrors.ErrNotFound, id)
	}
	out.Assignment = &assignment
	return &out, nil
}

func (f *FakeClient) FindOptOut(_ context.Context, id int64) (*spoke.OptOut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.optOuts[id]
	if !ok {
		return nil, fmt.Errorf("%w: opt out %d", apperrors.ErrNotFound, id)
	}
	out := *o
	return &out, nil
}

func (f *FakeClient) FindCampaign(_ context.Context, id int64) (*spoke.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %d", apperrors.ErrNotFound, id)
	}
	out := *c
	out.InteractionSteps = nil
	for _, s := range f.steps {
		if s.CampaignID == id && !s.IsDeleted {
			out.InteractionSteps = append(out.InteractionSteps, *s)
		}
	}
	sort.Slice(out.InteractionSteps, func(i, j int) bool { return out.InteractionSteps[i].ID < out.InteractionSteps[j].ID })
	return &out, nil
}

func (f *FakeClient) FindCampaignContact(_ context.Context, campaignID int64, cell string) (*spoke.CampaignContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *spoke.CampaignContact
	for _, cc := range f.campaignContacts {
		if cc.CampaignID == campaignID && cc.Cell == cell && (found == nil || cc.ID < found.ID) {
			found = cc
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: campaign contact %d/%s", apperrors.ErrNotFound, campaignID, cell)
	}
	out := *found
	return &out, nil
}

func (f *FakeClient) LatestCampaignContactByCell(_ context.Context, cell string) (*spoke.CampaignContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *spoke.CampaignContact
	for _, cc := range f.campaignContacts {
		if cc.Cell == cell && (found == nil || cc.ID > found.ID) {
			found = cc
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: campaign contact %s", apperrors.ErrNotFound, cell)
	}
	out := *found
	return &out, nil
}

func (f *FakeClient) QuestionResponses(_ context.Context, campaignContactID int64) ([]spoke.QuestionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []spoke.QuestionResponse
	for _, qr := range f.questionResponses {
		if qr.CampaignContactID != campaignContactID {
			continue
		}
		r := *qr
		if s, ok := f.steps[qr.InteractionStepID]; ok {
			step := *s
			r.InteractionStep = &step
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AddCampaignContacts skips rows whose (campaign_id, cell) already exists.
func (f *FakeClient) AddCampaignContacts(_ context.Context, rows []spoke.CampaignContactRow) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures["AddCampaignContacts"]; err != nil {
		return 0, err
	}
	written := 0
	for _, row := range rows {
		exists := false
		for _, cc := range f.campaignContacts {
			if cc.CampaignID == row.CampaignID && cc.Cell == row.Cell {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.campaignContacts = append(f.campaignContacts, &spoke.CampaignContact{
			ID:            f.id(0),
			CampaignID:    row.CampaignID,
			ExternalID:    row.ExternalID,
			FirstName:     row.FirstName,
			LastName:      row.LastName,
			Cell:          row.Cell,
			CustomFields:  row.CustomFields,
			MessageStatus: "needsMessage",
		})
		written++
	}
	return written, nil
}

func (f *FakeClient) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures["Ping"]
}

func (f *FakeClient) Close(context.Context) error { return nil }

var _ spoke.Client = (*FakeClient)(nil)
