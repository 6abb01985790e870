package webhook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"salesops_backend/internal/automation"
	"salesops_backend/internal/contacts"
	"salesops_backend/internal/deals"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/validator"

	"github.com/google/uuid"
)

// memStore keeps events, endpoints and transactions in memory with the same
// uniqueness rules as the tables.
type memStore struct {
	mu           sync.Mutex
	events       map[uuid.UUID]*Event
	order        []uuid.UUID
	byKey        map[string]uuid.UUID
	endpoints    map[string]Endpoint
	transactions map[string]Transaction
	categories   map[string]string
	writes       int
	completeErr  error
}

func newMemStore() *memStore {
	return &memStore{
		events:       map[uuid.UUID]*Event{},
		byKey:        map[string]uuid.UUID{},
		endpoints:    map[string]Endpoint{},
		transactions: map[string]Transaction{},
		categories:   map[string]string{},
	}
}

func (s *memStore) addEndpoint(e Endpoint) Endpoint {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OriginID == uuid.Nil {
		e.OriginID = uuid.New()
	}
	e.IsActive = true
	s.endpoints[e.Slug] = e
	return e
}

func (s *memStore) insert(e NewEvent, status string) *Event {
	id := uuid.New()
	row := &Event{
		ID:                id,
		Source:            e.Source,
		ProviderEventType: e.ProviderEventType,
		RawPayload:        append(RawBody(nil), e.RawPayload...),
		Status:            status,
		CreatedAt:         time.Now(),
	}
	s.events[id] = row
	s.order = append(s.order, id)
	s.writes++
	return row
}

func (s *memStore) RecordOrSkip(_ context.Context, e NewEvent) (Recorded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if originalID, ok := s.byKey[e.DedupeKey]; ok {
		original := *s.events[originalID]
		dup := s.insert(e, StatusDuplicate)
		dup.DuplicateOfID = &original.ID
		dup.ResultRecordID = original.ResultRecordID
		return Recorded{EventID: dup.ID, Original: &original}, nil
	}

	row := s.insert(e, StatusReceived)
	key := e.DedupeKey
	row.DedupeKey = &key
	s.byKey[key] = row.ID
	return Recorded{EventID: row.ID, IsNew: true}, nil
}

func (s *memStore) RecordTerminal(_ context.Context, e NewEvent, c Completion) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.insert(e, c.Status)
	row.ErrorMessage = nullable(c.ErrorMessage)
	row.ResultRecordID = nullable(c.ResultRecordID)
	return row.ID, nil
}

func (s *memStore) Transition(_ context.Context, id uuid.UUID, from []string, next string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.events[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if row.Status == status {
			row.Status = next
			if next == StatusProcessing {
				now := time.Now()
				row.ClaimedAt = &now
			}
			s.writes++
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) Complete(_ context.Context, id uuid.UUID, c Completion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completeErr != nil {
		return false, s.completeErr
	}
	row, ok := s.events[id]
	if !ok || (row.Status != StatusReceived && row.Status != StatusProcessing) {
		return false, nil
	}
	row.Status = c.Status
	row.ErrorMessage = nullable(c.ErrorMessage)
	if c.ResultRecordID != "" {
		row.ResultRecordID = nullable(c.ResultRecordID)
	}
	now := time.Now()
	row.ProcessedAt = &now
	s.writes++
	return true, nil
}

func (s *memStore) ClaimForReplay(_ context.Context, id uuid.UUID, staleBefore time.Time) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.events[id]
	if !ok || !row.Replayable(staleBefore) {
		return nil, nil
	}
	now := time.Now()
	row.Status = StatusProcessing
	row.Attempts++
	row.ErrorMessage = nil
	row.ClaimedAt = &now
	s.writes++
	claimed := *row
	return &claimed, nil
}

func (s *memStore) GetEvent(_ context.Context, id uuid.UUID) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.events[id]
	if !ok {
		return Event{}, ErrEventNotFound
	}
	return *row, nil
}

func (s *memStore) ListFailed(_ context.Context, f FailedFilter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, id := range s.order {
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
		if s.events[id].Replayable(f.StaleBefore) {
			out = append(out, *s.events[id])
		}
	}
	return out, nil
}

func (s *memStore) GetEndpointBySlug(_ context.Context, slug string) (Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.endpoints[strings.ToLower(slug)]
	if !ok || !e.IsActive {
		return Endpoint{}, ErrEndpointNotFound
	}
	return e, nil
}

func (s *memStore) IncrementLeadsReceived(_ context.Context, endpointID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for slug, e := range s.endpoints {
		if e.ID == endpointID {
			e.LeadsReceived++
			s.endpoints[slug] = e
			s.writes++
		}
	}
	return nil
}

func (s *memStore) InsertTransaction(_ context.Context, t NewTransaction) (Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.transactions[t.DedupeKey]; ok {
		return existing, false, nil
	}
	tx := Transaction{
		ID:              uuid.New(),
		DedupeKey:       t.DedupeKey,
		Provider:        t.Provider,
		ProductName:     t.ProductName,
		ProductCategory: t.ProductCategory,
		GrossValue:      t.GrossValue,
		NetValue:        t.NetValue,
		SaleDate:        t.SaleDate,
		Status:          t.Status,
		ContactID:       t.ContactID,
		CreatedAt:       time.Now(),
	}
	if t.EventID != uuid.Nil {
		eventID := t.EventID
		tx.EventID = &eventID
	}
	s.transactions[t.DedupeKey] = tx
	s.writes++
	return tx, true, nil
}

func (s *memStore) CategorizeProduct(_ context.Context, name string) (string, error) {
	for keyword, category := range s.categories {
		if strings.Contains(strings.ToLower(name), keyword) {
			return category, nil
		}
	}
	return "", nil
}

func (s *memStore) event(id uuid.UUID) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

type fakeContacts struct {
	byEmail   map[string]contacts.Contact
	ambiguous bool
	created   int
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{byEmail: map[string]contacts.Contact{}}
}

func (f *fakeContacts) add(email string) contacts.Contact {
	c := contacts.Contact{ID: uuid.New(), Name: "Ana Souza", Source: "seed"}
	f.byEmail[contacts.NormalizeEmail(email)] = c
	return c
}

func (f *fakeContacts) Resolve(_ context.Context, q contacts.Query) (contacts.Match, error) {
	if f.ambiguous {
		return contacts.Match{}, fmt.Errorf("resolve contact by name: %w", contacts.ErrAmbiguous)
	}
	if c, ok := f.byEmail[contacts.NormalizeEmail(q.Email)]; ok && q.Email != "" {
		return contacts.Match{Contact: c, Strategy: contacts.StrategyEmail}, nil
	}
	return contacts.Match{}, contacts.ErrNotFound
}

func (f *fakeContacts) FindOrCreate(ctx context.Context, in contacts.Input) (contacts.Result, error) {
	match, err := f.Resolve(ctx, in.Query())
	if err == nil {
		return contacts.Result{Contact: match.Contact, Strategy: match.Strategy}, nil
	}
	if err != contacts.ErrNotFound {
		return contacts.Result{}, err
	}
	c := contacts.Contact{ID: uuid.New(), Name: in.Name, Source: in.Source}
	f.byEmail[contacts.NormalizeEmail(in.Email)] = c
	f.created++
	return contacts.Result{Contact: c, Created: true}, nil
}

type fakeReconciler struct {
	deals    map[uuid.UUID]uuid.UUID
	created  int
	previews int
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{deals: map[uuid.UUID]uuid.UUID{}}
}

func (f *fakeReconciler) ResolveOrCreateDeal(_ context.Context, req deals.Request) (deals.Result, error) {
	if id, ok := f.deals[req.ContactID]; ok {
		return deals.Result{DealID: &id, Outcome: deals.OutcomeDuplicate}, nil
	}
	id := uuid.New()
	f.deals[req.ContactID] = id
	f.created++
	return deals.Result{DealID: &id, Created: true, Outcome: deals.OutcomeCreated}, nil
}

func (f *fakeReconciler) Preview(_ context.Context, _ deals.Request) (deals.Result, error) {
	f.previews++
	return deals.Result{Created: true, Outcome: deals.OutcomeCreated}, nil
}

type fakeAutomation struct {
	covers   bool
	err      error
	panics   bool
	applied  []automation.Trigger
	previews int
}

func (f *fakeAutomation) Apply(_ context.Context, trig automation.Trigger) (automation.Outcome, error) {
	if f.panics {
		panic("rule table corrupted")
	}
	if f.err != nil {
		return automation.Outcome{}, f.err
	}
	f.applied = append(f.applied, trig)
	return automation.Outcome{Status: automation.StatusMoved}, nil
}

func (f *fakeAutomation) Preview(_ context.Context, _ automation.Trigger) (automation.Outcome, error) {
	f.previews++
	return automation.Outcome{Status: automation.StatusWouldMove}, nil
}

func (f *fakeAutomation) Covers(context.Context, string, string) (bool, error) {
	return f.covers, nil
}

type harness struct {
	store      *memStore
	contacts   *fakeContacts
	deals      *fakeReconciler
	automation *fakeAutomation
	service    *Service
}

func newHarness() *harness {
	h := &harness{
		store:      newMemStore(),
		contacts:   newFakeContacts(),
		deals:      newFakeReconciler(),
		automation: &fakeAutomation{},
	}
	h.service = NewService(h.store, NewDecoder(validator.New()), h.contacts, h.deals, h.automation, nil, logger.Discard())
	return h
}

// stripeBody builds a Stripe event whose data object is given as JSON.
func stripeBody(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"object": "event",
		"type": %q,
		"created": 1767225600,
		"data": {"object": %s}
	}`, eventID, eventType, object))
}

func asaasBody(event, paymentID, email string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": %q,
		"payment": {
			"id": %q,
			"value": 497.0,
			"netValue": 480.5,
			"description": "Mentoria Premium",
			"customer": {"id": "cus_1", "name": "Ana Souza", "email": %q},
			"paymentDate": "2026-03-10"
		}
	}`, event, paymentID, email))
}
