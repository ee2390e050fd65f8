package sync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/incident-sync/internal/domain"
	"github.com/spec-kit/incident-sync/internal/observability"
	"github.com/spec-kit/incident-sync/internal/repository"
)

type fakeIncidentRepo struct {
	incidents  map[string]*domain.Incident
	milestones []*domain.Milestone
	saves      int
}

func newFakeIncidentRepo() *fakeIncidentRepo {
	return &fakeIncidentRepo{incidents: map[string]*domain.Incident{}}
}

func (r *fakeIncidentRepo) put(incident *domain.Incident) {
	copied := *incident
	r.incidents[incident.ID] = &copied
}

func (r *fakeIncidentRepo) CreateWithSetup(ctx context.Context, incident *domain.Incident, roles []domain.RoleAssignment, milestones []*domain.Milestone) error {
	r.put(incident)
	r.milestones = append(r.milestones, milestones...)
	return nil
}

func (r *fakeIncidentRepo) SaveWithMilestone(ctx context.Context, incident *domain.Incident, milestone *domain.Milestone) error {
	if _, ok := r.incidents[incident.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.put(incident)
	if milestone != nil {
		r.milestones = append(r.milestones, milestone)
	}
	r.saves++
	return nil
}

func (r *fakeIncidentRepo) GetByID(ctx context.Context, id string) (*domain.Incident, error) {
	incident, ok := r.incidents[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *incident
	return &copied, nil
}

func (r *fakeIncidentRepo) GetByReference(ctx context.Context, reference string) (*domain.Incident, error) {
	for _, incident := range r.incidents {
		if incident.Reference == reference {
			copied := *incident
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeIncidentRepo) ListWithFilter(ctx context.Context, filter repository.IncidentFilter) ([]domain.Incident, error) {
	result := []domain.Incident{}
	for _, incident := range r.incidents {
		result = append(result, *incident)
	}
	return result, nil
}

type fakeTicketRepo struct {
	byKey   map[string]*domain.ExternalTicket
	mirrors int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{byKey: map[string]*domain.ExternalTicket{}}
}

func (r *fakeTicketRepo) Create(ctx context.Context, ticket *domain.ExternalTicket) error {
	r.byKey[ticket.ExternalKey] = ticket
	return nil
}

func (r *fakeTicketRepo) GetByKey(ctx context.Context, externalKey string) (*domain.ExternalTicket, error) {
	ticket, ok := r.byKey[externalKey]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return ticket, nil
}

func (r *fakeTicketRepo) GetByIncident(ctx context.Context, incidentID string) (*domain.ExternalTicket, error) {
	for _, ticket := range r.byKey {
		if ticket.IncidentID == incidentID {
			return ticket, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeTicketRepo) UpdateExternalState(ctx context.Context, externalKey, status, priority string) error {
	ticket, ok := r.byKey[externalKey]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.Status = status
	ticket.Priority = priority
	r.mirrors++
	return nil
}

type fakeUserRepo struct {
	byID       map[string]*domain.User
	byExternal map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: map[string]*domain.User{}, byExternal: map[string]*domain.User{}}
}

func (r *fakeUserRepo) add(user *domain.User) {
	r.byID[user.ID] = user
	if user.ExternalAccountID != nil {
		r.byExternal[*user.ExternalAccountID] = user
	}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.add(user)
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, ok := r.byID[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, user := range r.byID {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByExternalAccountID(ctx context.Context, accountID string) (*domain.User, error) {
	user, ok := r.byExternal[accountID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return user, nil
}

type fakeRoleRepo struct {
	assignments []*domain.RoleAssignment
}

func (r *fakeRoleRepo) Assign(ctx context.Context, assignment *domain.RoleAssignment) error {
	if assignment.Role.Singleton() {
		kept := r.assignments[:0]
		for _, existing := range r.assignments {
			if existing.IncidentID == assignment.IncidentID && existing.Role == assignment.Role {
				continue
			}
			kept = append(kept, existing)
		}
		r.assignments = kept
	}
	r.assignments = append(r.assignments, assignment)
	return nil
}

func (r *fakeRoleRepo) GetByRole(ctx context.Context, incidentID string, role domain.IncidentRole) (*domain.RoleAssignment, error) {
	for _, assignment := range r.assignments {
		if assignment.IncidentID == incidentID && assignment.Role == role {
			return assignment, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeRoleRepo) ListByIncident(ctx context.Context, incidentID string) ([]domain.RoleAssignment, error) {
	result := []domain.RoleAssignment{}
	for _, assignment := range r.assignments {
		if assignment.IncidentID == incidentID {
			result = append(result, *assignment)
		}
	}
	return result, nil
}

type fakeTicketClient struct {
	patches     []map[string]any
	transitions []string
	created     []IssueCreate
	failUpdate  bool
	nextKey     string
}

func (c *fakeTicketClient) GetIssue(ctx context.Context, key string) (*Issue, error) {
	return &Issue{Key: key}, nil
}

func (c *fakeTicketClient) CreateIssue(ctx context.Context, in IssueCreate) (*Issue, error) {
	c.created = append(c.created, in)
	key := c.nextKey
	if key == "" {
		key = fmt.Sprintf("OPS-%d", len(c.created))
	}
	return &Issue{Key: key, Status: "Open", Priority: in.PriorityName}, nil
}

func (c *fakeTicketClient) UpdateFields(ctx context.Context, key string, patch map[string]any) error {
	if c.failUpdate {
		return fmt.Errorf("ticket system unavailable")
	}
	c.patches = append(c.patches, patch)
	return nil
}

func (c *fakeTicketClient) Transition(ctx context.Context, key, targetState string) error {
	c.transitions = append(c.transitions, targetState)
	return nil
}

func (c *fakeTicketClient) ExternalIdentityFor(ctx context.Context, user *domain.User) (string, error) {
	if user.ExternalAccountID == nil {
		return "", ErrIdentityNotFound
	}
	return *user.ExternalAccountID, nil
}

type engineFixture struct {
	engine    *Engine
	incidents *fakeIncidentRepo
	tickets   *fakeTicketRepo
	users     *fakeUserRepo
	roles     *fakeRoleRepo
	client    *fakeTicketClient
	metrics   *observability.Metrics
	now       *time.Time
}

func newEngineFixture(t *testing.T, guardTTL time.Duration) *engineFixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := &engineFixture{
		incidents: newFakeIncidentRepo(),
		tickets:   newFakeTicketRepo(),
		users:     newFakeUserRepo(),
		roles:     &fakeRoleRepo{},
		client:    &fakeTicketClient{},
		metrics:   observability.NewMetrics(),
		now:       &now,
	}
	f.engine = NewEngine(EngineDependencies{
		IncidentRepo: f.incidents,
		TicketRepo:   f.tickets,
		UserRepo:     f.users,
		RoleRepo:     f.roles,
		Guard:        NewMemoryLoopGuard(guardTTL, func() time.Time { return *f.now }),
		Client:       f.client,
		ProjectKey:   "OPS",
		Logger:       zap.NewNop(),
		Metrics:      f.metrics,
	})
	return f
}

func (f *engineFixture) advance(d time.Duration) {
	*f.now = f.now.Add(d)
}

func (f *engineFixture) seedIncident(status domain.IncidentStatus, priority domain.IncidentPriority) *domain.Incident {
	incident := &domain.Incident{
		ID:        "inc-1",
		Reference: "INC-AB12CD34",
		CreatorID: "user-1",
		Title:     "checkout latency",
		Status:    status,
		Priority:  priority,
	}
	f.incidents.put(incident)
	return incident
}

func (f *engineFixture) seedTicket(incidentID string) *domain.ExternalTicket {
	ticket := &domain.ExternalTicket{
		ExternalKey: "OPS-42",
		IncidentID:  incidentID,
		Status:      "Open",
		Priority:    "Medium",
		ProjectKey:  "OPS",
	}
	f.tickets.byKey[ticket.ExternalKey] = ticket
	return ticket
}

func TestApplyTicketStatus(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusOpen, domain.PriorityMedium)
	ticket := f.seedTicket(incident.ID)
	ctx := context.Background()

	require.True(t, f.engine.ApplyTicketStatus(ctx, ticket, "In Progress"))

	stored, err := f.incidents.GetByID(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMitigating, stored.Status)
	require.Len(t, f.incidents.milestones, 1)
	assert.Nil(t, f.incidents.milestones[0].AuthorID, "inbound milestone must be system-originated")
	assert.Equal(t, "In Progress", f.tickets.byKey["OPS-42"].Status, "external vocabulary mirrored on the link")
	assert.Equal(t, int64(1), f.metrics.SyncCount("inbound", "applied"))
}

func TestApplyTicketStatusIdempotent(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusOpen, domain.PriorityMedium)
	ticket := f.seedTicket(incident.ID)
	ctx := context.Background()

	require.True(t, f.engine.ApplyTicketStatus(ctx, ticket, "In Progress"))
	f.advance(time.Minute)
	require.True(t, f.engine.ApplyTicketStatus(ctx, ticket, "In Progress"),
		"equal status is a successful no-op")

	assert.Len(t, f.incidents.milestones, 1, "no duplicate milestone on replayed status")
	assert.Equal(t, 1, f.incidents.saves)
	assert.Equal(t, int64(1), f.metrics.SyncCount("inbound", "skipped"))
}

func TestApplyTicketStatusUnknownValue(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusOpen, domain.PriorityMedium)
	ticket := f.seedTicket(incident.ID)

	assert.False(t, f.engine.ApplyTicketStatus(context.Background(), ticket, "Cancelled"))
	stored, _ := f.incidents.GetByID(context.Background(), incident.ID)
	assert.Equal(t, domain.StatusOpen, stored.Status, "unknown status must not mutate")
	assert.Empty(t, f.incidents.milestones)
}

func TestApplyTicketStatusSuppressedByGuard(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusOpen, domain.PriorityMedium)
	ticket := f.seedTicket(incident.ID)
	ctx := context.Background()

	require.True(t, f.engine.ApplyTicketStatus(ctx, ticket, "In Progress"))
	assert.False(t, f.engine.ApplyTicketStatus(ctx, ticket, "Resolved"),
		"second inbound apply inside the TTL window is debounced")
	assert.Equal(t, 1, f.incidents.saves)
	assert.Equal(t, int64(1), f.metrics.SyncCount("inbound", "suppressed"))

	f.advance(time.Minute)
	require.True(t, f.engine.ApplyTicketStatus(ctx, ticket, "Resolved"))
	stored, _ := f.incidents.GetByID(ctx, incident.ID)
	assert.Equal(t, domain.StatusMitigated, stored.Status)
}

func TestApplyTicketPriority(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusInvestigating, domain.PriorityMedium)
	ticket := f.seedTicket(incident.ID)
	ctx := context.Background()

	require.True(t, f.engine.ApplyTicketPriority(ctx, ticket, "Highest"))
	stored, _ := f.incidents.GetByID(ctx, incident.ID)
	assert.Equal(t, domain.PriorityCritical, stored.Priority)
	assert.Equal(t, "Highest", f.tickets.byKey["OPS-42"].Priority)

	f.advance(time.Minute)
	assert.False(t, f.engine.ApplyTicketPriority(ctx, ticket, "Blocker"))
	stored, _ = f.incidents.GetByID(ctx, incident.ID)
	assert.Equal(t, domain.PriorityCritical, stored.Priority)
}

func TestHandleInboundEventUnknownTicket(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	f.seedIncident(domain.StatusOpen, domain.PriorityMedium)

	ok := f.engine.HandleInboundEvent(context.Background(), "OPS-999", []FieldDelta{
		{Field: "status", NewValue: "In Progress"},
	})
	assert.False(t, ok)
	assert.Empty(t, f.incidents.milestones, "unknown ticket key must not mutate anything")
	assert.Equal(t, 0, f.incidents.saves)
}

func TestHandleInboundEventFanOut(t *testing.T) {
	// zero TTL disables the debounce so every delta in the batch applies
	f := newEngineFixture(t, 0)
	incident := f.seedIncident(domain.StatusOpen, domain.PriorityMedium)
	f.seedTicket(incident.ID)
	ctx := context.Background()

	ok := f.engine.HandleInboundEvent(ctx, "OPS-42", []FieldDelta{
		{Field: "status", NewValue: "In Progress"},
		{Field: "summary", NewValue: "checkout latency spiking"},
		{Field: "labels", NewValue: []any{"sev2"}},
	})
	assert.True(t, ok, "unhandled fields are ignored, not failures")

	stored, _ := f.incidents.GetByID(ctx, incident.ID)
	assert.Equal(t, domain.StatusMitigating, stored.Status)
	assert.Equal(t, "checkout latency spiking", stored.Title)
	assert.Len(t, f.incidents.milestones, 2, "one milestone per handler, not per delta")
}

func TestApplyTicketFieldsAssignee(t *testing.T) {
	f := newEngineFixture(t, 0)
	incident := f.seedIncident(domain.StatusInvestigating, domain.PriorityHigh)
	ticket := f.seedTicket(incident.ID)
	accountID := "acct-7"
	f.users.add(&domain.User{ID: "user-7", Email: "sam@example.com", ExternalAccountID: &accountID})
	ctx := context.Background()

	ok := f.engine.ApplyTicketFields(ctx, ticket, map[string]any{
		"assignee": map[string]any{"accountId": "acct-7"},
	})
	require.True(t, ok)

	assignment, err := f.roles.GetByRole(ctx, incident.ID, domain.RoleCommander)
	require.NoError(t, err)
	assert.Equal(t, "user-7", assignment.UserID)
	require.Len(t, f.incidents.milestones, 1)
	assert.Contains(t, f.incidents.milestones[0].Message, "assignee")
}

func TestApplyTicketFieldsPartialFailure(t *testing.T) {
	f := newEngineFixture(t, 0)
	incident := f.seedIncident(domain.StatusInvestigating, domain.PriorityHigh)
	ticket := f.seedTicket(incident.ID)
	ctx := context.Background()

	ok := f.engine.ApplyTicketFields(ctx, ticket, map[string]any{
		"title":    "new title",
		"assignee": map[string]any{"accountId": "acct-unknown"},
	})
	assert.False(t, ok, "unresolvable assignee fails the batch")

	stored, _ := f.incidents.GetByID(ctx, incident.ID)
	assert.Equal(t, "new title", stored.Title, "the resolvable field still applies")
	require.Len(t, f.incidents.milestones, 1)
	assert.Contains(t, f.incidents.milestones[0].Message, "title")
	assert.NotContains(t, f.incidents.milestones[0].Message, "assignee")
}

func TestPushIncidentChangeProjection(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusMitigated, domain.PriorityHigh)
	f.seedTicket(incident.ID)
	accountID := "acct-7"
	f.users.add(&domain.User{ID: "user-7", ExternalAccountID: &accountID})
	require.NoError(t, f.roles.Assign(context.Background(), &domain.RoleAssignment{
		IncidentID: incident.ID, Role: domain.RoleCommander, UserID: "user-7",
	}))

	ok := f.engine.PushIncidentChange(context.Background(), incident,
		[]string{"title", "priority", "commander", "status"})
	require.True(t, ok)

	require.Len(t, f.client.patches, 1)
	patch := f.client.patches[0]
	assert.Equal(t, "checkout latency", patch["summary"])
	assert.Equal(t, map[string]any{"name": "High"}, patch["priority"])
	assert.Equal(t, map[string]any{"accountId": "acct-7"}, patch["assignee"])
	assert.NotContains(t, patch, "status", "status travels as a transition, never a field patch")

	assert.Equal(t, []string{"Resolved"}, f.client.transitions)
	assert.Equal(t, int64(1), f.metrics.SyncCount("outbound", "applied"))
}

func TestPushIncidentChangeDebounced(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusInvestigating, domain.PriorityMedium)
	f.seedTicket(incident.ID)
	ctx := context.Background()

	require.True(t, f.engine.PushIncidentChange(ctx, incident, []string{"title"}))
	assert.False(t, f.engine.PushIncidentChange(ctx, incident, []string{"title"}))
	assert.Len(t, f.client.patches, 1, "second push inside the TTL window must not reach the ticket system")

	f.advance(time.Minute)
	require.True(t, f.engine.PushIncidentChange(ctx, incident, []string{"title"}))
	assert.Len(t, f.client.patches, 2)
}

func TestPushIncidentChangeNoLinkedTicket(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusInvestigating, domain.PriorityMedium)

	assert.True(t, f.engine.PushIncidentChange(context.Background(), incident, []string{"title"}),
		"no linked ticket is a successful no-op")
	assert.Empty(t, f.client.patches)
}

func TestPushIncidentChangeFieldFailureIndependentOfTransition(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusMitigating, domain.PriorityMedium)
	f.seedTicket(incident.ID)
	f.client.failUpdate = true

	ok := f.engine.PushIncidentChange(context.Background(), incident, []string{"title", "status"})
	assert.False(t, ok)
	assert.Equal(t, []string{"In Progress"}, f.client.transitions,
		"the transition still fires when the field patch fails")
}

func TestEnsureTicket(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusOpen, domain.PriorityCritical)
	ctx := context.Background()

	require.True(t, f.engine.EnsureTicket(ctx, incident))
	require.Len(t, f.client.created, 1)
	assert.Equal(t, "OPS", f.client.created[0].ProjectKey)
	assert.Equal(t, "Highest", f.client.created[0].PriorityName)

	linked, err := f.tickets.GetByIncident(ctx, incident.ID)
	require.NoError(t, err)
	assert.Equal(t, "OPS-1", linked.ExternalKey)

	f.advance(time.Minute)
	require.True(t, f.engine.EnsureTicket(ctx, incident), "existing link short-circuits")
	assert.Len(t, f.client.created, 1)
}

func TestResync(t *testing.T) {
	f := newEngineFixture(t, 30*time.Second)
	incident := f.seedIncident(domain.StatusMitigated, domain.PriorityMedium)
	f.seedTicket(incident.ID)

	require.True(t, f.engine.Resync(context.Background(), incident.ID))
	require.Len(t, f.client.patches, 1)
	assert.Equal(t, "checkout latency", f.client.patches[0]["summary"])
	assert.Equal(t, []string{"Resolved"}, f.client.transitions)

	assert.False(t, f.engine.Resync(context.Background(), "missing"))
}
