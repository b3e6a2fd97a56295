package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medical-records-access/internal/fanout"
	"medical-records-access/internal/ports/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------
// Test repo (in-memory, con CAS)
// -------------------------

type testRepo struct {
	mu       sync.Mutex
	requests map[string]Request
	grants   map[string]Grant

	// failWith hace fallar todas las operaciones (store caído).
	failWith error
}

func newTestRepo() *testRepo {
	return &testRepo{
		requests: map[string]Request{},
		grants:   map[string]Grant{},
	}
}

func (r *testRepo) CreateRequest(_ context.Context, req Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	for _, x := range r.requests {
		if x.IsPending() && x.DoctorID == req.DoctorID && x.PatientID == req.PatientID && x.Scope.Key() == req.Scope.Key() {
			return ErrDuplicatePending
		}
	}
	r.requests[req.ID] = req
	return nil
}

func (r *testRepo) GetRequest(_ context.Context, id string) (Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return Request{}, r.failWith
	}
	x, ok := r.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return x, nil
}

func (r *testRepo) ListRequestsByPatient(_ context.Context, patientID string) ([]Request, error) {
	return r.listRequests(func(x Request) bool { return x.PatientID == patientID })
}

func (r *testRepo) ListRequestsByDoctor(_ context.Context, doctorID string) ([]Request, error) {
	return r.listRequests(func(x Request) bool { return x.DoctorID == doctorID })
}

func (r *testRepo) listRequests(match func(Request) bool) ([]Request, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	out := make([]Request, 0)
	for _, x := range r.requests {
		if match(x) {
			out = append(out, x)
		}
	}
	return out, nil
}

func (r *testRepo) ResolveRequest(_ context.Context, req Request, g *Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	cur, ok := r.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if !cur.IsPending() {
		return ErrStaleState
	}
	r.requests[req.ID] = req
	if g != nil {
		r.grants[g.ID] = *g
	}
	return nil
}

func (r *testRepo) GetGrant(_ context.Context, id string) (Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return Grant{}, r.failWith
	}
	g, ok := r.grants[id]
	if !ok {
		return Grant{}, ErrNotFound
	}
	return g, nil
}

func (r *testRepo) ListGrantsByPatient(_ context.Context, patientID string) ([]Grant, error) {
	return r.listGrants(func(g Grant) bool { return g.PatientID == patientID })
}

func (r *testRepo) ListGrantsByDoctor(_ context.Context, doctorID string) ([]Grant, error) {
	return r.listGrants(func(g Grant) bool { return g.DoctorID == doctorID })
}

func (r *testRepo) ListGrantsForPair(_ context.Context, doctorID, patientID string) ([]Grant, error) {
	return r.listGrants(func(g Grant) bool { return g.DoctorID == doctorID && g.PatientID == patientID })
}

func (r *testRepo) listGrants(match func(Grant) bool) ([]Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	out := make([]Grant, 0)
	for _, g := range r.grants {
		if match(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *testRepo) RevokeGrant(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	g, ok := r.grants[id]
	if !ok {
		return ErrNotFound
	}
	if g.RevokedAt != nil {
		return ErrStaleState
	}
	g.RevokedAt = &at
	r.grants[id] = g
	return nil
}

// -------------------------
// Fakes
// -------------------------

type testPublisher struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (p *testPublisher) Publish(_ context.Context, ev fanout.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return 1
}

func (p *testPublisher) kinds() []fanout.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]fanout.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type testRecords struct {
	existing map[string]bool
}

func (t testRecords) RecordExists(_ context.Context, patientID, recordID string) (bool, error) {
	return t.existing[patientID+"/"+recordID], nil
}

type fixture struct {
	svc  *Service
	repo *testRepo
	pub  *testPublisher
	now  time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	repo := newTestRepo()
	pub := &testPublisher{}
	if opts.Publisher == nil {
		opts.Publisher = pub
	}

	svc := NewService(repo, opts)
	f := &fixture{svc: svc, repo: repo, pub: pub, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.now = func() time.Time { return f.now }

	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return f
}

func (f *fixture) request(t *testing.T, doctorID, patientID string, scope Scope) Request {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{
		DoctorID:  doctorID,
		PatientID: patientID,
		Scope:     scope,
		Reason:    "annual review",
	})
	require.NoError(t, err)
	return req
}

// -------------------------
// Tests
// -------------------------

func TestService_CreateRequest_Validation(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateRequestInput
	}{
		{"empty reason", CreateRequestInput{DoctorID: "D2", PatientID: "P1", Scope: SpecificRecord("rec42"), Reason: "   "}},
		{"empty record id", CreateRequestInput{DoctorID: "D2", PatientID: "P1", Scope: Scope{Kind: ScopeSpecificRecord}, Reason: "x"}},
		{"unknown scope", CreateRequestInput{DoctorID: "D2", PatientID: "P1", Scope: Scope{Kind: "weird"}, Reason: "x"}},
		{"missing patient", CreateRequestInput{DoctorID: "D2", Scope: AllRecords(), Reason: "x"}},
		{"self request", CreateRequestInput{DoctorID: "P1", PatientID: "P1", Scope: AllRecords(), Reason: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateRequest(ctx, tc.in)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	// nada persistido ni emitido
	items, err := f.svc.ListRequestsForPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Empty(t, f.pub.kinds())
}

func TestService_CreateRequest_DuplicatePending(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first := f.request(t, "D1", "P1", AllRecords())
	assert.Equal(t, StatusPending, first.Status)

	_, err := f.svc.CreateRequest(ctx, CreateRequestInput{DoctorID: "D1", PatientID: "P1", Scope: AllRecords(), Reason: "again"})
	require.ErrorIs(t, err, ErrDuplicatePending)

	// otro scope es otro triple
	other := f.request(t, "D1", "P1", SpecificRecord("rec42"))
	assert.NotEqual(t, first.ID, other.ID)

	// una vez decidido se puede volver a pedir
	_, err = f.svc.Decide(ctx, DecideInput{RequestID: first.ID, Decision: DecisionReject, PatientID: "P1", RejectionReason: "no"})
	require.NoError(t, err)
	f.request(t, "D1", "P1", AllRecords())
}

func TestService_CreateRequest_EmitsToBothParties(t *testing.T) {
	f := newFixture(t, Options{})
	req := f.request(t, "D1", "P1", AllRecords())

	require.Len(t, f.pub.events, 1)
	ev := f.pub.events[0]
	assert.Equal(t, fanout.KindRequestCreated, ev.Kind)
	assert.Equal(t, req.ID, ev.EntityID)
	assert.True(t, ev.AddressedTo("P1", auth.RolePatient))
	assert.True(t, ev.AddressedTo("D1", auth.RoleDoctor))
	assert.False(t, ev.AddressedTo("P1", auth.RoleDoctor))
	assert.Equal(t, "pending", ev.Payload.Status)
}

func TestService_Scenario1_ApproveCreatesActiveGrant(t *testing.T) {
	f := newFixture(t, Options{GrantTTL: 30 * 24 * time.Hour})
	ctx := context.Background()

	r1 := f.request(t, "D1", "P1", AllRecords())

	out, err := f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
	require.NotEmpty(t, out.GrantID)

	g, err := f.repo.GetGrant(ctx, out.GrantID)
	require.NoError(t, err)
	assert.Equal(t, AllRecords(), g.Scope)
	assert.Equal(t, r1.ID, g.RequestID)
	require.NotNil(t, g.ExpiresAt)
	assert.Equal(t, f.now.Add(30*24*time.Hour), *g.ExpiresAt)

	ok, err := f.svc.CheckAccess(ctx, "D1", "P1", "any-record")
	require.NoError(t, err)
	assert.True(t, ok)

	// otro doctor no
	ok, err = f.svc.CheckAccess(ctx, "D9", "P1", "any-record")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []fanout.Kind{fanout.KindRequestCreated, fanout.KindRequestUpdated}, f.pub.kinds())
}

func TestService_Scenario3_RejectCreatesNoGrant(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r1 := f.request(t, "D1", "P1", AllRecords())

	_, err := f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: DecisionReject, PatientID: "P1"})
	require.ErrorIs(t, err, ErrInvalidInput, "reject needs a reason")

	out, err := f.svc.Decide(ctx, DecideInput{
		RequestID:       r1.ID,
		Decision:        DecisionReject,
		PatientID:       "P1",
		RejectionReason: "insufficient justification",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, "insufficient justification", out.RejectionReason)
	assert.Empty(t, out.GrantID)

	grants, err := f.svc.ListGrantsForPatient(ctx, "P1")
	require.NoError(t, err)
	assert.Empty(t, grants)

	ok, err := f.svc.CheckAccess(ctx, "D2", "P1", "rec42")
	require.NoError(t, err)
	assert.False(t, ok)

	// terminal
	for _, d := range []Decision{DecisionApprove, DecisionReject} {
		_, err := f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: d, PatientID: "P1", RejectionReason: "again"})
		require.ErrorIs(t, err, ErrBadState)
		assert.Contains(t, err.Error(), "request already rejected")
	}
}

func TestService_Scenario4_RevokeFlipsAccess(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r1 := f.request(t, "D1", "P1", AllRecords())
	out, err := f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.NoError(t, err)

	ok, err := f.svc.CheckAccess(ctx, "D1", "P1", "rec1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Revoke(ctx, out.GrantID, "D1")
	require.ErrorIs(t, err, ErrForbidden)

	g, err := f.svc.Revoke(ctx, out.GrantID, "P1")
	require.NoError(t, err)
	require.NotNil(t, g.RevokedAt)

	ok, err = f.svc.CheckAccess(ctx, "D1", "P1", "rec1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.Revoke(ctx, out.GrantID, "P1")
	require.ErrorIs(t, err, ErrBadState)
	assert.Contains(t, err.Error(), "grant already revoked")

	_, err = f.svc.Revoke(ctx, "missing", "P1")
	require.ErrorIs(t, err, ErrNotFound)

	kinds := f.pub.kinds()
	assert.Equal(t, fanout.KindGrantRevoked, kinds[len(kinds)-1])
}

func TestService_Decide_Errors(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Decide(ctx, DecideInput{RequestID: "nope", Decision: DecisionApprove, PatientID: "P1"})
	require.ErrorIs(t, err, ErrNotFound)

	r1 := f.request(t, "D1", "P1", AllRecords())

	_, err = f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: DecisionApprove, PatientID: "P2"})
	require.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: "maybe", PatientID: "P1"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, DecideInput{RequestID: r1.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.ErrorIs(t, err, ErrBadState)
	assert.Equal(t, "invalid state: request already approved", Message(err))
}

func TestService_SpecificRecordScope(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r := f.request(t, "D2", "P1", SpecificRecord("rec42"))
	_, err := f.svc.Decide(ctx, DecideInput{RequestID: r.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.NoError(t, err)

	ok, err := f.svc.CheckAccess(ctx, "D2", "P1", "rec42")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.CheckAccess(ctx, "D2", "P1", "rec43")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.CheckAccess(ctx, "D2", "P1", "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_Approve_MissingRecordIsNotFound(t *testing.T) {
	f := newFixture(t, Options{Records: testRecords{existing: map[string]bool{"P1/rec1": true}}})
	ctx := context.Background()

	gone := f.request(t, "D1", "P1", SpecificRecord("rec-deleted"))
	_, err := f.svc.Decide(ctx, DecideInput{RequestID: gone.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.ErrorIs(t, err, ErrNotFound)

	// sigue pending: el patient puede rechazarlo
	stored, err := f.svc.GetRequest(ctx, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)

	ok := f.request(t, "D1", "P1", SpecificRecord("rec1"))
	_, err = f.svc.Decide(ctx, DecideInput{RequestID: ok.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.NoError(t, err)
}

func TestService_GrantExpiry(t *testing.T) {
	f := newFixture(t, Options{GrantTTL: time.Hour})
	ctx := context.Background()

	r := f.request(t, "D1", "P1", AllRecords())
	_, err := f.svc.Decide(ctx, DecideInput{RequestID: r.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.NoError(t, err)

	f.now = f.now.Add(59 * time.Minute)
	ok, err := f.svc.CheckAccess(ctx, "D1", "P1", "rec1")
	require.NoError(t, err)
	assert.True(t, ok)

	f.now = f.now.Add(time.Minute)
	ok, err = f.svc.CheckAccess(ctx, "D1", "P1", "rec1")
	require.NoError(t, err)
	assert.False(t, ok, "expired grant must not authorize")
}

func TestService_NoTTLMeansIndefinite(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r := f.request(t, "D1", "P1", AllRecords())
	out, err := f.svc.Decide(ctx, DecideInput{RequestID: r.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.NoError(t, err)

	g, err := f.repo.GetGrant(ctx, out.GrantID)
	require.NoError(t, err)
	assert.Nil(t, g.ExpiresAt)
}

func TestService_Cancel(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	r := f.request(t, "D1", "P1", AllRecords())

	_, err := f.svc.Cancel(ctx, r.ID, "D2")
	require.ErrorIs(t, err, ErrForbidden)

	out, err := f.svc.Cancel(ctx, r.ID, "D1")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, CancelReason, out.RejectionReason)

	_, err = f.svc.Decide(ctx, DecideInput{RequestID: r.ID, Decision: DecisionApprove, PatientID: "P1"})
	require.ErrorIs(t, err, ErrBadState)

	_, err = f.svc.Cancel(ctx, r.ID, "D1")
	require.ErrorIs(t, err, ErrBadState)
}

func TestService_ConcurrentDecisions_ExactlyOneWins(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r := f.request(t, "D1", "P1", AllRecords())

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
		bad  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			switch i % 3 {
			case 0:
				_, err = f.svc.Decide(ctx, DecideInput{RequestID: r.ID, Decision: DecisionApprove, PatientID: "P1"})
			case 1:
				_, err = f.svc.Decide(ctx, DecideInput{RequestID: r.ID, Decision: DecisionReject, PatientID: "P1", RejectionReason: "no"})
			default:
				_, err = f.svc.Cancel(ctx, r.ID, "D1")
			}
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, ErrBadState) {
				bad++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, bad)

	stored, err := f.svc.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	grants, err := f.svc.ListGrantsForPatient(ctx, "P1")
	require.NoError(t, err)
	if stored.Status == StatusApproved {
		assert.Len(t, grants, 1)
	} else {
		assert.Empty(t, grants)
	}
}

// El CAS del repo es la última defensa aunque el lock del service no aplique
// (por ejemplo, dos instancias del servicio contra el mismo store).
func TestService_StaleStateFromRepoIsBadState(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	r := f.request(t, "D1", "P1", AllRecords())

	other := NewService(f.repo, Options{})
	_, err := other.Decide(ctx, DecideInput{RequestID: r.ID, Decision: DecisionReject, PatientID: "P1", RejectionReason: "no"})
	require.NoError(t, err)

	stale := r
	stale.Status = StatusApproved
	err = f.svc.resolve(ctx, stale, nil)
	require.ErrorIs(t, err, ErrBadState)
	assert.Contains(t, err.Error(), "already rejected")
}

func TestService_StoreFailureOnWritePropagates(t *testing.T) {
	f := newFixture(t, Options{})
	f.repo.failWith = errors.New("connection refused")

	_, err := f.svc.CreateRequest(context.Background(), CreateRequestInput{DoctorID: "D1", PatientID: "P1", Scope: AllRecords(), Reason: "x"})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, "service temporarily unavailable, please retry", Message(err))
	assert.Empty(t, f.pub.kinds())
}

func TestService_ListsAreNewestFirst(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	a := f.request(t, "D1", "P1", SpecificRecord("a"))
	f.now = f.now.Add(time.Minute)
	b := f.request(t, "D1", "P1", SpecificRecord("b"))

	items, err := f.svc.ListRequestsForDoctor(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID)
	assert.Equal(t, a.ID, items[1].ID)
}

func TestScope_Covers(t *testing.T) {
	assert.True(t, AllRecords().Covers("x"))
	assert.True(t, SpecificRecord("x").Covers("x"))
	assert.False(t, SpecificRecord("x").Covers("y"))
	assert.False(t, Scope{Kind: ScopeSpecificRecord}.Covers(""))
}
