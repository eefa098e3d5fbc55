package generic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// testKind keeps these tests independent of the tuition and salary packages.
type testKind struct {
	id  string
	dir generic.Direction
}

func (k testKind) KindID() string               { return k.id }
func (k testKind) KindDomain() string           { return "test" }
func (k testKind) Direction() generic.Direction { return k.dir }

var (
	pupilKind  = testKind{id: "pupil", dir: generic.DirectionIncome}
	workerKind = testKind{id: "worker", dir: generic.DirectionExpense}
)

func init() {
	generic.RegisterKind(pupilKind)
	generic.RegisterKind(workerKind)
}

func pupil(id string) generic.SubjectRef {
	return generic.SubjectRef{Kind: pupilKind, ID: generic.SubjectID(id)}
}

func worker(id string) generic.SubjectRef {
	return generic.SubjectRef{Kind: workerKind, ID: generic.SubjectID(id)}
}

var (
	admin      = generic.Actor{TenantID: "school-a", ActorID: "admin-1", Role: generic.RoleAdmin}
	accountant = generic.Actor{TenantID: "school-a", ActorID: "acc-1", Role: generic.RoleAccountant}
	director   = generic.Actor{TenantID: "school-a", ActorID: "dir-1", Role: generic.RoleDirector}
	teacher    = generic.Actor{TenantID: "school-a", ActorID: "tch-1", Role: generic.RoleTeacher}
	otherAdmin = generic.Actor{TenantID: "school-b", ActorID: "admin-b", Role: generic.RoleAdmin}
)

// testNow is the fixture clock's starting instant.
var testNow = time.Date(2024, time.November, 5, 10, 30, 0, 0, time.UTC)

type fixture struct {
	ctx    context.Context
	engine *generic.Engine
	store  *store.TxMemory
	clock  *generic.FixedClock
}

func newFixture(t *testing.T, configure ...func(*generic.Options)) *fixture {
	t.Helper()
	clock := generic.NewFixedClock(testNow)
	st := store.NewTxMemory()
	opts := generic.Options{Clock: clock}
	for _, fn := range configure {
		fn(&opts)
	}
	return &fixture{
		ctx:    context.Background(),
		engine: generic.NewEngine(st, opts),
		store:  st,
		clock:  clock,
	}
}

func uzs(units int64) decimal.Decimal {
	return generic.UZS(units)
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// register creates a subject with a rate effective from September 2024.
func (f *fixture) register(t *testing.T, ref generic.SubjectRef, rate int64) generic.Subject {
	t.Helper()
	subj, err := f.engine.Subjects.Register(f.ctx, accountant, generic.RegisterSubjectInput{
		Ref:           ref,
		Name:          "Subject " + string(ref.ID),
		Rate:          ptr(uzs(rate)),
		EffectiveFrom: generic.Date(2024, time.September, 1),
	})
	require.NoError(t, err)
	return subj
}

// oneOff creates a registered subject plus a single obligation of amount.
func (f *fixture) oneOff(t *testing.T, ref generic.SubjectRef, amount int64) generic.Obligation {
	t.Helper()
	if _, err := f.store.GetSubject(f.ctx, accountant.TenantID, ref); err != nil {
		f.register(t, ref, amount)
	}
	o, err := f.engine.Obligations.Create(f.ctx, accountant, generic.CreateObligationInput{
		Subject:     ref,
		Amount:      uzs(amount),
		Description: "test obligation",
	})
	require.NoError(t, err)
	return o
}

func (f *fixture) settle(id generic.ObligationID, amount int64, method generic.Method) (generic.SettlementResult, error) {
	return f.engine.Settler.Apply(f.ctx, accountant, generic.SettleInput{
		ObligationID: id,
		Amount:       uzs(amount),
		Method:       method,
	})
}

func (f *fixture) get(t *testing.T, id generic.ObligationID) generic.Obligation {
	t.Helper()
	o, err := f.engine.Obligations.Get(f.ctx, accountant, id)
	require.NoError(t, err)
	return o
}

func requireDecimal(t *testing.T, want int64, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, uzs(want).Equal(got), "want %d, got %s %v", want, got, msgAndArgs)
}

// conflictingStore rejects the next `failures` obligation updates as if
// another writer had bumped the version first.
type conflictingStore struct {
	*store.TxMemory

	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictingStore) UpdateObligation(ctx context.Context, o generic.Obligation, expectedVersion int64, c *generic.Contribution) error {
	s.mu.Lock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return generic.ErrConcurrentModification
	}
	s.mu.Unlock()
	return s.TxMemory.UpdateObligation(ctx, o, expectedVersion, c)
}

// arm makes the next n updates conflict and resets the call counter.
func (s *conflictingStore) arm(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.calls = 0
}

func (s *conflictingStore) updateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// newConflictFixture builds a fixture whose engine writes through a
// conflictingStore. Conflicts stay off until arm is called.
func newConflictFixture(t *testing.T, configure ...func(*generic.Options)) (*fixture, *conflictingStore) {
	t.Helper()
	clock := generic.NewFixedClock(testNow)
	st := &conflictingStore{TxMemory: store.NewTxMemory()}
	opts := generic.Options{Clock: clock}
	for _, fn := range configure {
		fn(&opts)
	}
	return &fixture{
		ctx:    context.Background(),
		engine: generic.NewEngine(st, opts),
		store:  st.TxMemory,
		clock:  clock,
	}, st
}
