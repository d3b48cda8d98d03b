package license

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bootlicense/internal/security"
)

const (
	testKey        = "BOOT-2024-ABCD-1234"
	testHardwareID = "a1b2c3d4e5f6g7h8"
	testGrace      = 72 * time.Hour
)

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testStart}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeAuthority struct {
	mu       sync.Mutex
	activate func(LicenseRequest) (*RemoteLicense, error)
	validate func(LicenseRequest) (*RemoteLicense, error)
	create   func(CreateRequest) error

	activateCalls int
	validateCalls int
	created       []CreateRequest
}

func (a *fakeAuthority) Activate(_ context.Context, req LicenseRequest) (*RemoteLicense, error) {
	a.mu.Lock()
	a.activateCalls++
	fn := a.activate
	a.mu.Unlock()
	if fn == nil {
		return nil, ErrUnreachable
	}
	return fn(req)
}

func (a *fakeAuthority) Validate(_ context.Context, req LicenseRequest) (*RemoteLicense, error) {
	a.mu.Lock()
	a.validateCalls++
	fn := a.validate
	a.mu.Unlock()
	if fn == nil {
		return nil, ErrUnreachable
	}
	return fn(req)
}

func (a *fakeAuthority) Create(_ context.Context, req CreateRequest) error {
	a.mu.Lock()
	a.created = append(a.created, req)
	fn := a.create
	a.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(req)
}

func (a *fakeAuthority) calls() (activate, validate int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.activateCalls, a.validateCalls
}

type memStore struct {
	mu      sync.Mutex
	record  *Record
	saves   int
	clears  int
	loadErr error
	saveErr error
}

func (s *memStore) Load(context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.record.Clone(), nil
}

func (s *memStore) Save(_ context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.record = r.Clone()
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	s.record = nil
	return nil
}

func (s *memStore) stored() *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Clone()
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// activeLicense is what the server returns for testKey
func activeLicense(now time.Time) *RemoteLicense {
	return &RemoteLicense{
		LicenseKey:           testKey,
		ClientName:           "Clinic Norte",
		ClientIdentification: "900123456",
		ExpirationDate:       now.Add(365 * 24 * time.Hour),
		Features:             []string{"case_processing", "reports"},
		Status:               StatusActive,
		DaysRemaining:        365,
	}
}

// storedRecord is a persisted active record last validated at lastValidation
func storedRecord(lastValidation time.Time) *Record {
	return &Record{
		LicenseKey:      testKey,
		ClientName:      "Clinic Norte",
		ExpirationDate:  testStart.Add(365 * 24 * time.Hour),
		Features:        []string{"case_processing", "reports"},
		Status:          StatusActive,
		HardwareID:      testHardwareID,
		LastValidation:  lastValidation,
		ValidationCount: 4,
		ActivatedAt:     lastValidation,
	}
}

type engineFixture struct {
	engine      *Engine
	store       *memStore
	authority   *fakeAuthority
	clock       *fakeClock
	transitions *[]Transition
}

func newEngineFixture(t *testing.T, store *memStore, mutate ...func(*Options)) *engineFixture {
	t.Helper()
	if store == nil {
		store = &memStore{}
	}
	f := &engineFixture{
		store:       store,
		authority:   &fakeAuthority{},
		clock:       newFakeClock(),
		transitions: &[]Transition{},
	}
	opts := Options{
		Store:        store,
		Authority:    f.authority,
		Hardware:     security.StaticHardwareID(testHardwareID),
		OfflineGrace: testGrace,
		AppVersion:   "1.0.0",
		Logger:       discardLogger(),
		Now:          f.clock.Now,
	}
	for _, m := range mutate {
		m(&opts)
	}

	e, err := NewEngine(opts)
	require.NoError(t, err)
	e.OnTransition(func(tr Transition) {
		*f.transitions = append(*f.transitions, tr)
	})
	require.NoError(t, e.Init(context.Background()))
	f.engine = e
	return f
}

func (f *engineFixture) states() []State {
	var out []State
	for _, tr := range *f.transitions {
		out = append(out, tr.To)
	}
	return out
}
