package rules

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/raaihank/bolahunter/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingStore struct {
	settings.Store
	failWrites bool
	failReads  bool
}

func (f *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failReads {
		return "", false, errors.New("connection refused")
	}
	return f.Store.Get(ctx, key)
}

func (f *failingStore) SetMany(ctx context.Context, values map[string]string) error {
	if f.failWrites {
		return errors.New("connection refused")
	}
	return f.Store.SetMany(ctx, values)
}

func newTestStore(t *testing.T, backend settings.Store) *Store {
	t.Helper()
	s := NewStore(backend, zap.NewNop())
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestLoadDefaultsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	backend := settings.NewMemory()
	s := newTestStore(t, backend)

	assert.Equal(t, Defaults(), s.All())
	assert.Len(t, s.Enabled(), 4)

	count, ok, _ := backend.Get(ctx, "Rule_Count")
	require.True(t, ok)
	assert.Equal(t, "4", count)

	name, _, _ := backend.Get(ctx, "Rule_2_Name")
	assert.Equal(t, "Int ID", name)
	enabled, _, _ := backend.Get(ctx, "Rule_2_Enabled")
	assert.Equal(t, "true", enabled)
}

func TestLoadPersistedRules(t *testing.T) {
	ctx := context.Background()
	backend := settings.NewMemory()
	require.NoError(t, backend.SetMany(ctx, map[string]string{
		"Rule_Count":     "3",
		"Rule_0_Name":    "Order",
		"Rule_0_Pattern": `ord_[0-9]+`,
		"Rule_0_Enabled": "TRUE",
		"Rule_1_Name":    "Broken",
		// Rule_1_Pattern missing: entry is skipped
		"Rule_2_Name":    "Account",
		"Rule_2_Pattern": `acc-[a-z]+`,
		"Rule_2_Enabled": "no",
	}))

	s := newTestStore(t, backend)

	assert.Equal(t, []Rule{
		{Name: "Order", Pattern: `ord_[0-9]+`, Enabled: true},
		{Name: "Account", Pattern: `acc-[a-z]+`, Enabled: false},
	}, s.All())
	require.Len(t, s.Enabled(), 1)
	assert.Equal(t, "Order", s.Enabled()[0].Name)
}

func TestLoadFallsBackOnMalformedCount(t *testing.T) {
	backend := settings.NewMemory()
	require.NoError(t, backend.Set(context.Background(), "Rule_Count", "many"))

	s := newTestStore(t, backend)
	assert.Equal(t, Defaults(), s.All())
}

func TestLoadFallsBackOnReadFailure(t *testing.T) {
	backend := &failingStore{Store: settings.NewMemory(), failReads: true}
	s := newTestStore(t, backend)
	assert.Equal(t, Defaults(), s.All())
}

func TestAddRule(t *testing.T) {
	ctx := context.Background()
	backend := settings.NewMemory()
	s := newTestStore(t, backend)

	require.NoError(t, s.Add(ctx, "  Order  ", ` ord_[0-9]+ `))
	all := s.All()
	require.Len(t, all, 5)
	assert.Equal(t, Rule{Name: "Order", Pattern: `ord_[0-9]+`, Enabled: true}, all[4])

	count, _, _ := backend.Get(ctx, "Rule_Count")
	assert.Equal(t, "5", count)
	pattern, _, _ := backend.Get(ctx, "Rule_4_Pattern")
	assert.Equal(t, `ord_[0-9]+`, pattern)

	assert.ErrorIs(t, s.Add(ctx, "", "x"), ErrInvalidRule)
	assert.ErrorIs(t, s.Add(ctx, "x", "   "), ErrInvalidRule)
	assert.Len(t, s.All(), 5)
}

func TestSetEnabled(t *testing.T) {
	ctx := context.Background()
	backend := settings.NewMemory()
	s := newTestStore(t, backend)

	require.NoError(t, s.SetEnabled(ctx, 0, false))
	assert.False(t, s.All()[0].Enabled)
	assert.Len(t, s.Enabled(), 3)
	assert.Equal(t, "Email", s.Enabled()[0].Name)

	stored, _, _ := backend.Get(ctx, "Rule_0_Enabled")
	assert.Equal(t, "false", stored)

	assert.ErrorIs(t, s.SetEnabled(ctx, 9, true), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.SetEnabled(ctx, -1, true), ErrIndexOutOfRange)
}

func TestRulesSurviveReload(t *testing.T) {
	ctx := context.Background()
	backend := settings.NewMemory()
	s := newTestStore(t, backend)
	require.NoError(t, s.Add(ctx, "Order", `ord_[0-9]+`))
	require.NoError(t, s.SetEnabled(ctx, 1, false))

	reloaded := newTestStore(t, backend)
	assert.Equal(t, s.All(), reloaded.All())
}

func TestResetToDefaults(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, settings.NewMemory())
	require.NoError(t, s.Add(ctx, "Order", `ord_[0-9]+`))
	require.NoError(t, s.SetEnabled(ctx, 0, false))

	require.NoError(t, s.ResetToDefaults(ctx))
	assert.Equal(t, Defaults(), s.All())
}

func TestPersistFailureStillPublishes(t *testing.T) {
	ctx := context.Background()
	backend := &failingStore{Store: settings.NewMemory()}
	s := newTestStore(t, backend)

	backend.failWrites = true
	err := s.Add(ctx, "Order", `ord_[0-9]+`)
	assert.Error(t, err)
	assert.Len(t, s.All(), 5)
}

func TestInvalidPatternIsInert(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, settings.NewMemory())

	require.NoError(t, s.Add(ctx, "Lookahead", `(?=usr_)\w+`))
	bad := s.Enabled()[4]
	assert.Error(t, bad.Err)
	assert.Nil(t, bad.FindAll("usr_abc"))
	_, ok := bad.FindFirst("usr_abc")
	assert.False(t, ok)
	assert.False(t, bad.MatchesWhole("usr_abc"))
}

func TestCompiledRuleMatching(t *testing.T) {
	intID := Compile(Rule{Name: "Int ID", Pattern: `\b[0-9]{4,10}\b`, Enabled: true})
	require.NoError(t, intID.Err)

	assert.Equal(t, []string{"1234", "99887"}, intID.FindAll("/api/users/1234/orders/99887?page=12"))
	first, ok := intID.FindFirst("/api/users/1234/orders/99887")
	assert.True(t, ok)
	assert.Equal(t, "1234", first)

	assert.True(t, intID.MatchesWhole("5678"))
	assert.False(t, intID.MatchesWhole("usr_5678"))
	assert.False(t, intID.MatchesWhole("123"))

	email := Compile(Defaults()[1])
	assert.Equal(t, []string{"alice@example.com"}, email.FindAll(`{"email":"alice@example.com"}`))
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, settings.NewMemory())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for _, r := range s.Enabled() {
					assert.NotEmpty(t, r.Name)
					r.FindAll("/api/users/1234")
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, s.SetEnabled(ctx, i%4, i%2 == 0))
	}
	wg.Wait()
}
