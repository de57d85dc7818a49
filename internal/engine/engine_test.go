package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/raaihank/bolahunter/internal/capture"
	"github.com/raaihank/bolahunter/internal/rules"
	"github.com/raaihank/bolahunter/internal/settings"
	"github.com/raaihank/bolahunter/internal/traffic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEngine(t *testing.T, ruleSet ...rules.Rule) *Engine {
	t.Helper()
	ctx := context.Background()
	backend := settings.NewMemory()

	if len(ruleSet) > 0 {
		values := map[string]string{"Rule_Count": strconv.Itoa(len(ruleSet))}
		for i, r := range ruleSet {
			values[fmt.Sprintf("Rule_%d_Name", i)] = r.Name
			values[fmt.Sprintf("Rule_%d_Pattern", i)] = r.Pattern
			values[fmt.Sprintf("Rule_%d_Enabled", i)] = strconv.FormatBool(r.Enabled)
		}
		require.NoError(t, backend.SetMany(ctx, values))
	}

	store := rules.NewStore(backend, zap.NewNop())
	require.NoError(t, store.Load(ctx))
	return New(store, capture.NewPool(), zap.NewNop())
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func seed(e *Engine, value, rule string) *capture.Item {
	req := traffic.MustRequest("GET", "http://api.local/seed/"+value)
	item, _ := e.Pool().InsertIfAbsent(value, rule, req, nil)
	return item
}

func TestHarvestFromPath(t *testing.T) {
	e := newEngine(t)
	rec := &recorder{}
	e.SetObserver(rec)

	req := traffic.MustRequest("GET", "http://api.local/orders/9001")
	inserted := e.HarvestFromPath(req)

	assert.Equal(t, []string{"9001"}, inserted)
	item, ok := e.Pool().Get("9001")
	require.True(t, ok)
	assert.Equal(t, "Int ID", item.RuleName)
	assert.Equal(t, "GET", item.Method)
	assert.Equal(t, "http://api.local/orders/9001", item.URL)
	assert.False(t, item.HasResponse())
	assert.True(t, item.Active())

	captured := rec.ofType(EventItemCaptured)
	require.Len(t, captured, 1)
	assert.Equal(t, SourcePath, captured[0].Source)
	assert.Equal(t, "9001", captured[0].Item.Value)
}

func TestHarvestAllMatchesInRuleOrder(t *testing.T) {
	e := newEngine(t)
	req := traffic.MustRequest("GET",
		"/users/usr_alice/orders/1234/items/5678?owner=bob@example.com&ref=3f2b8c1e-1a2b-4c3d-8e9f-0a1b2c3d4e5f")

	inserted := e.HarvestFromPath(req)
	assert.Equal(t, []string{
		"3f2b8c1e-1a2b-4c3d-8e9f-0a1b2c3d4e5f",
		"bob@example.com",
		"1234",
		"5678",
		"usr_alice",
	}, inserted)
}

func TestHarvestIsIdempotent(t *testing.T) {
	e := newEngine(t,
		rules.Rule{Name: "Int ID", Pattern: `\b[0-9]{4,10}\b`, Enabled: true},
		rules.Rule{Name: "Any Digits", Pattern: `[0-9]+`, Enabled: true},
	)
	req := traffic.MustRequest("GET", "/orders/9001")

	assert.Equal(t, []string{"9001"}, e.HarvestFromPath(req))
	assert.Empty(t, e.HarvestFromPath(req))

	body := traffic.NewResponse(req, `{"id":9001}`)
	assert.Empty(t, e.HarvestFromBody(body))

	item, _ := e.Pool().Get("9001")
	assert.Equal(t, "Int ID", item.RuleName)
	assert.False(t, item.HasResponse())
	assert.Equal(t, 1, e.Pool().Len())
}

func TestHarvestSkipsDisabledAndBrokenRules(t *testing.T) {
	e := newEngine(t,
		rules.Rule{Name: "Broken", Pattern: `(?<=id=)\d+`, Enabled: true},
		rules.Rule{Name: "Off", Pattern: `ord_[0-9]+`, Enabled: false},
		rules.Rule{Name: "User Ref", Pattern: `usr_[a-zA-Z0-9]+`, Enabled: true},
	)
	req := traffic.MustRequest("GET", "/o/ord_1?id=42&u=usr_x1")

	assert.Equal(t, []string{"usr_x1"}, e.HarvestFromPath(req))
}

func TestHarvestFromBodyCarriesResponse(t *testing.T) {
	e := newEngine(t)
	req := traffic.MustRequest("GET", "/me")
	resp := traffic.NewResponse(req, `{"ownerId":"usr_abc123","email":"alice@example.com"}`)

	inserted := e.HarvestFromBody(resp)
	assert.Equal(t, []string{"alice@example.com", "usr_abc123"}, inserted)

	item, _ := e.Pool().Get("usr_abc123")
	assert.Equal(t, "User Ref", item.RuleName)
	assert.Same(t, resp, item.Response())
	assert.Same(t, req, item.Request)
}

func TestHarvestFromBodyWithoutRequest(t *testing.T) {
	e := newEngine(t)
	resp := traffic.NewResponse(nil, `{"ownerId":"usr_abc123"}`)

	assert.NotPanics(t, func() {
		assert.Empty(t, e.HarvestFromBody(resp))
	})
	assert.Zero(t, e.Pool().Len())
	assert.Zero(t, e.Stats().Harvested)
}

func TestCorrelateAttachesOnce(t *testing.T) {
	e := newEngine(t)
	rec := &recorder{}
	e.SetObserver(rec)

	req := traffic.MustRequest("GET", "/orders/9001")
	e.HarvestFromPath(req)

	first := traffic.NewResponse(req, `{"status":"first"}`)
	assert.Equal(t, 1, e.Correlate(first))

	again := traffic.MustRequest("GET", "/orders/9001")
	second := traffic.NewResponse(again, `{"status":"second"}`)
	assert.Equal(t, 0, e.Correlate(second))

	item, _ := e.Pool().Get("9001")
	assert.Same(t, first, item.Response())
	assert.Len(t, rec.ofType(EventResponseAttached), 1)
}

func TestCorrelateIgnoresUnknownAndBodyOnlyValues(t *testing.T) {
	e := newEngine(t)
	req := traffic.MustRequest("GET", "/orders/9001")

	resp := traffic.NewResponse(req, `{"ownerId":"usr_abc123"}`)
	assert.Equal(t, 0, e.Correlate(resp), "9001 was never harvested")

	seed(e, "usr_abc123", "User Ref")
	assert.Equal(t, 0, e.Correlate(resp), "body values are not backfilled")

	item, _ := e.Pool().Get("usr_abc123")
	assert.False(t, item.HasResponse())
}

func TestMaybeAttackGating(t *testing.T) {
	t.Run("disarmed", func(t *testing.T) {
		e := newEngine(t)
		seed(e, "5678", "Int ID")
		req := traffic.MustRequest("GET", "/api/users/1234/orders")
		assert.Same(t, req, e.MaybeAttack(req))
	})

	t.Run("armed with empty pool", func(t *testing.T) {
		e := newEngine(t)
		e.Arm()
		req := traffic.MustRequest("GET", "/api/users/1234/orders")
		assert.Same(t, req, e.MaybeAttack(req))
	})

	t.Run("replay tool", func(t *testing.T) {
		e := newEngine(t)
		e.Arm()
		seed(e, "5678", "Int ID")
		req := traffic.MustRequest("GET", "/api/users/1234/orders").AsReplay()
		assert.Same(t, req, e.MaybeAttack(req))
	})

	t.Run("explicit flags", func(t *testing.T) {
		e := newEngine(t)
		seed(e, "5678", "Int ID")
		req := traffic.MustRequest("GET", "/api/users/1234/orders")
		assert.Same(t, req, e.maybeAttack(req, false, false))
		assert.Same(t, req, e.maybeAttack(req, true, true))
		assert.Equal(t, "/api/users/5678/orders", e.maybeAttack(req, true, false).Path())
	})
}

// pinnedRequest refuses every path rewrite.
type pinnedRequest struct {
	*traffic.SimpleRequest
}

func (p pinnedRequest) WithPath(string) traffic.Request { return p }

func TestMaybeAttackRejectedRewriteIsNotCounted(t *testing.T) {
	e := newEngine(t)
	rec := &recorder{}
	e.SetObserver(rec)
	e.Arm()
	seed(e, "5678", "Int ID")

	req := pinnedRequest{traffic.MustRequest("GET", "/api/users/1234/orders")}
	out := e.MaybeAttack(req)

	assert.Equal(t, "/api/users/1234/orders", out.Path())
	assert.Zero(t, e.Stats().Attacks)
	assert.Empty(t, rec.ofType(EventAttackPerformed))
}

func TestMaybeAttackSubstitutes(t *testing.T) {
	e := newEngine(t)
	rec := &recorder{}
	e.SetObserver(rec)
	e.Arm()
	seed(e, "5678", "Int ID")

	req := traffic.MustRequest("GET", "http://api.local/api/users/1234/orders")
	out := e.MaybeAttack(req)

	assert.Equal(t, "/api/users/5678/orders", out.Path())
	assert.Equal(t, "http://api.local/api/users/5678/orders", out.URL())
	assert.Equal(t, "/api/users/1234/orders", req.Path(), "input is not mutated")

	attacks := rec.ofType(EventAttackPerformed)
	require.Len(t, attacks, 1)
	assert.Equal(t, "1234", attacks[0].Original)
	assert.Equal(t, "5678", attacks[0].Replacement)
	assert.Equal(t, "Int ID", attacks[0].Rule)
	assert.Equal(t, int64(1), e.Stats().Attacks)
}

func TestMaybeAttackReplacesEveryOccurrence(t *testing.T) {
	e := newEngine(t)
	e.Arm()
	seed(e, "5678", "Int ID")

	req := traffic.MustRequest("GET", "/users/1234/copy/1234?from=1234")
	assert.Equal(t, "/users/5678/copy/5678?from=5678", e.MaybeAttack(req).Path())
}

func TestMaybeAttackNoSelfSubstitution(t *testing.T) {
	e := newEngine(t)
	e.Arm()
	seed(e, "1234", "Int ID")

	req := traffic.MustRequest("GET", "/api/users/1234/orders")
	assert.Same(t, req, e.MaybeAttack(req))
}

func TestMaybeAttackSkipsInactiveCandidates(t *testing.T) {
	e := newEngine(t)
	e.Arm()
	seed(e, "5678", "Int ID")
	seed(e, "7777", "Int ID")
	_, ok := e.SetActive("5678", false)
	require.True(t, ok)

	req := traffic.MustRequest("GET", "/api/users/1234")
	assert.Equal(t, "/api/users/7777", e.MaybeAttack(req).Path())

	_, ok = e.SetActive("7777", false)
	require.True(t, ok)
	assert.Same(t, req, e.MaybeAttack(req))
}

func TestMaybeAttackRequiresSameRuleShape(t *testing.T) {
	e := newEngine(t)
	e.Arm()
	seed(e, "usr_bob", "User Ref")
	seed(e, "alice@example.com", "Email")

	req := traffic.MustRequest("GET", "/api/users/1234")
	assert.Same(t, req, e.MaybeAttack(req))
}

func TestMaybeAttackFirstMatchShortCircuit(t *testing.T) {
	e := newEngine(t)
	rec := &recorder{}
	e.SetObserver(rec)
	e.Arm()
	seed(e, "5678", "Int ID")
	seed(e, "usr_bob", "User Ref")

	req := traffic.MustRequest("GET", "/users/usr_alice/orders/1234")
	out := e.MaybeAttack(req)

	assert.Equal(t, "/users/usr_alice/orders/5678", out.Path())
	assert.Len(t, rec.ofType(EventAttackPerformed), 1)
}

func TestMaybeAttackFallsThroughToNextRule(t *testing.T) {
	e := newEngine(t)
	e.Arm()
	seed(e, "1234", "Int ID")
	seed(e, "usr_bob", "User Ref")

	req := traffic.MustRequest("GET", "/users/usr_alice/orders/1234")
	assert.Equal(t, "/users/usr_bob/orders/1234", e.MaybeAttack(req).Path())
}

func TestMaybeAttackUsesOldestCandidate(t *testing.T) {
	e := newEngine(t)
	e.Arm()
	seed(e, "1111", "Int ID")
	seed(e, "2222", "Int ID")

	req := traffic.MustRequest("GET", "/orders/9001")
	assert.Equal(t, "/orders/1111", e.MaybeAttack(req).Path())
}

func TestMaybeAttackOnlyFirstMatchOfRule(t *testing.T) {
	e := newEngine(t)
	e.Arm()
	seed(e, "1234", "Int ID")

	// 1234 is the rule's first match; it has no candidate other than itself,
	// and the rule does not move on to 5678.
	req := traffic.MustRequest("GET", "/a/1234/b/5678")
	assert.Same(t, req, e.MaybeAttack(req))
}

func TestEndToEndScenario(t *testing.T) {
	e := newEngine(t)

	req := traffic.MustRequest("GET", "http://shop.local/orders/9001")
	e.HarvestFromPath(req)
	assert.Same(t, req, e.MaybeAttack(req))

	item, ok := e.Pool().Get("9001")
	require.True(t, ok)
	assert.Equal(t, "Int ID", item.RuleName)
	assert.False(t, item.HasResponse())

	resp := traffic.NewResponse(req, `{"ownerId":"usr_abc123"}`)
	assert.Equal(t, 1, e.Correlate(resp))
	assert.Equal(t, []string{"usr_abc123"}, e.HarvestFromBody(resp))

	assert.Same(t, resp, item.Response())
	ref, ok := e.Pool().Get("usr_abc123")
	require.True(t, ok)
	assert.Equal(t, "User Ref", ref.RuleName)
	assert.True(t, ref.HasResponse())

	other := traffic.MustRequest("GET", "http://shop.local/orders/9002")
	e.HarvestFromPath(other)

	e.Arm()
	later := traffic.MustRequest("GET", "http://shop.local/orders/9001")
	e.HarvestFromPath(later)
	out := e.MaybeAttack(later)
	assert.Equal(t, "/orders/9002", out.Path())
	assert.Equal(t, "GET", out.Method())

	stats := e.Stats()
	assert.Equal(t, 3, stats.Items)
	assert.Equal(t, int64(3), stats.Harvested)
	assert.Equal(t, int64(1), stats.Backfilled)
	assert.Equal(t, int64(1), stats.Attacks)
	assert.True(t, stats.Armed)
}

func TestAttackModeEvents(t *testing.T) {
	e := newEngine(t)
	rec := &recorder{}
	e.SetObserver(rec)

	e.Arm()
	e.Arm()
	e.Disarm()

	events := rec.ofType(EventAttackMode)
	require.Len(t, events, 2)
	assert.True(t, events[0].Armed)
	assert.False(t, events[1].Armed)
}

func TestOperatorMutations(t *testing.T) {
	e := newEngine(t)
	rec := &recorder{}
	e.SetObserver(rec)
	seed(e, "1111", "Int ID")
	seed(e, "2222", "Int ID")

	snap, ok := e.SetActive("1111", false)
	require.True(t, ok)
	assert.Equal(t, "1111", snap.Value)
	assert.False(t, snap.Active)
	_, ok = e.SetActive("nope", false)
	assert.False(t, ok)
	assert.True(t, e.Remove("1111"))
	assert.False(t, e.Remove("1111"))
	assert.Equal(t, 1, e.Clear())
	assert.Equal(t, 0, e.Pool().Len())

	assert.Len(t, rec.ofType(EventItemUpdated), 1)
	assert.Len(t, rec.ofType(EventItemRemoved), 1)
	cleared := rec.ofType(EventPoolCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, 1, cleared[0].Count)
}

func TestConcurrentTransactions(t *testing.T) {
	e := newEngine(t)
	e.Arm()

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := 1000 + (w*100+i)%250
				req := traffic.MustRequest("GET", fmt.Sprintf("http://api.local/orders/%d", id))
				e.HarvestFromPath(req)
				out := e.MaybeAttack(req)
				resp := traffic.NewResponse(out, fmt.Sprintf(`{"owner":"usr_w%d","next":%d}`, w, id+1))
				e.Correlate(resp)
				e.HarvestFromBody(resp)
				if i%10 == 0 {
					e.SetActive(strconv.Itoa(id), i%20 == 0)
				}
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, item := range e.Pool().Items() {
		assert.False(t, seen[item.Value])
		seen[item.Value] = true
	}
	assert.Equal(t, len(seen), e.Pool().Len())
	assert.Equal(t, int64(e.Pool().Len()), e.Stats().Harvested)
}
