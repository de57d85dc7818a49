package rules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/raaihank/bolahunter/internal/settings"
	"go.uber.org/zap"
)

const keyRuleCount = "Rule_Count"

func ruleKey(i int, field string) string {
	return fmt.Sprintf("Rule_%d_%s", i, field)
}

// snapshot is an immutable view of the rule list. Readers load it without
// locking; writers build a new one and swap it in.
type snapshot struct {
	rules    []Rule
	compiled []*CompiledRule
	enabled  []*CompiledRule
}

// Store is the ordered, persisted rule list. Reads are lock-free; mutations
// are serialized and written through to the settings store.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	backend settings.Store
	logger  *zap.Logger
}

// NewStore creates an empty rule store backed by backend. Call Load before use.
func NewStore(backend settings.Store, logger *zap.Logger) *Store {
	s := &Store{
		backend: backend,
		logger:  logger,
	}
	s.current.Store(&snapshot{})
	return s
}

// Load replaces the in-memory rules with the persisted ones, falling back to
// the defaults when nothing usable is stored.
func (s *Store) Load(ctx context.Context) error {
	loaded := s.read(ctx)
	if len(loaded) == 0 {
		s.logger.Info("No stored rules, loading defaults")
		return s.ResetToDefaults(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(loaded)

	s.logger.Info("Rules loaded from storage",
		zap.Int("total_rules", len(loaded)),
		zap.Int("enabled_rules", len(s.current.Load().enabled)))
	return nil
}

// read returns the stored rules, or nil when storage is empty or unreadable.
func (s *Store) read(ctx context.Context) []Rule {
	countStr, ok, err := s.backend.Get(ctx, keyRuleCount)
	if err != nil {
		s.logger.Warn("Failed to read rule count", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || count < 0 {
		s.logger.Warn("Ignoring malformed rule count", zap.String("value", countStr))
		return nil
	}

	loaded := make([]Rule, 0, count)
	for i := 0; i < count; i++ {
		name, okName, errName := s.backend.Get(ctx, ruleKey(i, "Name"))
		pattern, okPattern, errPattern := s.backend.Get(ctx, ruleKey(i, "Pattern"))
		enabled, _, errEnabled := s.backend.Get(ctx, ruleKey(i, "Enabled"))
		if errName != nil || errPattern != nil || errEnabled != nil {
			s.logger.Warn("Failed to read stored rules", zap.Int("index", i))
			return nil
		}
		if !okName || !okPattern || name == "" || pattern == "" {
			continue
		}
		loaded = append(loaded, Rule{
			Name:    name,
			Pattern: pattern,
			Enabled: strings.EqualFold(strings.TrimSpace(enabled), "true"),
		})
	}
	return loaded
}

// All returns a copy of every rule in order.
func (s *Store) All() []Rule {
	snap := s.current.Load()
	out := make([]Rule, len(snap.rules))
	copy(out, snap.rules)
	return out
}

// Enabled returns the enabled rules in order. The slice is shared and must
// not be modified.
func (s *Store) Enabled() []*CompiledRule {
	return s.current.Load().enabled
}

// Compiled returns every rule in order, including disabled ones.
func (s *Store) Compiled() []*CompiledRule {
	return s.current.Load().compiled
}

// Add appends a new enabled rule.
func (s *Store) Add(ctx context.Context, name, pattern string) error {
	name = strings.TrimSpace(name)
	pattern = strings.TrimSpace(pattern)
	if name == "" || pattern == "" {
		return ErrInvalidRule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := append(s.copyRules(), Rule{Name: name, Pattern: pattern, Enabled: true})
	s.publish(next)

	s.logger.Info("Rule added", zap.String("rule", name), zap.String("pattern", pattern))
	return s.save(ctx, next)
}

// SetEnabled toggles the rule at index.
func (s *Store) SetEnabled(ctx context.Context, index int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.copyRules()
	if index < 0 || index >= len(next) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	next[index].Enabled = enabled
	s.publish(next)

	s.logger.Info("Rule toggled",
		zap.String("rule", next[index].Name),
		zap.Bool("enabled", enabled))
	return s.save(ctx, next)
}

// ResetToDefaults replaces all rules with the built-in set.
func (s *Store) ResetToDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Defaults()
	s.publish(next)
	return s.save(ctx, next)
}

// copyRules must be called with mu held.
func (s *Store) copyRules() []Rule {
	cur := s.current.Load().rules
	out := make([]Rule, len(cur), len(cur)+1)
	copy(out, cur)
	return out
}

// publish must be called with mu held.
func (s *Store) publish(list []Rule) {
	snap := &snapshot{
		rules:    list,
		compiled: make([]*CompiledRule, len(list)),
	}
	for i, r := range list {
		c := Compile(r)
		if c.Err != nil {
			s.logger.Warn("Rule pattern does not compile, rule will never match",
				zap.String("rule", r.Name),
				zap.Error(c.Err))
		}
		snap.compiled[i] = c
		if r.Enabled {
			snap.enabled = append(snap.enabled, c)
		}
	}
	s.current.Store(snap)
}

// save writes the full list in one batch. Must be called with mu held.
func (s *Store) save(ctx context.Context, list []Rule) error {
	values := make(map[string]string, len(list)*3+1)
	values[keyRuleCount] = strconv.Itoa(len(list))
	for i, r := range list {
		values[ruleKey(i, "Name")] = r.Name
		values[ruleKey(i, "Pattern")] = r.Pattern
		values[ruleKey(i, "Enabled")] = strconv.FormatBool(r.Enabled)
	}

	if err := s.backend.SetMany(ctx, values); err != nil {
		s.logger.Error("Failed to persist rules", zap.Error(err))
		return fmt.Errorf("failed to persist rules: %w", err)
	}
	return nil
}
