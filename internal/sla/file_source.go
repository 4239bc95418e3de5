package sla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/slicewatch/kpi-pipeline/internal/models"
)

// RuleFile is the YAML root structure for a static rule set.
type RuleFile struct {
	Rules []models.SlaRule `yaml:"rules"`
}

// FileSource serves SLA rules from a YAML file, grouped by slice. Reload
// re-reads the file, so operators can ship rule changes with a SIGHUP.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	rules map[string][]models.SlaRule
}

// NewFileSource loads rules from path. An absent file yields an empty
// source rather than an error, matching how optional rule packs behave.
func NewFileSource(path string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileSource{path: path, logger: logger, rules: make(map[string][]models.SlaRule)}
	if path == "" {
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// RulesFor returns the active rules for the slice.
func (s *FileSource) RulesFor(_ context.Context, sliceID string) ([]models.SlaRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := s.rules[sliceID]
	if len(rules) == 0 {
		return nil, nil
	}
	out := make([]models.SlaRule, len(rules))
	copy(out, rules)
	return out, nil
}

// Reload re-reads the rule file and swaps the rule map atomically.
func (s *FileSource) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("rule file missing, serving empty rule set", slog.String("path", s.path))
			s.mu.Lock()
			s.rules = make(map[string][]models.SlaRule)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read rule file: %w", err)
	}

	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rule file: %w", err)
	}

	next := make(map[string][]models.SlaRule)
	for _, rule := range file.Rules {
		if rule.SliceID == "" {
			return fmt.Errorf("rule file: slice_id must not be empty")
		}
		if !models.KnownMetric(rule.Metric) {
			return fmt.Errorf("rule file: unknown metric %q for slice %s", rule.Metric, rule.SliceID)
		}
		if !rule.Comparator.Valid() {
			return fmt.Errorf("rule file: unknown comparator %q for slice %s", rule.Comparator, rule.SliceID)
		}
		next[rule.SliceID] = append(next[rule.SliceID], rule)
	}

	s.mu.Lock()
	s.rules = next
	s.mu.Unlock()
	s.logger.Info("rule file loaded", slog.String("path", s.path), slog.Int("rules", len(file.Rules)))
	return nil
}

// SliceIDs lists every slice that has at least one rule.
func (s *FileSource) SliceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rules))
	for id := range s.rules {
		ids = append(ids, id)
	}
	return ids
}
