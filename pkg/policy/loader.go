package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loader reads custom policies from .rego sources and .json definitions.
// Parsed files are cached until their modification time changes.
type Loader struct {
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedPolicy
}

type cachedPolicy struct {
	modTime time.Time
	policy  Policy
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
		cache:  make(map[string]cachedPolicy),
	}
}

// Load reads every path. A directory is walked recursively and files in it
// that fail to parse are skipped with a warning; a named file that fails to
// parse is an error.
func (l *Loader) Load(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}

		if !info.IsDir() {
			p, err := l.loadFile(path, info)
			if err != nil {
				return nil, err
			}
			policies = append(policies, p)
			continue
		}

		found, err := l.loadDir(ctx, path)
		if err != nil {
			return nil, err
		}
		policies = append(policies, found...)
	}

	l.logger.Debug().Int("policies", len(policies)).Int("paths", len(paths)).Msg("Custom policies loaded")
	return policies, nil
}

func (l *Loader) loadDir(ctx context.Context, dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		p, err := l.loadFile(path, info)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			return nil
		}
		policies = append(policies, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return policies, nil
}

func (l *Loader) loadFile(path string, info fs.FileInfo) (Policy, error) {
	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached.policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}

	var p Policy
	switch filepath.Ext(path) {
	case ".rego":
		p = parseRego(path, string(data))
	case ".json":
		if p, err = parseDefinition(data); err != nil {
			return Policy{}, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return Policy{}, fmt.Errorf("%s: not a policy file", path)
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = path

	l.mu.Lock()
	l.cache[path] = cachedPolicy{modTime: info.ModTime(), policy: p}
	l.mu.Unlock()
	return p, nil
}

// ClearCache forgets every parsed file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]cachedPolicy)
	l.mu.Unlock()
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

// parseRego names the policy after its file. The leading comment block gives
// the description; a "# severity: <level>" line sets the severity.
func parseRego(path, src string) Policy {
	description, severity := regoHeader(src)
	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: description,
		Rego:        src,
		Severity:    severity,
		Enabled:     true,
	}
}

func regoHeader(src string) (string, Severity) {
	severity := SeverityWarning
	var words []string
	inHeader := true

	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		comment, isComment := strings.CutPrefix(line, "#")
		if !isComment {
			if line != "" && len(words) > 0 {
				inHeader = false
			}
			continue
		}
		comment = strings.TrimSpace(comment)

		if value, ok := strings.CutPrefix(comment, "severity:"); ok {
			if s, ok := parseSeverity(value); ok {
				severity = s
			}
			continue
		}
		if inHeader && comment != "" {
			words = append(words, comment)
		}
	}
	return strings.Join(words, " "), severity
}

func parseSeverity(value string) (Severity, bool) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(value))); s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return s, true
	}
	return "", false
}

// parseDefinition reads a JSON policy definition carrying its own name,
// severity and rego source.
func parseDefinition(data []byte) (Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy definition: %w", err)
	}
	switch {
	case p.Name == "":
		return Policy{}, errors.New("policy definition has no name")
	case p.Rego == "":
		return Policy{}, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	p.Builtin = false
	return p, nil
}
