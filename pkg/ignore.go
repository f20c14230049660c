package dupwalk

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// IgnoreManager turns the state directory's ignore file into the eligibility predicate.
// Each pattern must match the whole slash-separated absolute path.
type IgnoreManager struct {
	root       string
	stateDir   string
	ignorePath string

	mu       sync.RWMutex
	patterns []*regexp.Regexp
	sources  []string
	loaded   bool
}

// NewIgnoreManager creates an ignore manager for the tree at root
func NewIgnoreManager(root string) *IgnoreManager {
	stateDir := filepath.Join(root, StateDir)
	return &IgnoreManager{
		root:       root,
		stateDir:   stateDir,
		ignorePath: filepath.Join(stateDir, IgnoreFile),
	}
}

// LoadIgnorePatterns loads ignore patterns from the ignore file, creating it when missing
func (im *IgnoreManager) LoadIgnorePatterns() error {
	im.mu.Lock()
	defer im.mu.Unlock()

	if im.loaded {
		return nil
	}

	if _, err := os.Stat(im.ignorePath); os.IsNotExist(err) {
		if err := im.createDefaultIgnoreFile(); err != nil {
			return fmt.Errorf("failed to create ignore file: %w", err)
		}
		im.loaded = true
		return nil
	}

	file, err := os.Open(im.ignorePath)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		pattern, err := compileAnchored(line)
		if err != nil {
			return fmt.Errorf("invalid regex pattern at line %d: %s - %w", lineNum, line, err)
		}

		im.patterns = append(im.patterns, pattern)
		im.sources = append(im.sources, line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading ignore file: %w", err)
	}

	im.loaded = true
	return nil
}

// compileAnchored wraps a pattern so it has to match the entire path
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, err
	}
	return regexp.Compile(`^(?:` + pattern + `)$`)
}

// ShouldIgnore checks if an absolute path matches any pattern
func (im *IgnoreManager) ShouldIgnore(path string) bool {
	normalisedPath := filepath.ToSlash(path)

	im.mu.RLock()
	defer im.mu.RUnlock()
	for _, pattern := range im.patterns {
		if pattern.MatchString(normalisedPath) {
			return true
		}
	}
	return false
}

// Eligible is the walker's predicate: false for any state directory, whatever its depth,
// and for anything matching a pattern
func (im *IgnoreManager) Eligible(path string) bool {
	if filepath.Base(path) == StateDir {
		return false
	}
	if path == im.stateDir || strings.HasPrefix(path, im.stateDir+string(filepath.Separator)) {
		return false
	}
	return !im.ShouldIgnore(path)
}

// AddPattern adds a new ignore pattern
func (im *IgnoreManager) AddPattern(patternStr string) error {
	pattern, err := compileAnchored(patternStr)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %s - %w", patternStr, err)
	}

	im.mu.Lock()
	im.patterns = append(im.patterns, pattern)
	im.sources = append(im.sources, patternStr)
	im.mu.Unlock()
	return nil
}

// Patterns returns the pattern sources as written in the ignore file
func (im *IgnoreManager) Patterns() []string {
	im.mu.RLock()
	defer im.mu.RUnlock()
	out := make([]string, len(im.sources))
	copy(out, im.sources)
	return out
}

// Reload forces a reload of ignore patterns from file
func (im *IgnoreManager) Reload() error {
	im.mu.Lock()
	im.patterns = nil
	im.sources = nil
	im.loaded = false
	im.mu.Unlock()
	return im.LoadIgnorePatterns()
}

// GetIgnoreFilePath returns the path to the ignore file
func (im *IgnoreManager) GetIgnoreFilePath() string {
	return im.ignorePath
}

// createDefaultIgnoreFile writes a commented ignore file; the caller holds mu
func (im *IgnoreManager) createDefaultIgnoreFile() error {
	if err := os.MkdirAll(filepath.Dir(im.ignorePath), 0755); err != nil {
		return err
	}

	file, err := os.Create(im.ignorePath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(`# dupwalk ignore patterns
#
# One Go regular expression per line. A pattern must match the whole
# absolute path (with forward slashes) of a file or folder to exclude it.
# Lines starting with # are comments. Empty lines are ignored.
# The .duplicate_info directory is always excluded.
#
# Examples:
# .*/\.git              # skip every .git folder
# .*\.tmp               # skip temporary files
# .*/node_modules       # skip node_modules folders
`)
	return err
}
