package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	logx "chatd/pkg/logx"
)

// Source produces the raw listings document once per cycle.
//
// changed=false means the upstream content is known to be identical to
// the previous fetch; the caller may skip the cycle entirely.
type Source interface {
	Fetch(ctx context.Context) (raw []byte, changed bool, err error)
}

type Config struct {
	Kind      string // "file" or "git"
	Path      string // file kind: path to listings.json
	RepoURL   string // git kind
	LocalPath string // git kind: clone destination
	JSONPath  string // git kind: listings path inside the repo
}

// NewSource builds the configured feed source.
func NewSource(cfg Config, log logx.Logger) (Source, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("feed: source.path is required for file source")
		}
		return &fileSource{path: cfg.Path, log: log}, nil
	case "git":
		return newGitSource(cfg, log)
	default:
		return nil, fmt.Errorf("feed: unknown source kind %q", cfg.Kind)
	}
}

// fileSource reads the listings document straight from disk.
// It reports changed based on the file's modification time, so an
// untouched file does not trigger a full cycle.
type fileSource struct {
	path string
	log  logx.Logger

	lastMod int64 // unix nano of last seen mtime; 0 means never fetched
}

func (s *fileSource) Fetch(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	st, err := os.Stat(s.path)
	if err != nil {
		return nil, false, fmt.Errorf("feed: stat listings: %w", err)
	}
	mod := st.ModTime().UnixNano()
	if s.lastMod != 0 && mod == s.lastMod {
		s.log.Debug("listings file unchanged", logx.String("path", s.path))
		return nil, false, nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, false, fmt.Errorf("feed: read listings: %w", err)
	}
	s.lastMod = mod
	s.log.Debug("listings file read", logx.String("path", s.path), logx.Int("bytes", len(raw)))
	return raw, true, nil
}
