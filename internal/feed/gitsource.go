package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	logx "chatd/pkg/logx"
)

// gitSource keeps a local clone of the upstream repository and pulls it
// once per cycle. Change detection compares the blob hash of the
// listings file before and after the pull, so a pull that touches other
// files does not trigger a full cycle.
//
// This is deliberately thin: it shells out to the git binary instead of
// carrying a git implementation.
type gitSource struct {
	repoURL   string
	localPath string
	jsonRel   string // listings path relative to the repo root
	log       logx.Logger

	fetched bool // first Fetch always reports changed
}

const (
	gitPullTimeout  = 30 * time.Second
	gitCloneTimeout = 60 * time.Second
)

func newGitSource(cfg Config, log logx.Logger) (*gitSource, error) {
	if strings.TrimSpace(cfg.RepoURL) == "" {
		return nil, errors.New("feed: source.repo_url is required for git source")
	}
	if strings.TrimSpace(cfg.LocalPath) == "" {
		return nil, errors.New("feed: source.local_path is required for git source")
	}
	jsonPath := strings.TrimSpace(cfg.JSONPath)
	if jsonPath == "" {
		jsonPath = filepath.Join(".github", "scripts", "listings.json")
	}
	return &gitSource{
		repoURL:   cfg.RepoURL,
		localPath: cfg.LocalPath,
		jsonRel:   jsonPath,
		log:       log,
	}, nil
}

func (s *gitSource) Fetch(ctx context.Context) ([]byte, bool, error) {
	changed, err := s.cloneOrPull(ctx)
	if err != nil {
		return nil, false, err
	}
	if !changed && s.fetched {
		return nil, false, nil
	}
	raw, err := os.ReadFile(filepath.Join(s.localPath, s.jsonRel))
	if err != nil {
		return nil, false, fmt.Errorf("feed: read listings: %w", err)
	}
	s.fetched = true
	return raw, true, nil
}

func (s *gitSource) cloneOrPull(ctx context.Context) (changed bool, err error) {
	if _, statErr := os.Stat(filepath.Join(s.localPath, ".git")); statErr != nil {
		s.log.Info("cloning listings repository", logx.String("url", s.repoURL), logx.String("path", s.localPath))
		cctx, cancel := context.WithTimeout(ctx, gitCloneTimeout)
		defer cancel()
		if _, err := s.git(cctx, "", "clone", "--depth", "1", s.repoURL, s.localPath); err != nil {
			return false, fmt.Errorf("feed: clone: %w", err)
		}
		return true, nil
	}

	oldHash, err := s.listingsHash(ctx)
	if err != nil {
		return false, fmt.Errorf("feed: rev-parse before pull: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, gitPullTimeout)
	defer cancel()
	if _, err := s.git(pctx, s.localPath, "pull", "--ff-only"); err != nil {
		return false, fmt.Errorf("feed: pull: %w", err)
	}

	newHash, err := s.listingsHash(ctx)
	if err != nil {
		// Cannot tell whether the file changed; assume it did.
		s.log.Warn("listings hash unavailable after pull; assuming changed", logx.Err(err))
		return true, nil
	}
	if oldHash == newHash {
		s.log.Debug("repository pulled, listings unchanged")
		return false, nil
	}
	s.log.Info("repository pulled, listings updated")
	return true, nil
}

func (s *gitSource) listingsHash(ctx context.Context) (string, error) {
	out, err := s.git(ctx, s.localPath, "rev-parse", "HEAD:"+filepath.ToSlash(s.jsonRel))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s *gitSource) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("git %s: %s: %w", args[0], msg, err)
	}
	return stdout.String(), nil
}
