// Package stager maintains the local working copy of the application source.
package stager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/skiff-cd/skiff/secret"
)

type Service struct {
	timeout time.Duration
}

func New(timeout time.Duration) *Service {
	return &Service{timeout: timeout}
}

// Stage ensures localPath holds the requested branch of the repository at
// its remote head: an existing working copy is fetched and reset, anything
// else is a fresh shallow clone. The token is consumed here and destroyed on
// every exit path; from this point on only its masked form exists.
func (s *Service) Stage(ctx context.Context, repoURL, branch string, token *secret.Token, localPath string) (string, error) {
	defer token.Destroy()

	slog.Info("Staging repository",
		"git_url", repoURL,
		"git_branch", branch,
		"local_path", localPath,
		"token", token.String())

	auth := authMethod(token)

	if _, err := os.Stat(filepath.Join(localPath, ".git")); err == nil {
		if err := s.update(ctx, branch, auth, localPath); err != nil {
			return "", err
		}
		return localPath, nil
	}

	if err := s.clone(ctx, repoURL, branch, auth, localPath); err != nil {
		return "", err
	}
	return localPath, nil
}

// authMethod builds the in-memory transport credential. The token never
// becomes part of the clone URL, a subprocess argument, or the environment.
func authMethod(token *secret.Token) transport.AuthMethod {
	if token.IsZero() {
		return nil
	}
	return &http.BasicAuth{
		Username: "git",
		Password: token.Value(),
	}
}

func (s *Service) clone(ctx context.Context, repoURL, branch string, auth transport.AuthMethod, localPath string) error {
	slog.Info("Cloning repository", "git_url", repoURL, "git_branch", branch, "local_path", localPath)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Single-branch keeps the transfer minimal; a depth-limited clone is
	// avoided because go-git cannot reliably fetch into shallow copies,
	// which re-runs depend on.
	cloneOptions := &git.CloneOptions{
		URL:           repoURL,
		SingleBranch:  true,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		Auth:          auth,
	}

	_, err := git.PlainCloneContext(ctx, localPath, false, cloneOptions)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "stager",
			"operation", "git_clone",
			"git_url", repoURL,
			"git_branch", branch,
			"local_path", localPath,
			"error", err)
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	slog.Info("Repository cloned successfully", "git_url", repoURL, "git_branch", branch)
	return nil
}

// update fetches the branch and moves the working copy to the remote head,
// handling force-pushes (equivalent to git fetch && git reset --hard
// origin/branch) while preserving untracked files.
func (s *Service) update(ctx context.Context, branch string, auth transport.AuthMethod, localPath string) error {
	slog.Debug("Updating existing working copy", "git_branch", branch, "local_path", localPath)

	repo, err := git.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	if err := s.fetch(ctx, repo, branch, auth); err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	remoteRef := plumbing.ReferenceName(fmt.Sprintf("refs/remotes/origin/%s", branch))
	ref, err := repo.Reference(remoteRef, true)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "stager",
			"operation", "git_remote_ref",
			"git_branch", branch,
			"remote_ref", remoteRef.String(),
			"error", err)
		return fmt.Errorf("failed to get remote reference %s: %w", remoteRef, err)
	}

	head, err := repo.Head()
	if err == nil && head.Hash() == ref.Hash() {
		slog.Debug("Working copy already up to date", "git_branch", branch)
		return nil
	}

	// Checkout the remote head while keeping untracked files
	err = worktree.Checkout(&git.CheckoutOptions{
		Hash: ref.Hash(),
		Keep: true,
	})
	if err != nil {
		return fmt.Errorf("failed to checkout %s: %w", ref.Hash().String(), err)
	}

	if err := resetTrackedFiles(worktree); err != nil {
		return err
	}

	slog.Info("Working copy updated",
		"git_branch", branch,
		"to_commit", ref.Hash().String())
	return nil
}

func (s *Service) fetch(ctx context.Context, repo *git.Repository, branch string, auth transport.AuthMethod) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fetchOptions := &git.FetchOptions{
		Auth: auth,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch)),
		},
	}

	err := repo.FetchContext(ctx, fetchOptions)
	if err != nil && err != git.NoErrAlreadyUpToDate {
		slog.Error("Service operation failed",
			"layer", "stager",
			"operation", "git_fetch",
			"git_branch", branch,
			"error", err)
		return fmt.Errorf("failed to fetch changes: %w", err)
	}
	return nil
}

// resetTrackedFiles discards local changes to tracked files while leaving
// untracked files intact.
func resetTrackedFiles(worktree *git.Worktree) error {
	changedFiles, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}

	resetFiles := make([]string, 0, len(changedFiles))
	for file, status := range changedFiles {
		if status.Staging != git.Untracked {
			resetFiles = append(resetFiles, file)
		}
	}

	if len(resetFiles) > 0 {
		err = worktree.Reset(&git.ResetOptions{
			Mode:  git.HardReset,
			Files: resetFiles,
		})
		if err != nil {
			return fmt.Errorf("failed to reset tracked files: %w", err)
		}
	}

	return nil
}
