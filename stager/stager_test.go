package stager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/skiff-cd/skiff/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMethod(t *testing.T) {
	t.Run("nil token means public repo", func(t *testing.T) {
		assert.Nil(t, authMethod(nil))
	})

	t.Run("empty token means public repo", func(t *testing.T) {
		assert.Nil(t, authMethod(secret.NewToken("")))
	})

	t.Run("token becomes in-memory basic auth", func(t *testing.T) {
		auth := authMethod(secret.NewToken("ghp_1234567890abcdefghij"))
		require.NotNil(t, auth)

		basic, ok := auth.(*http.BasicAuth)
		require.True(t, ok)
		assert.Equal(t, "git", basic.Username)
		assert.Equal(t, "ghp_1234567890abcdefghij", basic.Password)
	})
}

func TestStageDestroysToken(t *testing.T) {
	token := secret.NewToken("ghp_1234567890abcdefghij")
	s := New(5 * time.Second)

	// The clone fails (no such repository), but the token must be
	// destroyed regardless of the outcome.
	_, err := s.Stage(context.Background(), "file:///nonexistent/repo.git", "main", token, t.TempDir())
	require.Error(t, err)
	assert.True(t, token.IsZero())
}

// makeFixtureRepo creates a repository with one commit on branch main and
// returns its path.
func makeFixtureRepo(t *testing.T, dir, content string) *git.Repository {
	t.Helper()

	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: "refs/heads/main",
		},
	})
	require.NoError(t, err)

	commitFixtureFile(t, repo, dir, content)
	return repo
}

func commitFixtureFile(t *testing.T, repo *git.Repository, dir, content string) {
	t.Helper()

	worktree, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.txt"), []byte(content), 0o644))
	_, err = worktree.Add("app.txt")
	require.NoError(t, err)

	_, err = worktree.Commit("update app.txt", &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
}

func TestStageCloneAndUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tempDir := t.TempDir()
	upstreamDir := filepath.Join(tempDir, "upstream")
	localDir := filepath.Join(tempDir, "local")

	upstream := makeFixtureRepo(t, upstreamDir, "v1")

	s := New(30 * time.Second)

	// First run clones
	path, err := s.Stage(context.Background(), upstreamDir, "main", nil, localDir)
	require.NoError(t, err)
	assert.Equal(t, localDir, path)

	content, err := os.ReadFile(filepath.Join(localDir, "app.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))

	// Second run against an advanced upstream fetches and checks out the
	// new head in the same working copy
	commitFixtureFile(t, upstream, upstreamDir, "v2")

	path, err = s.Stage(context.Background(), upstreamDir, "main", nil, localDir)
	require.NoError(t, err)
	assert.Equal(t, localDir, path)

	content, err = os.ReadFile(filepath.Join(localDir, "app.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))
}

func TestStageUpdatePreservesUntrackedFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tempDir := t.TempDir()
	upstreamDir := filepath.Join(tempDir, "upstream")
	localDir := filepath.Join(tempDir, "local")

	upstream := makeFixtureRepo(t, upstreamDir, "v1")

	s := New(30 * time.Second)
	_, err := s.Stage(context.Background(), upstreamDir, "main", nil, localDir)
	require.NoError(t, err)

	// An untracked file, like a bind-mounted data directory, must survive
	// the next update
	untracked := filepath.Join(localDir, "data.txt")
	require.NoError(t, os.WriteFile(untracked, []byte("keep me"), 0o644))

	commitFixtureFile(t, upstream, upstreamDir, "v2")
	_, err = s.Stage(context.Background(), upstreamDir, "main", nil, localDir)
	require.NoError(t, err)

	content, err := os.ReadFile(untracked)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(content))
}
