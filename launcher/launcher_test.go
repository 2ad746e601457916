package launcher

import (
	"context"
	"testing"
	"time"

	"github.com/skiff-cd/skiff/manifest"
	"github.com/skiff-cd/skiff/remote"
	"github.com/skiff-cd/skiff/testing/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLauncher(runner *mocks.FakeRunner) *Launcher {
	l := New(runner)
	l.healthAttempts = 3
	l.healthInterval = time.Millisecond
	return l
}

func TestLaunchSingleContainer(t *testing.T) {
	runner := &mocks.FakeRunner{}
	// Nothing deployed previously
	runner.OnSuccess("docker ps -aq", "")
	// Verification finds the new container running
	runner.OnSuccess("--filter status=running", "app_app")
	// No healthcheck declared
	runner.OnSuccess("docker ps -q --filter name=app_app", "abc123")
	runner.OnSuccess("docker inspect", "")

	l := newTestLauncher(runner)
	m := &manifest.Manifest{Mode: manifest.ModeSingleContainer}
	id := Identity{Name: "app_app", InternalPort: 3000}

	err := l.Launch(context.Background(), "app_app", m, id)
	require.NoError(t, err)

	assert.True(t, runner.Ran("docker build --tag app_app:latest ."))
	assert.True(t, runner.Ran("docker run --detach --name app_app --restart unless-stopped --publish 3000:3000 app_app:latest"))
	// Build and run happen inside the deployment directory
	assert.True(t, runner.Ran("cd app_app && docker build"))
}

func TestLaunchComposeMode(t *testing.T) {
	runner := &mocks.FakeRunner{}
	runner.OnSuccess("docker ps -aq", "")
	runner.OnSuccess("--filter status=running", "app_app-web-1")
	runner.OnSuccess("docker ps -q --filter name=app_app", "abc123")
	runner.OnSuccess("docker inspect", "")

	l := newTestLauncher(runner)
	m := &manifest.Manifest{Mode: manifest.ModeCompose, ComposeFile: "docker-compose.yml"}
	id := Identity{Name: "app_app", InternalPort: 3000}

	err := l.Launch(context.Background(), "app_app", m, id)
	require.NoError(t, err)

	assert.True(t, runner.Ran("docker compose --file docker-compose.yml --project-name app_app pull"))
	assert.True(t, runner.Ran("docker compose --file docker-compose.yml --project-name app_app up --detach --build --remove-orphans"))
	assert.False(t, runner.Ran("docker build --tag"))
}

func TestLaunchComposePullFailureIsNotFatal(t *testing.T) {
	runner := &mocks.FakeRunner{}
	runner.OnFailure("pull", "registry unreachable")
	runner.OnSuccess("docker ps -aq", "")
	runner.OnSuccess("--filter status=running", "app_app-web-1")
	runner.OnSuccess("docker ps -q --filter name=app_app", "abc123")
	runner.OnSuccess("docker inspect", "")

	l := newTestLauncher(runner)
	m := &manifest.Manifest{Mode: manifest.ModeCompose, ComposeFile: "docker-compose.yml"}

	err := l.Launch(context.Background(), "app_app", m, Identity{Name: "app_app", InternalPort: 3000})
	require.NoError(t, err)
	assert.True(t, runner.Ran("up --detach"))
}

func TestLaunchRemovesPreviousContainers(t *testing.T) {
	runner := &mocks.FakeRunner{}
	// Two stale containers bear the logical name
	runner.OnSuccess("docker ps -aq", "aaa111\nbbb222")
	runner.OnSuccess("--filter status=running", "app_app")
	runner.OnSuccess("docker ps -q --filter name=app_app", "ccc333")
	runner.OnSuccess("docker inspect", "")

	l := newTestLauncher(runner)
	m := &manifest.Manifest{Mode: manifest.ModeSingleContainer}
	id := Identity{Name: "app_app", InternalPort: 3000}

	err := l.Launch(context.Background(), "app_app", m, id)
	require.NoError(t, err)

	assert.True(t, runner.Ran("docker compose --project-name app_app down --remove-orphans"))
	assert.True(t, runner.Ran("docker rm -f aaa111 bbb222"))
}

func TestLaunchFailsWhenNothingRuns(t *testing.T) {
	runner := &mocks.FakeRunner{}
	runner.OnSuccess("docker ps -aq", "")
	// Post-launch query returns no running container
	runner.OnSuccess("--filter status=running", "")

	l := newTestLauncher(runner)
	m := &manifest.Manifest{Mode: manifest.ModeSingleContainer}

	err := l.Launch(context.Background(), "app_app", m, Identity{Name: "app_app", InternalPort: 3000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running container")
}

func TestLaunchFailsOnBuildError(t *testing.T) {
	runner := &mocks.FakeRunner{}
	runner.OnSuccess("docker ps -aq", "")
	runner.OnFailure("docker build", "Dockerfile parse error")

	l := newTestLauncher(runner)
	m := &manifest.Manifest{Mode: manifest.ModeSingleContainer}

	err := l.Launch(context.Background(), "app_app", m, Identity{Name: "app_app", InternalPort: 3000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "docker build failed")
	// Nothing was started after the failed build
	assert.False(t, runner.Ran("docker run"))
}

func TestWaitForHealthPollsUntilHealthy(t *testing.T) {
	runner := &mocks.FakeRunner{}
	runner.OnSuccess("docker ps -q --filter name=app_app", "abc123")
	runner.OnSuccess("docker inspect", "healthy")

	l := newTestLauncher(runner)
	status := l.waitForHealth(context.Background(), Identity{Name: "app_app"})
	assert.Equal(t, "healthy", status)
}

func TestWaitForHealthUnhealthyIsReportedNotFatal(t *testing.T) {
	runner := &mocks.FakeRunner{}
	runner.OnSuccess("docker ps -aq", "")
	runner.OnSuccess("--filter status=running", "app_app")
	runner.OnSuccess("docker ps -q --filter name=app_app", "abc123")
	runner.OnSuccess("docker inspect", "starting")

	l := newTestLauncher(runner)
	m := &manifest.Manifest{Mode: manifest.ModeSingleContainer}

	// The probe never settles to healthy within the bounded attempts, yet
	// the launch succeeds
	err := l.Launch(context.Background(), "app_app", m, Identity{Name: "app_app", InternalPort: 3000})
	require.NoError(t, err)

	inspects := 0
	for _, c := range runner.Commands {
		if c == remote.Cmd("docker", "inspect",
			"--format", "{{if .State.Health}}{{.State.Health.Status}}{{end}}", "abc123").String() {
			inspects++
		}
	}
	assert.Equal(t, 3, inspects)
}

func TestLogsFallsBackToDockerLogs(t *testing.T) {
	runner := &mocks.FakeRunner{}
	runner.OnFailure("docker compose --project-name app_app logs", "no compose project")
	runner.OnSuccess("docker logs --tail 200 app_app", "listening on :3000\n")

	l := newTestLauncher(runner)
	out, err := l.Logs(context.Background(), "app_app", Identity{Name: "app_app"}, 200)
	require.NoError(t, err)
	assert.Contains(t, out, "listening on :3000")
}

func TestImageTag(t *testing.T) {
	assert.Equal(t, "app_app:latest", Identity{Name: "app_app"}.ImageTag())
}
