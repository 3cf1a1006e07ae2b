package teardown

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakePublisher records published payloads and can be scripted to
// fail, per Publisher.
type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if f.fail {
		cmd.SetErr(io.ErrClosedPipe)
		return cmd
	}
	switch v := message.(type) {
	case []byte:
		f.messages = append(f.messages, string(v))
	case string:
		f.messages = append(f.messages, v)
	}
	cmd.SetVal(1)
	return cmd
}

func writePidFile(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "redis_17001.pid")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunPublishesTerminateMessage(t *testing.T) {
	dir := t.TempDir()
	// An implausibly large pid, unlikely to correspond to a running
	// process, so the kill step cannot reach the test process itself.
	path := writePidFile(t, dir, strconv.Itoa(2000000000))
	pub := &fakePublisher{}

	// Verify the publish side-effect independent of the kill outcome
	// by checking the recorded message content regardless of code.
	_ = Run(context.Background(), testLogger(), pub, "tool-meister-chan", "default", path)

	if len(pub.messages) != 1 {
		t.Fatalf("messages = %v, want exactly one publish", pub.messages)
	}
	if want := `"action":"terminate"`; !strings.Contains(pub.messages[0], want) {
		t.Errorf("message = %s, missing %s", pub.messages[0], want)
	}
	if want := `"group":"default"`; !strings.Contains(pub.messages[0], want) {
		t.Errorf("message = %s, missing %s", pub.messages[0], want)
	}
}

func TestRunPublishFailureDoesNotAbortKill(t *testing.T) {
	dir := t.TempDir()
	path := writePidFile(t, dir, "not-a-pid")
	pub := &fakePublisher{fail: true}

	code := Run(context.Background(), testLogger(), pub, "tool-meister-chan", "default", path)
	if code != CodeIdFileNotInteger {
		t.Errorf("code = %d, want CodeIdFileNotInteger despite publish failure", code)
	}
}

func TestKillBusProcessUnreadablePidFile(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "redis_17001.pid")

	code := killBusProcess(testLogger(), missing)
	if code != CodeIdFileUnreadable {
		t.Errorf("code = %d, want CodeIdFileUnreadable", code)
	}
}

func TestKillBusProcessNotAnInteger(t *testing.T) {
	dir := t.TempDir()
	path := writePidFile(t, dir, "garbage\n")

	code := killBusProcess(testLogger(), path)
	if code != CodeIdFileNotInteger {
		t.Errorf("code = %d, want CodeIdFileNotInteger", code)
	}
}

func TestKillBusProcessNotFound(t *testing.T) {
	dir := t.TempDir()
	// A pid unlikely to be running: the max on most systems is well
	// below this value.
	path := writePidFile(t, dir, "2000000000")

	code := killBusProcess(testLogger(), path)
	if code != CodeProcessNotFound {
		t.Errorf("code = %d, want CodeProcessNotFound", code)
	}
}

func TestKillBusProcessIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writePidFile(t, dir, "2000000000")

	first := killBusProcess(testLogger(), path)
	second := killBusProcess(testLogger(), path)
	if first != second {
		t.Errorf("first = %d, second = %d, want idempotent result", first, second)
	}
}
