package cache

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"doorcache/internal/util"
)

const (
	helperDirEnv = "DOORCACHE_HELPER_DIR"
	helperIDEnv  = "DOORCACHE_HELPER_ID"

	helperKey    = "controller_1_cards_list"
	helperWrites = 25
)

func helperPayload(id int) []string {
	cards := make([]string, 1000)
	for i := range cards {
		cards[i] = fmt.Sprintf("writer-%d-card-%d", id, i)
	}
	return cards
}

// TestHelperWriterProcess is not a real test. TestMultiProcessWriters runs
// the test binary again with only this test selected, once per writer.
func TestHelperWriterProcess(t *testing.T) {
	dir := os.Getenv(helperDirEnv)
	if dir == "" {
		t.Skip("helper process for TestMultiProcessWriters")
	}
	id, err := strconv.Atoi(os.Getenv(helperIDEnv))
	if err != nil {
		t.Fatalf("bad %s: %v", helperIDEnv, err)
	}

	c := New(Config{Enabled: true, Directory: dir, LockTimeout: 10 * time.Second})
	payload := helperPayload(id)
	for range helperWrites {
		if !c.Set(helperKey, payload, time.Hour) {
			t.Fatalf("writer %d: set failed", id)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatalf("writer %d: close: %v", id, err)
	}
}

func TestMultiProcessWriters(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping multi-process test in short mode")
	}
	g := NewWithT(t)

	exe, err := os.Executable()
	g.Expect(err).NotTo(HaveOccurred())

	dir := t.TempDir()
	const writers = 4
	payloads := make([]any, writers)
	cmds := make([]*exec.Cmd, writers)
	for i := range writers {
		payloads[i] = helperPayload(i)
		cmd := exec.Command(exe, "-test.run=^TestHelperWriterProcess$", "-test.count=1")
		cmd.Env = append(os.Environ(), helperDirEnv+"="+dir, helperIDEnv+"="+strconv.Itoa(i))
		g.Expect(cmd.Start()).To(Succeed())
		cmds[i] = cmd
	}

	reader := New(Config{Enabled: true, Directory: dir, LockTimeout: 10 * time.Second})
	defer reader.Close()

	// Read while the writers run: every hit must be one writer's full payload.
	done := make(chan error, writers)
	for _, cmd := range cmds {
		go func() { done <- cmd.Wait() }()
	}
	finished := 0
	for finished < writers {
		select {
		case err := <-done:
			g.Expect(err).NotTo(HaveOccurred())
			finished++
		default:
			var got []string
			if reader.GetInto(helperKey, &got) {
				g.Expect(got).To(BeElementOf(payloads...))
			}
		}
	}

	err = util.PollUntil(context.Background(), util.DefaultPollConfig(), func() bool {
		_, err := os.Stat(filepath.Join(dir, helperKey+".json"))
		return err == nil
	})
	g.Expect(err).NotTo(HaveOccurred())

	var got []string
	g.Expect(reader.GetInto(helperKey, &got)).To(BeTrue())
	g.Expect(got).To(BeElementOf(payloads...))
	g.Expect(reader.Stats().Process.Errors).To(BeZero())

	// Each writer flushed its counters on Close.
	shared := reader.Stats().Shared
	g.Expect(shared).NotTo(BeNil())
	g.Expect(shared.Sets).To(Equal(uint64(writers * helperWrites)))
}
