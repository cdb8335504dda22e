//go:build !windows

package procrunner_test

import (
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/zsprackett/devserve/internal/procrunner"
)

func TestStop_KillsGrandchildren(t *testing.T) {
	o := opts(t.TempDir())
	o.Grace = 500 * time.Millisecond
	pids := make(chan int, 1)
	o.OnLine = func(_, line string) {
		if pid, err := strconv.Atoi(line); err == nil {
			pids <- pid
		}
	}
	h, err := procrunner.Start("sleep 30 & echo $!; wait", o)
	if err != nil {
		t.Fatal(err)
	}

	var child int
	select {
	case child = <-pids:
	case <-time.After(5 * time.Second):
		t.Fatal("child pid not reported")
	}
	if err := h.Stop(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for alive(child) {
		if time.Now().After(deadline) {
			t.Fatalf("grandchild %d survived Stop", child)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// alive treats zombies as dead: an orphan may wait on a non-reaping init.
func alive(pid int) bool {
	if syscall.Kill(pid, 0) != nil {
		return false
	}
	stat, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	return err != nil || !strings.Contains(string(stat), ") Z ")
}
