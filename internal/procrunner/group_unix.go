//go:build !windows

package procrunner

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the command as the leader of a new process group so
// a signal reaches everything the shell spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig syscall.Signal) error {
	if err := syscall.Kill(-p.Pid, sig); err != nil {
		return p.Signal(sig)
	}
	return nil
}
