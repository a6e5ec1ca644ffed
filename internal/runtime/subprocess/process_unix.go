//go:build unix

package subprocess

import (
	"errors"
	"os"
	"os/exec"
	goruntime "runtime"
	"syscall"
)

// configureProcess starts the interpreter as leader of a new process group
// so that cancellation kills everything it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return killGroup(cmd.Process.Pid)
	}
}

func killGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

func exitSignal(state *os.ProcessState) (syscall.Signal, bool) {
	if state == nil {
		return 0, false
	}
	status, ok := state.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return 0, false
	}
	return status.Signal(), true
}

// cpuLimitSignal reports signals sent by the kernel when RLIMIT_CPU is hit.
// SIGKILL arrives once the hard limit passes or the OOM killer steps in.
func cpuLimitSignal(sig syscall.Signal) bool {
	return sig == syscall.SIGXCPU || sig == syscall.SIGKILL
}

func isCPUSignal(sig syscall.Signal) bool { return sig == syscall.SIGXCPU }

func maxRSSBytes(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	usage, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	if goruntime.GOOS == "darwin" {
		return int64(usage.Maxrss)
	}
	return int64(usage.Maxrss) * 1024
}
