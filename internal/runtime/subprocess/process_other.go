//go:build !unix

package subprocess

import (
	"os"
	"os/exec"
	"syscall"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
}

func killGroup(int) error { return nil }

func exitSignal(*os.ProcessState) (syscall.Signal, bool) { return 0, false }

func cpuLimitSignal(syscall.Signal) bool { return false }

func isCPUSignal(syscall.Signal) bool { return false }

func maxRSSBytes(*os.ProcessState) int64 { return 0 }
