//go:build !windows
// +build !windows

package procmgr

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// shellCommand wraps command in the platform shell.
func shellCommand(shell, command string) *exec.Cmd {
	if shell == "" {
		shell = "sh"
	}
	return exec.Command(shell, "-c", command)
}

// configurePlatformProcess puts the child in its own process group so the
// whole tree can be signalled at once.
func configurePlatformProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree sends SIGKILL to the child's process group.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	pgid, err := unix.Getpgid(pid)
	if err != nil || pgid <= 0 {
		pgid = pid
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return cmd.Process.Kill()
	}
	return nil
}
