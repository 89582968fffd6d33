//go:build windows
// +build windows

package procmgr

import (
	"os/exec"
	"strconv"
	"syscall"
)

// shellCommand wraps command in cmd.exe.
func shellCommand(shell, command string) *exec.Cmd {
	if shell == "" {
		shell = "cmd"
	}
	return exec.Command(shell, "/c", command)
}

// configurePlatformProcess hides the console window of the child.
func configurePlatformProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}

// killTree terminates the child and all of its descendants.
func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	kill := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := kill.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
