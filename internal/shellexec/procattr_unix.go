//go:build !windows
// +build !windows

/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package shellexec

import (
	"os/exec"
	"syscall"
)

// defaultShell is the command interpreter used for task commands on Unix systems
// defaultShell 是 Unix 系统上执行任务命令的解释器
var defaultShell = []string{"/bin/sh", "-c"}

// setProcGroupAttr puts the task in its own process group, so teardown
// signals reach every process the shell spawned
// setProcGroupAttr 将任务放入独立的进程组，使关闭信号能到达 shell 派生的所有进程
func setProcGroupAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // Create new process group / 创建新进程组
	}
}

// terminateProcess sends SIGTERM to the task's process group
// terminateProcess 向任务进程组发送 SIGTERM
func terminateProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGTERM)
}

// killProcess sends SIGKILL to the task's process group
// killProcess 向任务进程组发送 SIGKILL
func killProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, syscall.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		// Fall back to the leader alone / 回退为只向进程本身发送信号
		return cmd.Process.Signal(sig)
	}
	return nil
}
