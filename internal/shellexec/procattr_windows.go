//go:build windows
// +build windows

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

// defaultShell is the command interpreter used for task commands on Windows
// defaultShell 是 Windows 上执行任务命令的解释器
var defaultShell = []string{"cmd", "/C"}

// setProcGroupAttr starts the task in a new process group
// setProcGroupAttr 在新进程组中启动任务
func setProcGroupAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateProcess kills the process; Windows has no graceful signal for
// console-less children
// terminateProcess 终止进程，Windows 上无法对子进程发送优雅关闭信号
func terminateProcess(cmd *exec.Cmd) error {
	return killProcess(cmd)
}

// killProcess forcibly terminates the process
// killProcess 强制终止进程
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
