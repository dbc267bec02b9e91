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
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a task
// State 表示任务的生命周期状态
type State int

const (
	// StateRunning indicates the process has not exited yet
	// StateRunning 表示进程尚未退出
	StateRunning State = iota

	// StateFinishedOK indicates the process exited with code 0
	// StateFinishedOK 表示进程以退出码 0 结束
	StateFinishedOK

	// StateFinishedFailed indicates a non-zero exit or a signal termination
	// StateFinishedFailed 表示进程非零退出或被信号终止
	StateFinishedFailed

	// StateKilled indicates the process was terminated at teardown
	// StateKilled 表示进程在关闭时被强制终止
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinishedOK:
		return "finished"
	case StateFinishedFailed:
		return "failed"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s != StateRunning
}

// DefaultKillGrace is the time a task gets to exit after SIGTERM before SIGKILL
// DefaultKillGrace 是发送 SIGTERM 后到发送 SIGKILL 之前的等待时间
const DefaultKillGrace = 3 * time.Second

// Task owns one launched process and tracks its state
// Task 持有一个已启动的进程并跟踪其状态
type Task struct {
	// ID uniquely identifies the task within a run
	// ID 在一次运行中唯一标识任务
	ID string

	// Spec is the task description the process was launched from
	// Spec 是启动该进程所依据的任务描述
	Spec TaskSpec

	// StartTime is when the process was started
	// StartTime 是进程启动的时间
	StartTime time.Time

	cmd   *exec.Cmd
	files []*os.File

	// done is closed once cmd.Wait has returned; waitErr is set before that
	done    chan struct{}
	waitErr error

	// killGrace is used when a cancelled Wait kills the task
	killGrace time.Duration

	mu       sync.Mutex
	state    State
	exitCode int
	stdout   string
	stderr   string
}

func newTask(spec TaskSpec, cmd *exec.Cmd, files []*os.File) *Task {
	t := &Task{
		ID:        uuid.NewString(),
		Spec:      spec,
		StartTime: time.Now(),
		cmd:       cmd,
		files:     files,
		done:      make(chan struct{}),
		killGrace: DefaultKillGrace,
		state:     StateRunning,
	}
	go t.waitProcess()
	return t
}

// waitProcess reaps the OS process so Poll can observe its exit without blocking.
func (t *Task) waitProcess() {
	t.waitErr = t.cmd.Wait()
	for _, f := range t.files {
		f.Close()
	}
	close(t.done)
}

// PID returns the process ID of the task
// PID 返回任务的进程 ID
func (t *Task) PID() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// State returns the last observed state without polling the process.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ExitCode returns the exit code once the task is terminal, -1 for signals
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Output returns the captured stdout and stderr. They are read once, when the
// task first reaches a natural terminal state, and are empty for killed tasks.
// Output 返回捕获的标准输出和标准错误，仅在任务首次自然结束时读取一次。
func (t *Task) Output() (stdout, stderr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stdout, t.stderr
}

// SetKillGrace sets the grace window a cancelled Wait passes to Kill.
// Non-positive values keep the default. Call it before Wait.
func (t *Task) SetKillGrace(grace time.Duration) {
	if grace > 0 {
		t.killGrace = grace
	}
}

// Wait blocks until the process exits and returns its exit code. If ctx is
// cancelled first the task is killed and ctx.Err() is returned.
// Wait 阻塞直到进程退出并返回退出码；若 ctx 先被取消则终止任务并返回 ctx.Err()。
func (t *Task) Wait(ctx context.Context) (int, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		t.Kill(t.killGrace)
		return -1, ctx.Err()
	}
	_, code := t.Poll()
	return code, nil
}

// Poll returns the current state without blocking. It never logs; the first
// call that observes the exit records the exit code and captures output.
// Poll 非阻塞地返回当前状态，不记录日志；首次观察到退出时记录退出码并捕获输出。
func (t *Task) Poll() (State, int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRunning {
		select {
		case <-t.done:
			t.finishLocked()
		default:
		}
	}
	return t.state, t.exitCode
}

// Kill terminates a running task, escalating from SIGTERM to SIGKILL after
// grace. It returns false when the task had already exited on its own, in
// which case the natural exit is recorded instead.
// Kill 终止运行中的任务，grace 超时后由 SIGTERM 升级为 SIGKILL；若任务已自然退出则返回 false。
func (t *Task) Kill(grace time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return false
	}
	select {
	case <-t.done:
		t.finishLocked()
		return false
	default:
	}

	_ = terminateProcess(t.cmd)
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-t.done:
	case <-timer.C:
		_ = killProcess(t.cmd)
		select {
		case <-t.done:
		case <-time.After(grace):
			// Process did not die; leave the waiter goroutine to reap it later
			// 进程未退出，由等待协程稍后回收
		}
	}

	t.state = StateKilled
	t.exitCode = -1
	if isDone(t.done) && t.cmd.ProcessState != nil {
		t.exitCode = t.cmd.ProcessState.ExitCode()
	}
	return true
}

// finishLocked records a natural exit. Caller must hold t.mu and done must be closed.
func (t *Task) finishLocked() {
	t.exitCode = -1
	if t.cmd.ProcessState != nil {
		t.exitCode = t.cmd.ProcessState.ExitCode()
	}
	if t.exitCode == 0 && t.waitErr == nil {
		t.state = StateFinishedOK
	} else {
		t.state = StateFinishedFailed
	}

	t.stdout = readOutput(t.Spec.StdoutPath)
	if t.Spec.StderrPath != t.Spec.StdoutPath {
		t.stderr = readOutput(t.Spec.StderrPath)
	}
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func readOutput(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
