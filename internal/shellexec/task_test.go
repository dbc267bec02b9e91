//go:build !windows

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
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLaunchRedirectsOutput tests that stdout and stderr go to their files
// TestLaunchRedirectsOutput 测试标准输出和标准错误写入各自的文件
func TestLaunchRedirectsOutput(t *testing.T) {
	spec := testSpec(t, "echo out; echo err 1>&2")
	task := launch(t, spec)

	code, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, StateFinishedOK, task.State())

	stdout, stderr := task.Output()
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)

	data, err := os.ReadFile(spec.StdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(data))
}

// TestLaunchSharedOutputFile tests stdout and stderr pointing at one file
// TestLaunchSharedOutputFile 测试标准输出和标准错误指向同一文件
func TestLaunchSharedOutputFile(t *testing.T) {
	spec := testSpec(t, "echo out; echo err 1>&2")
	spec.StderrPath = spec.StdoutPath
	task := launch(t, spec)

	_, err := task.Wait(context.Background())
	require.NoError(t, err)

	stdout, stderr := task.Output()
	assert.Equal(t, "out\nerr\n", stdout)
	assert.Empty(t, stderr)
}

// TestLaunchWorkDir tests that the task runs in the launcher's directory
// TestLaunchWorkDir 测试任务在启动器目录中运行
func TestLaunchWorkDir(t *testing.T) {
	spec := testSpec(t, "pwd")
	dir := filepath.Join(filepath.Dir(spec.StdoutPath), "nested", "artifacts")

	task, err := NewShellLauncher(dir).Launch(context.Background(), spec)
	require.NoError(t, err)
	_, err = task.Wait(context.Background())
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	stdout, _ := task.Output()
	assert.Equal(t, want+"\n", stdout)
}

// TestLaunchEnv tests that extra environment variables reach the command
// TestLaunchEnv 测试额外环境变量传递给命令
func TestLaunchEnv(t *testing.T) {
	spec := testSpec(t, `echo "$GREETING $TARGET"`)
	spec.Env = []string{"GREETING=hello", "TARGET=world"}
	task := launch(t, spec)

	_, err := task.Wait(context.Background())
	require.NoError(t, err)
	stdout, _ := task.Output()
	assert.Equal(t, "hello world\n", stdout)
}

// TestLaunchFailure tests that a process that cannot start is a launch error
// TestLaunchFailure 测试无法启动的进程返回启动错误
func TestLaunchFailure(t *testing.T) {
	t.Run("missing shell", func(t *testing.T) {
		spec := testSpec(t, "true")
		launcher := &ShellLauncher{
			WorkDir: filepath.Dir(spec.StdoutPath),
			Shell:   []string{"/definitely/not/a/shell", "-c"},
		}
		_, err := launcher.Launch(context.Background(), spec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLaunchFailed))
		assert.True(t, IsLaunchError(err))
	})

	t.Run("missing working directory", func(t *testing.T) {
		spec := testSpec(t, "true")
		spec.WorkDir = filepath.Join(t.TempDir(), "does-not-exist")
		_, err := NewShellLauncher(t.TempDir()).Launch(context.Background(), spec)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLaunchFailed))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewShellLauncher(t.TempDir()).Launch(ctx, testSpec(t, "true"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// TestTaskExitCode tests that a non-zero exit is a failure with its code
// TestTaskExitCode 测试非零退出被记录为失败及其退出码
func TestTaskExitCode(t *testing.T) {
	task := launch(t, testSpec(t, "exit 3"))

	code, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	state, code := task.Poll()
	assert.Equal(t, StateFinishedFailed, state)
	assert.Equal(t, 3, code)
}

// TestTaskSignalTerminated tests that a signal death is a failure with code -1
// TestTaskSignalTerminated 测试被信号终止的进程为失败且退出码为 -1
func TestTaskSignalTerminated(t *testing.T) {
	task := launch(t, testSpec(t, "kill -9 $$"))

	code, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, code)
	assert.Equal(t, StateFinishedFailed, task.State())
}

// TestTaskPollDoesNotBlock tests that Poll returns immediately for a running task
// TestTaskPollDoesNotBlock 测试 Poll 对运行中的任务立即返回
func TestTaskPollDoesNotBlock(t *testing.T) {
	task := launch(t, testSpec(t, "sleep 10"))

	start := time.Now()
	state, _ := task.Poll()
	assert.Equal(t, StateRunning, state)
	assert.Less(t, time.Since(start), time.Second)
	assert.Greater(t, task.PID(), 0)
}

// TestTaskKill tests the single transition to KILLED
// TestTaskKill 测试只发生一次到 KILLED 的状态转换
func TestTaskKill(t *testing.T) {
	task := launch(t, testSpec(t, "sleep 10"))

	assert.True(t, task.Kill(testKillGrace))
	assert.Equal(t, StateKilled, task.State())

	// Idempotent after the terminal state / 终态之后幂等
	assert.False(t, task.Kill(testKillGrace))
	state, _ := task.Poll()
	assert.Equal(t, StateKilled, state)

	stdout, stderr := task.Output()
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)
}

// TestTaskKillEscalates tests that a task ignoring SIGTERM is killed after the grace window
// TestTaskKillEscalates 测试忽略 SIGTERM 的任务在宽限期后被强制终止
func TestTaskKillEscalates(t *testing.T) {
	task := launch(t, testSpec(t, "trap '' TERM; while true; do sleep 0.1; done"))
	time.Sleep(200 * time.Millisecond)

	grace := 300 * time.Millisecond
	start := time.Now()
	assert.True(t, task.Kill(grace))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Equal(t, StateKilled, task.State())
}

// TestTaskKillAfterNaturalExit tests that Kill never overrides a finished task
// TestTaskKillAfterNaturalExit 测试 Kill 不会覆盖已结束的任务
func TestTaskKillAfterNaturalExit(t *testing.T) {
	task := launch(t, testSpec(t, "echo done"))
	<-task.done

	assert.False(t, task.Kill(testKillGrace))
	state, code := task.Poll()
	assert.Equal(t, StateFinishedOK, state)
	assert.Equal(t, 0, code)
	stdout, _ := task.Output()
	assert.Equal(t, "done\n", stdout)
}

// TestTaskOutputReadOnce tests that captured output is not re-read
// TestTaskOutputReadOnce 测试捕获的输出不会被重复读取
func TestTaskOutputReadOnce(t *testing.T) {
	spec := testSpec(t, "echo first")
	task := launch(t, spec)
	_, err := task.Wait(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(spec.StdoutPath, []byte("second\n"), 0644))
	task.Poll()

	stdout, _ := task.Output()
	assert.Equal(t, "first\n", stdout)
}

// TestTaskWaitCancelled tests that a cancelled Wait kills the task
// TestTaskWaitCancelled 测试取消 Wait 会终止任务
func TestTaskWaitCancelled(t *testing.T) {
	task := launch(t, testSpec(t, "sleep 10"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	code, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, code)
	assert.Equal(t, StateKilled, task.State())
}

// TestTaskWaitCancelledUsesKillGrace tests that a cancelled Wait escalates
// after the task's grace window
// TestTaskWaitCancelledUsesKillGrace 测试取消的 Wait 在任务宽限期后升级终止
func TestTaskWaitCancelledUsesKillGrace(t *testing.T) {
	task := launch(t, testSpec(t, "trap '' TERM; while true; do sleep 0.1; done"))
	task.SetKillGrace(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), DefaultKillGrace)
	assert.Equal(t, StateKilled, task.State())
}

// TestStateString tests the state names
// TestStateString 测试状态名称
func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "finished", StateFinishedOK.String())
	assert.Equal(t, "failed", StateFinishedFailed.String())
	assert.Equal(t, "killed", StateKilled.String())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateKilled.Terminal())
}
