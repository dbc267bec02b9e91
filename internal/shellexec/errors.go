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
	"errors"
	"fmt"
)

// Common errors for shell task execution
// Shell 任务执行的常见错误
var (
	// ErrInvalidTaskSpec indicates a task entry could not be parsed from configuration
	// ErrInvalidTaskSpec 表示无法从配置中解析任务条目
	ErrInvalidTaskSpec = errors.New("invalid task spec")

	// ErrLaunchFailed indicates the process could not be started
	// ErrLaunchFailed 表示进程无法启动
	ErrLaunchFailed = errors.New("task failed to launch")

	// ErrExecutionFailed indicates the process exited non-zero or was killed by a signal
	// ErrExecutionFailed 表示进程以非零状态退出或被信号终止
	ErrExecutionFailed = errors.New("task execution failed")
)

// ExecutionError is returned by a phase call when a task that does not ignore
// failures exits unsuccessfully.
// ExecutionError 在未忽略失败的任务执行失败时由阶段调用返回。
type ExecutionError struct {
	Phase    Phase
	Command  string
	ExitCode int
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s task %q failed with exit code %d", e.Phase, e.Command, e.ExitCode)
}

// Is lets errors.Is(err, ErrExecutionFailed) match any ExecutionError.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}
