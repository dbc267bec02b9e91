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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Launcher starts the OS process for a TaskSpec and returns without waiting
// for it to finish.
// Launcher 为 TaskSpec 启动操作系统进程，并且不等待其结束即返回。
type Launcher interface {
	Launch(ctx context.Context, spec TaskSpec) (*Task, error)
}

// ShellLauncher runs task commands through the platform shell
// ShellLauncher 通过平台 shell 运行任务命令
type ShellLauncher struct {
	// WorkDir is the default working directory, normally the artifacts directory
	// WorkDir 是默认工作目录，通常为产物目录
	WorkDir string

	// Shell is the interpreter and its flags; defaults to /bin/sh -c or cmd /C
	// Shell 是解释器及其参数，默认为 /bin/sh -c 或 cmd /C
	Shell []string
}

// NewShellLauncher creates a ShellLauncher rooted at workDir
// NewShellLauncher 创建以 workDir 为工作目录的 ShellLauncher
func NewShellLauncher(workDir string) *ShellLauncher {
	return &ShellLauncher{WorkDir: workDir}
}

// Launch starts the task process with stdout and stderr redirected to the
// spec's files. Any failure to start wraps ErrLaunchFailed.
// Launch 启动任务进程并将标准输出和标准错误重定向到文件，启动失败时返回 ErrLaunchFailed。
func (l *ShellLauncher) Launch(ctx context.Context, spec TaskSpec) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := spec.WorkDir
	if dir == "" {
		dir = l.WorkDir
		if dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("%w: %s: create working directory: %v", ErrLaunchFailed, spec.Command, err)
			}
		}
	}

	stdout, err := openOutput(spec.StdoutPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, spec.Command, err)
	}
	stderr := stdout
	if spec.StderrPath != spec.StdoutPath {
		stderr, err = openOutput(spec.StderrPath)
		if err != nil {
			stdout.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, spec.Command, err)
		}
	}
	files := []*os.File{stdout}
	if stderr != stdout {
		files = append(files, stderr)
	}

	shell := l.Shell
	if len(shell) == 0 {
		shell = defaultShell
	}
	args := append(append([]string{}, shell[1:]...), spec.Command)

	// Not bound to ctx: background tasks outlive the phase that started them
	// 不绑定 ctx：后台任务的生命周期长于启动它的阶段
	cmd := exec.Command(shell[0], args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), spec.Env...)
	setProcGroupAttr(cmd)

	if err := cmd.Start(); err != nil {
		for _, f := range files {
			f.Close()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, spec.Command, err)
	}

	return newTask(spec, cmd, files), nil
}

// openOutput creates (or truncates) an output file, creating parent directories.
// An empty path discards the output.
func openOutput(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}
