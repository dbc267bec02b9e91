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

// Package shellexec runs shell hook tasks during the lifecycle phases of a
// test engine.
// shellexec 包在测试引擎的各生命周期阶段运行 shell 钩子任务。
//
// This package provides:
// 此包提供：
// - Blocking tasks executed in declared order / 按声明顺序同步执行的阻塞任务
// - Background tasks polled without blocking / 非阻塞轮询的后台任务
// - Per-task failure policy (ignore-failure) / 按任务配置的失败策略
// - Forced teardown of unfinished tasks / 强制终止未完成的任务
package shellexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ShellExecutor exposes the phase entry points the host engine calls in the
// order prepare, startup, check*, shutdown, post-process. Phase methods are
// expected to be called sequentially; the background registry is locked on
// every launch and reap so a concurrent Check from a timer is still safe.
// ShellExecutor 提供宿主引擎按顺序调用的阶段入口。
type ShellExecutor struct {
	logger       *zap.Logger
	tracer       trace.Tracer
	launcher     Launcher
	artifactsDir string
	killGrace    time.Duration

	// tasks holds the parsed task specs of every phase
	// tasks 保存每个阶段解析后的任务描述
	tasks map[Phase][]TaskSpec

	// registry tracks background tasks until they are reaped
	// registry 跟踪后台任务直到被回收
	registry *BackgroundRegistry
}

// Option configures a ShellExecutor
// Option 配置 ShellExecutor
type Option func(*ShellExecutor)

// WithLogger sets the logger; all task events are reported through it
// WithLogger 设置日志记录器
func WithLogger(logger *zap.Logger) Option {
	return func(e *ShellExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for phase and task spans
// WithTracer 设置用于阶段和任务 span 的追踪器
func WithTracer(tracer trace.Tracer) Option {
	return func(e *ShellExecutor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithArtifactsDir sets the directory for default output files and the working directory
// WithArtifactsDir 设置默认输出文件目录和工作目录
func WithArtifactsDir(dir string) Option {
	return func(e *ShellExecutor) {
		e.artifactsDir = dir
	}
}

// WithLauncher replaces the default shell launcher
// WithLauncher 替换默认的 shell 启动器
func WithLauncher(launcher Launcher) Option {
	return func(e *ShellExecutor) {
		e.launcher = launcher
	}
}

// WithKillGrace sets the SIGTERM to SIGKILL grace window used at teardown
// WithKillGrace 设置关闭时从 SIGTERM 到 SIGKILL 的宽限时间
func WithKillGrace(grace time.Duration) Option {
	return func(e *ShellExecutor) {
		if grace > 0 {
			e.killGrace = grace
		}
	}
}

// NewShellExecutor parses the task lists in params (keyed by phase name) and
// creates an executor. Configuration errors are returned here, before any
// process is started.
// NewShellExecutor 解析按阶段名组织的任务列表并创建执行器，配置错误在启动任何进程前返回。
func NewShellExecutor(params map[string]any, opts ...Option) (*ShellExecutor, error) {
	e := &ShellExecutor{
		logger:    zap.NewNop(),
		tracer:    noop.NewTracerProvider().Tracer("shellexec"),
		killGrace: DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.artifactsDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve artifacts directory: %w", err)
		}
		e.artifactsDir = wd
	}
	dir, err := filepath.Abs(e.artifactsDir)
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts directory: %w", err)
	}
	e.artifactsDir = dir

	tasks, err := ParsePhases(params, e.artifactsDir)
	if err != nil {
		return nil, err
	}
	e.tasks = tasks

	if e.launcher == nil {
		e.launcher = NewShellLauncher(e.artifactsDir)
	}
	e.registry = NewBackgroundRegistry(e.killGrace)
	return e, nil
}

// ArtifactsDir returns the resolved artifacts directory
func (e *ShellExecutor) ArtifactsDir() string {
	return e.artifactsDir
}

// Specs returns the parsed task specs of a phase
func (e *ShellExecutor) Specs(phase Phase) []TaskSpec {
	return append([]TaskSpec(nil), e.tasks[phase]...)
}

// TaskInfo describes a tracked background task for external use
// TaskInfo 描述一个跟踪中的后台任务，供外部使用
type TaskInfo struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	Phase     Phase     `json:"phase"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
}

// Tracked returns the background tasks still being tracked, in registration order
// Tracked 按注册顺序返回仍在跟踪的后台任务
func (e *ShellExecutor) Tracked() []TaskInfo {
	tasks := e.registry.Tasks()
	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, TaskInfo{
			ID:        t.ID,
			Command:   t.Spec.Command,
			Phase:     t.Spec.Phase,
			PID:       t.PID(),
			StartTime: t.StartTime,
		})
	}
	return infos
}

// Prepare runs the prepare-phase tasks
// Prepare 运行 prepare 阶段的任务
func (e *ShellExecutor) Prepare(ctx context.Context) error {
	return e.runPhase(ctx, PhasePrepare, false)
}

// Startup runs the startup-phase tasks
// Startup 运行 startup 阶段的任务
func (e *ShellExecutor) Startup(ctx context.Context) error {
	return e.runPhase(ctx, PhaseStartup, false)
}

// Check runs the check-phase tasks, then makes one non-blocking pass over the
// background tasks. It never waits for a running background task.
// Check 运行 check 阶段任务，然后对后台任务做一次非阻塞的回收。
func (e *ShellExecutor) Check(ctx context.Context) error {
	return e.runPhase(ctx, PhaseCheck, false)
}

// Shutdown runs the shutdown-phase tasks, then terminates every background
// task still running. The registry is empty on return even if a shutdown task
// failed.
// Shutdown 运行 shutdown 阶段任务，然后终止所有仍在运行的后台任务。
func (e *ShellExecutor) Shutdown(ctx context.Context) error {
	return e.runPhase(ctx, PhaseShutdown, true)
}

// PostProcess runs the post-process tasks and repeats the forced reap, so
// no background task survives even if Shutdown was never called.
// PostProcess 运行 post-process 阶段任务并再次强制回收，确保没有后台任务残留。
func (e *ShellExecutor) PostProcess(ctx context.Context) error {
	return e.runPhase(ctx, PhasePostProcess, true)
}

// runPhase dispatches the phase's task list and then reaps background tasks.
// The reap runs even when dispatch failed so completions are never lost.
func (e *ShellExecutor) runPhase(ctx context.Context, phase Phase, forceKill bool) (err error) {
	ctx, span := e.tracer.Start(ctx, "shellexec."+string(phase),
		trace.WithAttributes(attribute.String("shellexec.phase", string(phase))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	err = e.dispatch(ctx, phase)
	if phase == PhasePrepare || phase == PhaseStartup {
		// Background failures surface from check, shutdown and post-process only
		// 后台任务失败只在 check、shutdown 和 post-process 中上报
		return err
	}
	return multierr.Append(err, e.reap(ctx, forceKill))
}

// dispatch launches the phase's tasks in declared order. A blocking task is
// waited on and policed immediately; a failure aborts the rest of the list.
func (e *ShellExecutor) dispatch(ctx context.Context, phase Phase) error {
	for _, spec := range e.tasks[phase] {
		// Check runs repeatedly; a background check task is not relaunched
		// until its previous instance has been reaped, since both would
		// write the same output files
		// check 会被重复调用，后台 check 任务在上一个实例被回收前不会重新启动
		if spec.Background && e.registry.Tracking(spec.Phase, spec.Index) {
			e.logger.Debug(fmt.Sprintf("Background task %s is still tracked, not relaunching", spec.Command),
				zap.String("phase", string(phase)))
			continue
		}

		task, err := e.launcher.Launch(ctx, spec)
		if err != nil {
			e.logger.Error("Failed to launch task",
				zap.String("phase", string(phase)),
				zap.String("command", spec.Command),
				zap.Error(err))
			return err
		}

		if spec.Background {
			e.registry.Add(task)
			e.logger.Debug(fmt.Sprintf("Started background task: %s", spec.Command),
				zap.String("phase", string(phase)),
				zap.String("task_id", task.ID),
				zap.Int("pid", task.PID()))
			continue
		}

		task.SetKillGrace(e.killGrace)
		if err := e.waitBlocking(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (e *ShellExecutor) waitBlocking(ctx context.Context, task *Task) error {
	_, span := e.tracer.Start(ctx, "shellexec.task",
		trace.WithAttributes(
			attribute.String("shellexec.command", task.Spec.Command),
			attribute.Bool("shellexec.background", false)))
	defer span.End()

	if _, err := task.Wait(ctx); err != nil {
		e.logger.Warn(fmt.Sprintf("Task %s was interrupted", task.Spec.Command), zap.Error(err))
		span.RecordError(err)
		return fmt.Errorf("wait for %q: %w", task.Spec.Command, err)
	}

	state, code := task.Poll()
	report := newReport(task, ReportFinished, state, code)
	span.SetAttributes(attribute.Int("shellexec.exit_code", code))
	e.logCompletion(report)
	if err := e.applyPolicy(report); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// reap runs one registry pass, logs every report exactly once and applies the
// failure policy to natural completions.
func (e *ShellExecutor) reap(ctx context.Context, forceKill bool) error {
	span := trace.SpanFromContext(ctx)
	var errs error

	for _, report := range e.registry.Reap(forceKill) {
		switch report.Kind {
		case ReportNotFinished:
			e.logger.Debug(fmt.Sprintf("Task: %s is not finished yet", report.Spec.Command),
				zap.String("task_id", report.TaskID))
		case ReportKilled:
			e.logger.Info(fmt.Sprintf("Background task %s was not completed, shutting it down", report.Spec.Command),
				zap.String("task_id", report.TaskID),
				zap.Duration("duration", report.Duration))
			span.AddEvent("task killed", trace.WithAttributes(attribute.String("shellexec.command", report.Spec.Command)))
		case ReportFinished:
			e.logCompletion(report)
			span.AddEvent("task finished", trace.WithAttributes(
				attribute.String("shellexec.command", report.Spec.Command),
				attribute.Int("shellexec.exit_code", report.ExitCode)))
			errs = multierr.Append(errs, e.applyPolicy(report))
		}
	}
	return errs
}

// logCompletion writes the single completion entry of a terminal task
func (e *ShellExecutor) logCompletion(r Report) {
	e.logger.Info(fmt.Sprintf("Task: %s was finished with exit code: %d", r.Spec.Command, r.ExitCode),
		zap.String("phase", string(r.Spec.Phase)),
		zap.String("task_id", r.TaskID),
		zap.Int("exit_code", r.ExitCode),
		zap.Duration("duration", r.Duration))
	e.logger.Debug(fmt.Sprintf("Output for %s:\n%s", r.Spec.Command, r.Stdout))
	if r.Stderr != "" {
		e.logger.Debug(fmt.Sprintf("Errors for %s:\n%s", r.Spec.Command, r.Stderr))
	}
}

// applyPolicy escalates a failed report unless its spec ignores failures
func (e *ShellExecutor) applyPolicy(r Report) error {
	if !r.Failed() {
		return nil
	}
	if r.Spec.IgnoreFailure {
		e.logger.Warn(fmt.Sprintf("Task %s failed with exit code %d, ignoring", r.Spec.Command, r.ExitCode),
			zap.String("phase", string(r.Spec.Phase)))
		return nil
	}
	err := &ExecutionError{Phase: r.Spec.Phase, Command: r.Spec.Command, ExitCode: r.ExitCode}
	e.logger.Error("Task failed", zap.Error(err))
	return err
}

// IsLaunchError reports whether err came from a process that never started
// IsLaunchError 判断错误是否来自未能启动的进程
func IsLaunchError(err error) bool {
	return errors.Is(err, ErrLaunchFailed)
}
