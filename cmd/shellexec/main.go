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

// Package main is the entry point of the shellexec runner.
// main 包是 shellexec 运行器的入口点。
//
// The runner drives the task lists of a config file through the lifecycle:
// 运行器按生命周期驱动配置文件中的任务列表：
// - prepare and startup once / prepare 和 startup 各执行一次
// - check on every interval / 每个间隔执行一次 check
// - shutdown and post-process on exit or signal / 退出或收到信号时执行 shutdown 和 post-process
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/seatunnel/shellexec/internal/config"
	"github.com/seatunnel/shellexec/internal/logger"
	"github.com/seatunnel/shellexec/internal/otel_trace"
	"github.com/seatunnel/shellexec/internal/shellexec"
	"github.com/spf13/cobra"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Runner drives one ShellExecutor through the phase sequence
// Runner 驱动一个 ShellExecutor 依次执行各阶段
type Runner struct {
	// config holds the runner configuration
	// config 保存运行器配置
	config *config.Config

	logger   *zap.Logger
	tracer   trace.Tracer
	executor *shellexec.ShellExecutor

	// ctx is cancelled by Shutdown; teardown phases do not use it
	// ctx 由 Shutdown 取消，关闭阶段不使用它
	ctx    context.Context
	cancel context.CancelFunc

	// running indicates if the runner is running
	// running 表示运行器是否正在运行
	running bool
	mu      sync.Mutex
}

// NewRunner creates a runner and parses every task list of cfg
// NewRunner 创建运行器并解析 cfg 中的所有任务列表
func NewRunner(cfg *config.Config, log *zap.Logger, tracer trace.Tracer) (*Runner, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("shellexec")
	}
	executor, err := shellexec.NewShellExecutor(cfg.Tasks,
		shellexec.WithLogger(log),
		shellexec.WithTracer(tracer),
		shellexec.WithArtifactsDir(cfg.ArtifactsDir),
		shellexec.WithKillGrace(cfg.KillGrace),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		config:   cfg,
		logger:   log,
		tracer:   tracer,
		executor: executor,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Run executes prepare, startup and the check loop, then always tears down
// with shutdown and post-process. The errors of every phase are combined.
// Run 执行 prepare、startup 和 check 循环，最后总是执行 shutdown 和 post-process。
func (r *Runner) Run() (err error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner is already running / 运行器已在运行")
	}
	r.running = true
	r.mu.Unlock()

	ctx, span := r.tracer.Start(r.ctx, "shellexec.run")
	defer span.End()

	// Lifecycle entries carry the trace ID of the run span
	// 生命周期日志携带运行 span 的 trace ID
	log := logger.WithTrace(ctx, r.logger)
	log.Ctx(ctx).Info("Runner starting",
		zap.String("version", Version),
		zap.String("artifacts_dir", r.executor.ArtifactsDir()),
		zap.Duration("check_interval", r.config.CheckInterval),
		zap.Duration("duration", r.config.Duration))

	// Teardown runs on a context without cancellation so a signal cannot skip it
	// 关闭阶段使用不可取消的上下文，信号不会跳过它
	defer func() {
		teardown := context.WithoutCancel(ctx)
		err = multierr.Combine(err,
			r.executor.Shutdown(teardown),
			r.executor.PostProcess(teardown))
		log.Ctx(ctx).Info("Runner stopped", zap.Error(err))
	}()

	if err := r.executor.Prepare(ctx); err != nil {
		return err
	}
	if err := r.executor.Startup(ctx); err != nil {
		return err
	}
	return r.checkLoop(ctx, log)
}

// checkLoop runs the check phase every interval until the duration elapses,
// the runner is shut down, a check fails, or (without a duration) no
// background task is left.
func (r *Runner) checkLoop(ctx context.Context, log *otelzap.Logger) error {
	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if r.config.Duration > 0 {
		timer := time.NewTimer(r.config.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			log.Ctx(ctx).Info("Run duration elapsed", zap.Duration("duration", r.config.Duration))
			return nil
		case <-ticker.C:
			if err := r.executor.Check(ctx); err != nil {
				return err
			}
			if deadline == nil && len(r.executor.Tracked()) == 0 {
				return nil
			}
		}
	}
}

// Shutdown stops the check loop; Run then tears down the remaining tasks
// Shutdown 停止 check 循环，随后由 Run 终止剩余任务
func (r *Runner) Shutdown() {
	r.logger.Info("Shutting down runner / 正在关闭运行器")
	r.cancel()
}

// rootCmd is the root command for the shellexec CLI
// rootCmd 是 shellexec CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "shellexec",
	Short: "shellexec - run shell hook tasks through lifecycle phases",
	Long: `shellexec runs the shell tasks declared in a config file.
shellexec 运行配置文件中声明的 shell 任务。

Tasks are grouped by phase:
任务按阶段分组：
- prepare, startup / 准备、启动
- check / 检查
- shutdown, post-process / 关闭、后处理`,
	SilenceUsage: true,
	RunE:         runTasks,
}

// runCmd runs the lifecycle; the root command does the same
// runCmd 运行生命周期，与根命令相同
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every phase of the configured tasks / 运行配置任务的所有阶段",
	RunE:  runTasks,
}

// validateCmd loads the config and parses every task list without running anything
// validateCmd 加载配置并解析所有任务列表，不运行任何任务
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the config and task lists / 验证配置和任务列表",
	RunE:  validateTasks,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "shellexec\n")
		fmt.Fprintf(out, "  Version:    %s\n", Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var (
	// configFile is the path to the configuration file
	// configFile 是配置文件的路径
	configFile string

	artifactsDir string
	duration     time.Duration
	printConfig  bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: ./shellexec.yaml)")
	rootCmd.PersistentFlags().StringVar(&artifactsDir, "artifacts-dir", "", "directory for task output files")
	for _, cmd := range []*cobra.Command{rootCmd, runCmd} {
		cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "how long to keep checking background tasks")
	}
	validateCmd.Flags().BoolVar(&printConfig, "print", false, "print the effective config as YAML")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and validates the config, letting set flags override it
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides := make(map[string]interface{})
	if cmd.Flags().Changed("artifacts-dir") {
		overrides["artifacts_dir"] = artifactsDir
	}
	if cmd.Flags().Changed("duration") {
		overrides["duration"] = duration
	}

	cfg, err := config.LoadWithPriority(configFile, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runTasks is the main entry point of the runner
// runTasks 是运行器的主入口点
func runTasks(cmd *cobra.Command, args []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	tracer, shutdownTracing, err := otel_trace.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		err = multierr.Append(err, shutdownTracing(context.Background()))
	}()

	runner, err := NewRunner(cfg, log, tracer)
	if err != nil {
		return err
	}

	// Setup signal handling for graceful shutdown
	// 设置信号处理以实现优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- runner.Run()
	}()

	return awaitRun(runner, log, sigChan, errChan, signal.Stop)
}

// awaitRun waits for the run to end or for the first signal. After a signal
// the handler is released through release, so a second signal terminates the
// process while teardown is still waiting on kill grace windows.
// awaitRun 等待运行结束或第一个信号；收到信号后释放处理器，第二个信号可直接终止进程
func awaitRun(runner *Runner, log *zap.Logger, sigChan chan os.Signal, errChan <-chan error, release func(chan<- os.Signal)) error {
	select {
	case sig := <-sigChan:
		release(sigChan)
		log.Info("Received signal, tearing down; signal again to exit immediately",
			zap.String("signal", sig.String()))
		runner.Shutdown()
		return <-errChan
	case err := <-errChan:
		return err
	}
}

// validateTasks reports the parsed task lists per phase
// validateTasks 按阶段输出解析后的任务列表
func validateTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	executor, err := shellexec.NewShellExecutor(cfg.Tasks, shellexec.WithArtifactsDir(cfg.ArtifactsDir))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if printConfig {
		data, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(data))
	}

	fmt.Fprintf(out, "Artifacts: %s\n", executor.ArtifactsDir())
	for _, phase := range shellexec.Phases {
		specs := executor.Specs(phase)
		fmt.Fprintf(out, "%s: %d task(s)\n", phase, len(specs))
		for _, spec := range specs {
			fmt.Fprintf(out, "  [%s] %s%s\n", spec.Name(), spec.Command, describeFlags(spec))
		}
	}
	return nil
}

func describeFlags(spec shellexec.TaskSpec) string {
	var flags []string
	if spec.Background {
		flags = append(flags, "background")
	}
	if spec.IgnoreFailure {
		flags = append(flags, "ignore-failure")
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ", ") + ")"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
