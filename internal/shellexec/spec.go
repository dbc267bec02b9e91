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
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
	"go.uber.org/multierr"
)

// Phase is a named lifecycle entry point of the host engine
// Phase 是宿主引擎的命名生命周期入口
type Phase string

const (
	// PhasePrepare runs before the test starts
	// PhasePrepare 在测试开始前运行
	PhasePrepare Phase = "prepare"

	// PhaseStartup runs when the test starts
	// PhaseStartup 在测试启动时运行
	PhaseStartup Phase = "startup"

	// PhaseCheck runs on every poll of the host run loop
	// PhaseCheck 在宿主运行循环每次轮询时运行
	PhaseCheck Phase = "check"

	// PhaseShutdown runs when the test stops
	// PhaseShutdown 在测试停止时运行
	PhaseShutdown Phase = "shutdown"

	// PhasePostProcess runs after the test, as the final cleanup
	// PhasePostProcess 在测试结束后作为最终清理运行
	PhasePostProcess Phase = "post-process"
)

// Phases lists every phase in invocation order.
var Phases = []Phase{PhasePrepare, PhaseStartup, PhaseCheck, PhaseShutdown, PhasePostProcess}

// phaseAliases maps alternative configuration keys onto phases.
var phaseAliases = map[string]Phase{
	"post_process": PhasePostProcess,
}

// TaskSpec describes one command to run. It is resolved once at parse time
// and never mutated afterwards.
// TaskSpec 描述一个要运行的命令，在解析时一次性确定，之后不再修改。
type TaskSpec struct {
	// Command is passed verbatim to the platform shell
	// Command 原样传递给平台 shell
	Command string

	// Phase and Index identify the task's position in configuration
	// Phase 和 Index 标识任务在配置中的位置
	Phase Phase
	Index int

	// StdoutPath and StderrPath are absolute output destinations
	// StdoutPath 和 StderrPath 是绝对路径的输出目标
	StdoutPath string
	StderrPath string

	// WorkDir overrides the launcher's working directory when set
	// WorkDir 设置时覆盖启动器的工作目录
	WorkDir string

	// Env holds extra KEY=VALUE pairs, sorted by key
	// Env 保存额外的 KEY=VALUE 环境变量，按键排序
	Env []string

	// Background tasks are tracked asynchronously instead of waited on
	// Background 任务异步跟踪而非同步等待
	Background bool

	// IgnoreFailure turns a non-zero exit into a log entry instead of an error
	// IgnoreFailure 将非零退出转为日志记录而不是错误
	IgnoreFailure bool
}

// Name returns the artifact base name of the task, e.g. "prepare-0".
func (s TaskSpec) Name() string {
	return fmt.Sprintf("%s-%d", s.Phase, s.Index)
}

// rawTaskSpec is the loosely typed form of a configuration entry.
type rawTaskSpec struct {
	Command       string         `mapstructure:"command"`
	Out           string         `mapstructure:"out"`
	Err           string         `mapstructure:"err"`
	Cwd           string         `mapstructure:"cwd"`
	Env           map[string]any `mapstructure:"env"`
	Background    *bool          `mapstructure:"background"`
	Block         *bool          `mapstructure:"block"`
	IgnoreFailure bool           `mapstructure:"ignore-failure"`
}

// ParseTaskSpec parses one configuration entry of the given phase. The entry
// is either a bare command string or a mapping of task options; unknown
// options are ignored.
// ParseTaskSpec 解析指定阶段的一个配置条目，条目可以是命令字符串或选项映射。
func ParseTaskSpec(phase Phase, index int, entry any, artifactsDir string) (TaskSpec, error) {
	var raw rawTaskSpec

	switch e := entry.(type) {
	case string:
		raw.Command = e
	case nil:
		return TaskSpec{}, fmt.Errorf("%w: %s[%d]: empty entry", ErrInvalidTaskSpec, phase, index)
	default:
		if reflect.ValueOf(entry).Kind() != reflect.Map {
			return TaskSpec{}, fmt.Errorf("%w: %s[%d]: unsupported entry type %T", ErrInvalidTaskSpec, phase, index, entry)
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &raw,
		})
		if err != nil {
			return TaskSpec{}, err
		}
		if err := decoder.Decode(entry); err != nil {
			return TaskSpec{}, fmt.Errorf("%w: %s[%d]: %v", ErrInvalidTaskSpec, phase, index, err)
		}
	}

	command := strings.TrimSpace(raw.Command)
	if command == "" {
		return TaskSpec{}, fmt.Errorf("%w: %s[%d]: command is required", ErrInvalidTaskSpec, phase, index)
	}

	spec := TaskSpec{
		Command:       command,
		Phase:         phase,
		Index:         index,
		Background:    resolveBackground(raw.Background, raw.Block),
		IgnoreFailure: raw.IgnoreFailure,
	}

	name := spec.Name()
	spec.StdoutPath = resolvePath(artifactsDir, raw.Out, name+".out")
	spec.StderrPath = resolvePath(artifactsDir, raw.Err, name+".err")
	if raw.Cwd != "" {
		spec.WorkDir = resolvePath(artifactsDir, raw.Cwd, "")
	}

	env, err := formatEnv(raw.Env)
	if err != nil {
		return TaskSpec{}, fmt.Errorf("%w: %s[%d]: %v", ErrInvalidTaskSpec, phase, index, err)
	}
	spec.Env = env

	return spec, nil
}

// ParsePhases parses the task lists of every phase found in params. All
// configuration errors are collected and returned together.
// ParsePhases 解析 params 中所有阶段的任务列表，并汇总返回全部配置错误。
func ParsePhases(params map[string]any, artifactsDir string) (map[Phase][]TaskSpec, error) {
	result := make(map[Phase][]TaskSpec, len(Phases))
	var errs error

	for _, key := range phaseKeys(params) {
		phase, _ := lookupPhase(key)
		entries, err := toEntries(params[key])
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidTaskSpec, phase, err))
			continue
		}
		for _, entry := range entries {
			spec, err := ParseTaskSpec(phase, len(result[phase]), entry, artifactsDir)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			result[phase] = append(result[phase], spec)
		}
	}

	if errs != nil {
		return nil, errs
	}
	return result, nil
}

// phaseKeys returns the keys of params that name a phase, in a fixed order:
// by phase, the canonical spelling before aliases, then lexically. Tasks of a
// phase given under several keys therefore get stable indexes.
func phaseKeys(params map[string]any) []string {
	rank := make(map[Phase]int, len(Phases))
	for i, p := range Phases {
		rank[p] = i
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		if _, ok := lookupPhase(key); ok {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		pi, _ := lookupPhase(keys[i])
		pj, _ := lookupPhase(keys[j])
		if pi != pj {
			return rank[pi] < rank[pj]
		}
		ci, cj := keys[i] == string(pi), keys[j] == string(pj)
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})
	return keys
}

func lookupPhase(key string) (Phase, bool) {
	key = strings.ToLower(key)
	for _, p := range Phases {
		if string(p) == key {
			return p, true
		}
	}
	p, ok := phaseAliases[key]
	return p, ok
}

// toEntries accepts a list of entries or a single entry.
func toEntries(value any) ([]any, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok {
		return []any{s}, nil
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		entries := make([]any, rv.Len())
		for i := range entries {
			entries[i] = rv.Index(i).Interface()
		}
		return entries, nil
	case reflect.Map:
		return []any{value}, nil
	default:
		return nil, fmt.Errorf("unsupported task list type %T", value)
	}
}

// resolveBackground applies the background/block precedence: an explicit
// background wins, block is its negation, and tasks block by default.
func resolveBackground(background, block *bool) bool {
	if background != nil {
		return *background
	}
	if block != nil {
		return !*block
	}
	return false
}

func resolvePath(base, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func formatEnv(env map[string]any) ([]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := cast.ToStringE(env[k])
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		pairs = append(pairs, k+"="+v)
	}
	return pairs, nil
}
