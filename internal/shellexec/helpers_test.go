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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testKillGrace = 500 * time.Millisecond

// testSpec builds a spec whose output files live in a fresh temp dir
func testSpec(t *testing.T, command string) TaskSpec {
	t.Helper()
	dir := t.TempDir()
	return TaskSpec{
		Command:    command,
		Phase:      PhasePrepare,
		StdoutPath: filepath.Join(dir, "task.out"),
		StderrPath: filepath.Join(dir, "task.err"),
	}
}

// launch starts spec and kills the task at test cleanup
func launch(t *testing.T, spec TaskSpec) *Task {
	t.Helper()
	task, err := NewShellLauncher(filepath.Dir(spec.StdoutPath)).Launch(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { task.Kill(testKillGrace) })
	return task
}

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

// newTestExecutor creates an executor logging to an observer; PostProcess
// runs at cleanup so no process outlives the test
func newTestExecutor(t *testing.T, params map[string]interface{}, opts ...Option) (*ShellExecutor, *observer.ObservedLogs) {
	t.Helper()
	logger, logs := newObservedLogger()
	base := []Option{
		WithLogger(logger),
		WithArtifactsDir(t.TempDir()),
		WithKillGrace(testKillGrace),
	}
	e, err := NewShellExecutor(params, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.PostProcess(context.Background()) })
	return e, logs
}

// countMessages counts entries at level whose message equals msg
func countMessages(logs *observer.ObservedLogs, level zapcore.Level, msg string) int {
	return logs.FilterLevelExact(level).FilterMessage(msg).Len()
}
