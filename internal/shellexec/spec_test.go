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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestParseTaskSpecString tests that a bare string gets every default
// TestParseTaskSpecString 测试纯字符串条目使用所有默认值
func TestParseTaskSpecString(t *testing.T) {
	spec, err := ParseTaskSpec(PhasePrepare, 2, "dir .. && cd ..", "/tmp/artifacts")
	require.NoError(t, err)

	assert.Equal(t, "dir .. && cd ..", spec.Command)
	assert.Equal(t, PhasePrepare, spec.Phase)
	assert.Equal(t, 2, spec.Index)
	assert.Equal(t, "/tmp/artifacts/prepare-2.out", spec.StdoutPath)
	assert.Equal(t, "/tmp/artifacts/prepare-2.err", spec.StderrPath)
	assert.Empty(t, spec.WorkDir)
	assert.Empty(t, spec.Env)
	assert.False(t, spec.Background)
	assert.False(t, spec.IgnoreFailure)
}

// TestParseTaskSpecMapping tests every recognized option
// TestParseTaskSpecMapping 测试所有可识别的选项
func TestParseTaskSpecMapping(t *testing.T) {
	entry := map[string]interface{}{
		"command":        "echo 1",
		"out":            "out.txt",
		"err":            "/var/tmp/err.txt",
		"cwd":            "work",
		"env":            map[string]interface{}{"B": 2, "A": "one"},
		"background":     true,
		"ignore-failure": "true",
		"run-at":         "local",
	}

	spec, err := ParseTaskSpec(PhaseStartup, 0, entry, "/tmp/artifacts")
	require.NoError(t, err)

	assert.Equal(t, "echo 1", spec.Command)
	assert.Equal(t, "/tmp/artifacts/out.txt", spec.StdoutPath)
	assert.Equal(t, "/var/tmp/err.txt", spec.StderrPath)
	assert.Equal(t, "/tmp/artifacts/work", spec.WorkDir)
	assert.Equal(t, []string{"A=one", "B=2"}, spec.Env)
	assert.True(t, spec.Background)
	assert.True(t, spec.IgnoreFailure)
}

// TestParseTaskSpecBackgroundBlock tests the background/block precedence
// TestParseTaskSpecBackgroundBlock 测试 background 与 block 的优先级
func TestParseTaskSpecBackgroundBlock(t *testing.T) {
	tests := []struct {
		name       string
		entry      map[string]interface{}
		background bool
	}{
		{name: "neither key", entry: map[string]interface{}{}, background: false},
		{name: "background true", entry: map[string]interface{}{"background": true}, background: true},
		{name: "background false", entry: map[string]interface{}{"background": false}, background: false},
		{name: "block true", entry: map[string]interface{}{"block": true}, background: false},
		{name: "block false", entry: map[string]interface{}{"block": false}, background: true},
		{name: "background wins over block", entry: map[string]interface{}{"background": true, "block": true}, background: true},
		{name: "background false wins over block false", entry: map[string]interface{}{"background": false, "block": false}, background: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry["command"] = "sleep 1"
			spec, err := ParseTaskSpec(PhasePrepare, 0, tt.entry, "/tmp")
			require.NoError(t, err)
			assert.Equal(t, tt.background, spec.Background)
		})
	}
}

// TestParseTaskSpecInvalid tests entries that must be rejected at parse time
// TestParseTaskSpecInvalid 测试在解析时必须被拒绝的条目
func TestParseTaskSpecInvalid(t *testing.T) {
	tests := []struct {
		name  string
		entry interface{}
	}{
		{name: "nil entry", entry: nil},
		{name: "empty string", entry: "   "},
		{name: "missing command", entry: map[string]interface{}{"background": true}},
		{name: "empty command", entry: map[string]interface{}{"command": ""}},
		{name: "number", entry: 42},
		{name: "list", entry: []interface{}{"echo"}},
		{name: "bad bool", entry: map[string]interface{}{"command": "true", "background": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTaskSpec(PhaseCheck, 3, tt.entry, "/tmp")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTaskSpec))
			assert.Contains(t, err.Error(), "check[3]")
		})
	}
}

// TestParsePhases tests parsing of the whole phase map
// TestParsePhases 测试解析完整的阶段映射
func TestParsePhases(t *testing.T) {
	params := map[string]interface{}{
		"prepare": []interface{}{
			"echo a",
			map[string]interface{}{"command": "echo b", "background": true},
		},
		"startup":      "echo single",
		"post_process": []string{"echo done"},
		"services":     []interface{}{"ignored"},
	}

	phases, err := ParsePhases(params, "/tmp/artifacts")
	require.NoError(t, err)

	require.Len(t, phases[PhasePrepare], 2)
	assert.Equal(t, "echo a", phases[PhasePrepare][0].Command)
	assert.Equal(t, 0, phases[PhasePrepare][0].Index)
	assert.Equal(t, "echo b", phases[PhasePrepare][1].Command)
	assert.Equal(t, 1, phases[PhasePrepare][1].Index)
	assert.True(t, phases[PhasePrepare][1].Background)

	require.Len(t, phases[PhaseStartup], 1)
	assert.Equal(t, "echo single", phases[PhaseStartup][0].Command)

	require.Len(t, phases[PhasePostProcess], 1)
	assert.Equal(t, filepath.Join("/tmp/artifacts", "post-process-0.out"), phases[PhasePostProcess][0].StdoutPath)

	assert.Empty(t, phases[PhaseCheck])
	assert.Empty(t, phases[PhaseShutdown])
}

// TestParsePhasesCollectsErrors tests that every broken entry is reported
// TestParsePhasesCollectsErrors 测试所有错误条目都被报告
func TestParsePhasesCollectsErrors(t *testing.T) {
	params := map[string]interface{}{
		"prepare":  []interface{}{"echo ok", map[string]interface{}{"out": "x"}},
		"shutdown": []interface{}{nil},
		"check":    42,
	}

	_, err := ParsePhases(params, "/tmp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTaskSpec))
	assert.Contains(t, err.Error(), "prepare[1]")
	assert.Contains(t, err.Error(), "shutdown[0]")
	assert.Contains(t, err.Error(), "unsupported task list type")
}

// Property: a bare command string is equivalent to {command: <string>}.
// 属性：纯命令字符串等价于 {command: <string>}。
func TestProperty_BareStringEquivalentToMapping(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		command := rapid.StringMatching(`[a-z][a-z0-9 ._-]{0,30}[a-z0-9]`).Draw(t, "command")
		phase := rapid.SampledFrom(Phases).Draw(t, "phase")
		index := rapid.IntRange(0, 50).Draw(t, "index")

		fromString, err := ParseTaskSpec(phase, index, command, "/tmp/artifacts")
		if err != nil {
			t.Fatalf("string entry rejected: %v", err)
		}
		fromMap, err := ParseTaskSpec(phase, index, map[string]interface{}{"command": command}, "/tmp/artifacts")
		if err != nil {
			t.Fatalf("mapping entry rejected: %v", err)
		}

		if fmt.Sprint(fromString) != fmt.Sprint(fromMap) {
			t.Fatalf("specs differ:\n%+v\n%+v", fromString, fromMap)
		}
		if fromString.StdoutPath != filepath.Join("/tmp/artifacts", fmt.Sprintf("%s-%d.out", phase, index)) {
			t.Fatalf("unexpected default stdout path %s", fromString.StdoutPath)
		}
	})
}

// Property: explicit background always wins; otherwise block decides; the
// default is blocking.
// 属性：显式 background 优先，否则由 block 决定，默认阻塞。
func TestProperty_BackgroundPrecedence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		entry := map[string]interface{}{"command": "true"}
		hasBackground := rapid.Bool().Draw(t, "hasBackground")
		hasBlock := rapid.Bool().Draw(t, "hasBlock")
		background := rapid.Bool().Draw(t, "background")
		block := rapid.Bool().Draw(t, "block")
		if hasBackground {
			entry["background"] = background
		}
		if hasBlock {
			entry["block"] = block
		}

		spec, err := ParseTaskSpec(PhasePrepare, 0, entry, "/tmp")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := false
		switch {
		case hasBackground:
			want = background
		case hasBlock:
			want = !block
		}
		if spec.Background != want {
			t.Fatalf("entry %v: background = %v, want %v", entry, spec.Background, want)
		}
	})
}

// TestParsePhasesAliasOrder tests that a phase given under both spellings
// always gets the same task order and indexes
// TestParsePhasesAliasOrder 测试同一阶段以两种写法给出时任务顺序和索引始终一致
func TestParsePhasesAliasOrder(t *testing.T) {
	params := map[string]interface{}{
		"post_process": []interface{}{"echo alias"},
		"post-process": []interface{}{"echo canonical-0", "echo canonical-1"},
		"prepare":      "echo prepare",
	}

	for i := 0; i < 50; i++ {
		phases, err := ParsePhases(params, "/tmp/artifacts")
		require.NoError(t, err)

		specs := phases[PhasePostProcess]
		require.Len(t, specs, 3)
		assert.Equal(t, "echo canonical-0", specs[0].Command)
		assert.Equal(t, "echo canonical-1", specs[1].Command)
		assert.Equal(t, "echo alias", specs[2].Command)
		assert.Equal(t, 2, specs[2].Index)
		assert.Equal(t, filepath.Join("/tmp/artifacts", "post-process-2.out"), specs[2].StdoutPath)
	}
}
