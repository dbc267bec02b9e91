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
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// BackgroundRegistry tracks running background tasks in registration order
// BackgroundRegistry 按注册顺序跟踪运行中的后台任务
type BackgroundRegistry struct {
	// tasks holds only tasks that were RUNNING at the end of the last pass
	// tasks 只保存上一次回收结束时仍在运行的任务
	tasks []*Task
	mu    sync.Mutex

	// killGrace is passed to Task.Kill on forced reaps
	// killGrace 在强制回收时传递给 Task.Kill
	killGrace time.Duration
}

// NewBackgroundRegistry creates an empty registry
// NewBackgroundRegistry 创建一个空的注册表
func NewBackgroundRegistry(killGrace time.Duration) *BackgroundRegistry {
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	return &BackgroundRegistry{killGrace: killGrace}
}

// Add starts tracking a task
// Add 开始跟踪一个任务
func (r *BackgroundRegistry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

// Len returns the number of tracked tasks
// Len 返回跟踪中的任务数量
func (r *BackgroundRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Tracking reports whether a task launched from the spec at phase/index is
// still tracked. A task that exited but was not reaped yet counts as tracked.
// Tracking 判断由 phase/index 处任务描述启动的任务是否仍在跟踪中
func (r *BackgroundRegistry) Tracking(phase Phase, index int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.Spec.Phase == phase && t.Spec.Index == index {
			return true
		}
	}
	return false
}

// Tasks returns a snapshot of the tracked tasks in registration order
// Tasks 按注册顺序返回跟踪任务的快照
func (r *BackgroundRegistry) Tasks() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Task(nil), r.tasks...)
}

// Reap polls every tracked task once. Finished tasks are removed and
// reported. Running tasks are reported as not finished, or, when forceKill is
// set, terminated, removed and reported as killed. A task that finished on its
// own is always reported as finished, even on a forced pass.
// Reap 轮询每个跟踪任务一次：已结束的任务被移除并上报；运行中的任务上报为未完成，
// 或在 forceKill 时被终止、移除并上报为已终止。
func (r *BackgroundRegistry) Reap(forceKill bool) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	reports := make([]Report, len(r.tasks))
	remaining := make([]*Task, 0, len(r.tasks))
	var running []int

	for i, t := range r.tasks {
		state, code := t.Poll()
		switch {
		case state.Terminal():
			reports[i] = newReport(t, ReportFinished, state, code)
		case !forceKill:
			reports[i] = newReport(t, ReportNotFinished, state, code)
			remaining = append(remaining, t)
		default:
			running = append(running, i)
		}
	}

	// Terminate all survivors concurrently so teardown takes one grace window
	// 并发终止所有存活任务，使关闭只耗费一个宽限期
	var wg conc.WaitGroup
	for _, i := range running {
		t := r.tasks[i]
		slot := &reports[i]
		wg.Go(func() {
			if t.Kill(r.killGrace) {
				*slot = newReport(t, ReportKilled, StateKilled, t.ExitCode())
				return
			}
			state, code := t.Poll()
			*slot = newReport(t, ReportFinished, state, code)
		})
	}
	wg.Wait()

	r.tasks = remaining
	return reports
}
