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

import "time"

// ReportKind classifies the outcome of a reap pass for one task
// ReportKind 对一次回收过程中单个任务的结果进行分类
type ReportKind string

const (
	// ReportFinished means the task exited on its own and was removed
	// ReportFinished 表示任务自然退出并已移除
	ReportFinished ReportKind = "finished"

	// ReportNotFinished means the task is still running and stays tracked
	// ReportNotFinished 表示任务仍在运行并继续跟踪
	ReportNotFinished ReportKind = "not_finished"

	// ReportKilled means the task was still running at teardown and was terminated
	// ReportKilled 表示任务在关闭时仍在运行并已被终止
	ReportKilled ReportKind = "killed"
)

// Report describes one task observed by a reap pass
// Report 描述回收过程中观察到的一个任务
type Report struct {
	TaskID   string
	Spec     TaskSpec
	Kind     ReportKind
	State    State
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Failed reports whether the task finished naturally with a failure.
// Killed tasks are never failures.
func (r Report) Failed() bool {
	return r.Kind == ReportFinished && r.State == StateFinishedFailed
}

func newReport(t *Task, kind ReportKind, state State, code int) Report {
	stdout, stderr := t.Output()
	return Report{
		TaskID:   t.ID,
		Spec:     t.Spec,
		Kind:     kind,
		State:    state,
		ExitCode: code,
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(t.StartTime),
	}
}
