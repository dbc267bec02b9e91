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

// Package logger builds the zap logger handed to the shell executor.
// logger 包构建传递给 shell 执行器的 zap 日志记录器。
package logger

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/seatunnel/shellexec/internal/config"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a logger writing to stderr and, when cfg.File is set, to a
// rotated log file
// New 创建写入标准错误的日志记录器，设置 cfg.File 时同时写入可轮转的日志文件
func New(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(newRotatingFile(cfg)))
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), zapcore.NewMultiWriteSyncer(sinks...), level)
	return zap.New(core, zap.AddCaller()), nil
}

// WithTrace wraps log for the OpenTelemetry log bridge. When ctx carries a
// span, every entry of the returned logger is tagged with its trace_id.
// WithTrace 为 OpenTelemetry 日志桥包装日志记录器，ctx 中有 span 时每条日志都带上 trace_id
func WithTrace(ctx context.Context, log *zap.Logger) *otelzap.Logger {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		log = log.With(zap.Stringer("trace_id", sc.TraceID()))
	}
	return otelzap.New(log)
}

// newRotatingFile returns the lumberjack writer for the log file
// newRotatingFile 返回日志文件的 lumberjack 写入器
func newRotatingFile(cfg config.LogConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
}

func newEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(encCfg)
	}
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encCfg)
}
