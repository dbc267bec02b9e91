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

// Package otel_trace sets up OpenTelemetry tracing for shell hook phases.
// otel_trace 包为 shell 钩子阶段设置 OpenTelemetry 追踪。
package otel_trace

import (
	"context"
	"fmt"

	"github.com/seatunnel/shellexec/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/seatunnel/shellexec"

// ShutdownFunc flushes and stops the tracer provider
// ShutdownFunc 刷新并停止追踪提供者
type ShutdownFunc func(context.Context) error

// Init initializes tracing based on configuration. A disabled configuration
// yields a noop tracer and a no-op shutdown.
// Init 根据配置初始化追踪，禁用时返回空操作追踪器。
func Init(ctx context.Context, cfg config.TelemetryConfig) (trace.Tracer, ShutdownFunc, error) {
	if !cfg.Enabled {
		// Use noop tracer when disabled / 禁用时使用空操作追踪器
		return noop.NewTracerProvider().Tracer(instrumentationName), func(context.Context) error { return nil }, nil
	}

	otel.SetTextMapPropagator(newPropagator())

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	provider := newTracerProvider(sdktrace.WithBatcher(exporter), cfg.ServiceName)
	otel.SetTracerProvider(provider)

	return provider.Tracer(instrumentationName), provider.Shutdown, nil
}

// NewTracer creates a tracer exporting through the given span processor,
// used to plug in recorders or custom exporters
// NewTracer 使用给定的 span 处理器创建追踪器
func NewTracer(processor sdktrace.SpanProcessor, serviceName string) (trace.Tracer, ShutdownFunc) {
	provider := newTracerProvider(sdktrace.WithSpanProcessor(processor), serviceName)
	return provider.Tracer(instrumentationName), provider.Shutdown
}

func newTracerProvider(opt sdktrace.TracerProviderOption, serviceName string) *sdktrace.TracerProvider {
	if serviceName == "" {
		serviceName = config.DefaultServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	return sdktrace.NewTracerProvider(opt, sdktrace.WithResource(res))
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}
