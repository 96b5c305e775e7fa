package broker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/infergate/broker"

// observer OTel 埋点。仪表创建失败只降级不报错，
// 各方法对 nil 仪表安全。
type observer struct {
	tracer trace.Tracer

	// 柜台
	requestTotal  metric.Int64Counter
	resolvedTotal metric.Int64Counter
	// 直方图
	batchSize metric.Int64Histogram
}

func newObserver(logger *zap.Logger) *observer {
	o := &observer{
		tracer: otel.Tracer(instrumentationName),
	}
	meter := otel.Meter(instrumentationName)

	var err error
	o.requestTotal, err = meter.Int64Counter("broker.request.total",
		metric.WithDescription("Total number of submitted requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		logger.Warn("创建请求计数器失败", zap.Error(err))
	}
	o.resolvedTotal, err = meter.Int64Counter("broker.request.resolved.total",
		metric.WithDescription("Total number of resolved requests by outcome"),
		metric.WithUnit("{request}"))
	if err != nil {
		logger.Warn("创建解析计数器失败", zap.Error(err))
	}
	o.batchSize, err = meter.Int64Histogram("broker.batch.size",
		metric.WithDescription("Number of requests per backend invocation"),
		metric.WithUnit("{request}"))
	if err != nil {
		logger.Warn("创建批量直方图失败", zap.Error(err))
	}
	return o
}

func (o *observer) submitted(ctx context.Context, class string) {
	if o.requestTotal == nil {
		return
	}
	o.requestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class)))
}

func (o *observer) resolved(class, outcome string) {
	if o.resolvedTotal == nil {
		return
	}
	o.resolvedTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("outcome", outcome)))
}

func (o *observer) startInvoke(ctx context.Context, class string, size int) (context.Context, trace.Span) {
	ctx, span := o.tracer.Start(ctx, "broker.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("broker.class", class),
			attribute.Int("broker.batch_size", size)))
	if o.batchSize != nil {
		o.batchSize.Record(ctx, int64(size), metric.WithAttributes(
			attribute.String("class", class)))
	}
	return ctx, span
}

func (o *observer) endInvoke(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
