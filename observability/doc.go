// Package observability provides OpenTelemetry tracing and metrics for
// bulkheads.
//
// Tracing:
//
//	tp, err := observability.InitTracer(ctx, &cfg)
//	defer tp.Shutdown(ctx)
//
//	err = b.Execute(ctx, observability.TracingTask(b, task))
//
// Metrics:
//
//	meterCfg := observability.MeterConfigFor(svc)
//	mp, err := observability.InitMeter(ctx, &meterCfg)
//	defer mp.Shutdown(ctx)
//
//	inst, err := observability.NewBulkheadInstruments(observability.Meter("orders"), registry)
//	defer inst.Close()
//
// Health:
//
//	health := observability.NewServiceHealth("orders", "1.4.2")
//	health.AddComponents(components.HealthAll(ctx)...)
package observability
