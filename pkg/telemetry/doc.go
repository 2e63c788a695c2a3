// Package telemetry provides logging, tracing and metrics for planesync.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind a single Telemetry value
// that the engine and the HTTP server share.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Format = "json"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Batches
//
// Each creation or cleanup run is wrapped in a BatchScope:
//
//	scope := tel.StartBatch(ctx, "create", batch.ID)
//	scope.Logger.Info("creating project")
//	...
//	scope.End(string(batch.Status), err)
//
// The scope logger carries batch_id and, when tracing is enabled, the
// trace and span IDs.
//
// # Remote Calls
//
// RecordRemoteCall wraps a single request to the Plane API in a span and
// records its latency. Failures are counted by the error class the remote
// error reports.
//
// # Metrics
//
// All metrics live in a private registry exposed by Metrics.Handler:
//
//   - planesync_batches_started_total{operation}
//   - planesync_batches_finished_total{operation,status}
//   - planesync_batch_duration_seconds{operation,status}
//   - planesync_active_batches
//   - planesync_remote_calls_total{operation,resource_type}
//   - planesync_remote_call_duration_seconds{operation,resource_type}
//   - planesync_remote_errors_total{operation,class}
//   - planesync_ledger_rows_written_total{resource_type}
//   - planesync_ledger_rows_deleted_total{resource_type}
//   - planesync_policy_violations_total{policy,severity}
//
// A disabled Metrics accepts every call and records nothing.
//
// # Exporters
//
// Traces can be sent to an OTLP gRPC collector ("otlp"), printed
// ("stdout") or dropped ("none").
package telemetry
