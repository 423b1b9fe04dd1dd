// Package telemetry обеспечивает наблюдаемость контроллера.
//
// Включает:
//   - logging.go — structured logging через slog в файл лога запуска
//   - metrics.go — Prometheus метрики движка и вызовов планировщика
//
// Метрики и API отдаются на --metrics-addr только пока идёт запуск.
package telemetry
