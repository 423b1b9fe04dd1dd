// Package api содержит HTTP API запущенного контроллера.
//
// Структура:
//   - handler.go        — Handler с DI (источник снимков, runtime файл, logger)
//   - routes.go         — регистрация маршрутов
//   - middleware.go     — middleware (request id, logging, recovery)
//   - response.go       — унифицированные JSON-ответы
//   - dto.go            — Data Transfer Objects (request/response)
//   - run_handler.go    — обработчики для /run и /nodes
//   - params_handler.go — обработчики для /params, /drain, /cancel
//
// API читает последний снимок состояния и ничего не меняет в памяти
// контроллера: изменения параметров пишутся в runtime файл и
// применяются на следующей итерации.
package api
