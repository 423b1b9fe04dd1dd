// Package mq публикует события контроллера в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — exchange slurmdag.events и временные очереди подписчиков
//   - publisher.go  — публикация событий
//   - consumer.go   — чтение событий (команда events)
//
// Типы событий (routing key = тип):
//   - run.started   — контроллер начал выполнение DAG
//   - node.changed  — узел сменил статус
//   - run.finished  — выполнение завершено, с итогом
//
// Брокер не обязателен: без него контроллер работает так же,
// просто без событий.
package mq
