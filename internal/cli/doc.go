// Package cli реализует командную строку slurmdag.
//
// # Обзор
//
// Одна утилита и запускает DAG, и управляет уже запущенным контроллером.
// Управление идёт через runtime файл <dag>.slurmdag.yaml, который
// контроллер перечитывает на каждой итерации.
//
// # Commands
//
//   - run DAG_FILE      — выполнить DAG (код выхода: 0, 1, 2, 255)
//   - status DAG_FILE   — runtime параметры, настройки пакета, rescue файлы
//   - set DAG_FILE K=V  — изменить runtime параметры
//   - drain DAG_FILE    — перестать отправлять новые job (--off возвращает)
//   - cancel DAG_FILE   — отменить job и записать rescue файл
//   - rescue DAG_FILE   — список rescue файлов, следующий номер
//   - events            — поток событий из RabbitMQ
//   - history [DAG]     — журнал запусков из PostgreSQL
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: slurmdag status wf.dag --json | jq .params
//
// Каждая команда создаётся фабричной функцией, принимающей *globals —
// значения persistent флагов (--json, --config) после парсинга.
package cli
