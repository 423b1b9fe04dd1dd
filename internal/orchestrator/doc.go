// Package orchestrator выполняет DAG на кластере Slurm.
//
// Orchestrator — однопоточный цикл контроллера. Каждая итерация:
//   - Опрашивает планировщик (accounting + живая очередь) и переводит узлы
//   - Отправляет готовые узлы с учётом лимитов очереди и отправок
//   - Проверяет условия завершения (успех, падение, остановка)
//   - Перечитывает runtime файл настроек
//
// Статусы узлов хранит RunState: UNREADY → READY → QUEUED → DONE | FAILED,
// плюс QUEUED → READY при retry.
//
// После каждой итерации публикуется Snapshot: его читает HTTP API
// из других горутин, не трогая состояние цикла.
//
// При cancel или неуспешном завершении движок отменяет job по run tag
// и пишет rescue файл, из которого следующий запуск продолжит работу.
package orchestrator
