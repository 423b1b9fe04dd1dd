// Package engine содержит модель DAG для контроллера.
//
// Включает:
//   - dag.go      — узлы, рёбра, политика retry, проверка на циклы
//   - parser.go   — парсинг DAG файла (JOB / VARS / PARENT ... CHILD / RETRY)
//   - writer.go   — сериализация DAG обратно в текст (rescue файлы)
//   - template.go — подстановка макросов $(KEY) в submit файлы
//
// Engine не знает ничего о планировщике кластера: он только
// описывает граф и умеет читать и писать его.
package engine
