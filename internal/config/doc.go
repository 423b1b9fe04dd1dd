// Package config — настройки контроллера.
//
//   - params.go  — runtime параметры (sleep_time, лимиты очереди, drain, cancel)
//   - store.go   — runtime файл <root>.slurmdag.yaml: чтение, проверка, перезапись
//   - package.go — значения по умолчанию из системных и пользовательских slurmdag.yaml
//
// Runtime файл перечитывается на каждой итерации, поэтому его можно
// править снаружи во время работы (команды set / drain / cancel).
package config
