// Package slurm — клиент планировщика Slurm.
//
// Обёртка над командами sbatch, sacct, squeue и scancel:
//   - client.go — запуск команд с таймаутом
//   - parse.go  — разбор вывода команд в domain.JobRecord (чистые функции)
//
// Все job одного run помечаются wckey (run tag), по нему же
// фильтруются запросы очереди и отмена.
package slurm
