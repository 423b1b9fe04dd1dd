// slurmdag — контроллер DAG из batch job для Slurm.
//
// Использование:
//
//	slurmdag [--json] [--config FILE] <command> [flags]
//
// Команды:
//
//	run      Выполнить DAG
//	status   Параметры и rescue файлы DAG
//	set      Изменить runtime параметры
//	drain    Перестать отправлять новые job
//	cancel   Отменить job и записать rescue файл
//	rescue   Список rescue файлов
//	events   Поток событий из RabbitMQ
//	history  Журнал запусков
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shaiso/slurmdag/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				fmt.Fprintln(os.Stderr, "Error:", exitErr.Err)
			}
			os.Exit(exitErr.Status())
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
