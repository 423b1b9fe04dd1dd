package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/slurmdag/internal/config"
)

// ExitError — завершение с кодом итога запуска.
type ExitError struct {
	// Code — код итога (0, 1, 2 или -1).
	Code int

	// Err — ошибка завершения (может быть nil).
	Err error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Status возвращает код выхода процесса: -1 превращается в 255,
// ошибка при успешном итоге — в 1.
func (e *ExitError) Status() int {
	if e.Code == 0 && e.Err != nil {
		return 1
	}
	return e.Code & 0xff
}

// globals — флаги, общие для всех команд.
type globals struct {
	jsonOutput bool
	locations  []string
}

// packageDefaults читает slurmdag.yaml из стандартных мест.
func (g *globals) packageDefaults() (config.Package, error) {
	locations := g.locations
	if locations == nil {
		locations = config.Locations()
	}
	return config.LoadPackage(locations)
}

// NewRootCmd собирает корневую команду slurmdag.
func NewRootCmd(version string) *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "slurmdag",
		Short:         "slurmdag — run DAGs of batch jobs on Slurm",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&g.jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringSliceVar(&g.locations, "config", nil,
		"Package config files (default: standard slurmdag.yaml locations)")

	rootCmd.AddCommand(
		newRunCmd(g),
		newStatusCmd(g),
		newSetCmd(g),
		newDrainCmd(g),
		newCancelCmd(g),
		newRescueCmd(g),
		newEventsCmd(g),
		newHistoryCmd(g),
	)

	return rootCmd
}

// envOr возвращает переменную окружения или значение по умолчанию.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
