package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/rescue"
)

// statusView — состояние DAG файла для вывода status.
type statusView struct {
	DAGFile     string             `json:"dag_file"`
	ConfigFile  string             `json:"config_file"`
	ConfigError string             `json:"config_error,omitempty"`
	Params      config.Params      `json:"params"`
	Slurm       config.SlurmParams `json:"slurm"`
	Sources     []string           `json:"sources,omitempty"`
	Rescue      rescueView         `json:"rescue"`
}

// rescueView — rescue файлы DAG.
type rescueView struct {
	Files   []string `json:"files"`
	Highest string   `json:"highest"`
	Next    string   `json:"next"`
}

func rescueInfo(dagFile string) (rescueView, error) {
	files, err := rescue.All(dagFile)
	if err != nil {
		return rescueView{}, err
	}
	highest, err := rescue.Highest(dagFile)
	if err != nil {
		return rescueView{}, err
	}
	if files == nil {
		files = []string{}
	}
	return rescueView{Files: files, Highest: highest, Next: rescue.Next(highest)}, nil
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status DAG_FILE",
		Short: "Show runtime parameters and rescue files of a DAG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd, g.jsonOutput)
			dagFile := args[0]

			pkg, err := g.packageDefaults()
			if err != nil {
				return fmt.Errorf("load package config: %w", err)
			}

			store := config.NewStore(config.RuntimePath(dagFile))
			view := statusView{
				DAGFile:    rescue.RootName(dagFile),
				ConfigFile: store.Path(),
				Slurm:      pkg.Slurm,
				Sources:    pkg.Sources,
			}

			o, err := store.Load()
			if err != nil && !errors.Is(err, config.ErrConfigMissing) {
				view.ConfigError = err.Error()
			}
			view.Params = o.Apply(pkg.Dagman)

			view.Rescue, err = rescueInfo(dagFile)
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(view)
				return nil
			}

			if view.ConfigError != "" {
				out.Error(fmt.Sprintf("%s: %s (defaults shown)", view.ConfigFile, view.ConfigError))
			}

			pairs := [][2]string{
				{"DAG file", view.DAGFile},
				{"Config file", view.ConfigFile},
			}
			for _, key := range config.Keys {
				v, _ := view.Params.Get(key)
				pairs = append(pairs, [2]string{key, fmt.Sprint(v)})
			}
			pairs = append(pairs,
				[2]string{"partition", view.Slurm.Partition},
				[2]string{"qos", view.Slurm.QOS},
				[2]string{"time_limit", view.Slurm.TimeLimit},
				[2]string{"scratch_dir", view.Slurm.ScratchDir},
				[2]string{"Package config", strings.Join(view.Sources, ", ")},
				[2]string{"Rescue files", strconv.Itoa(len(view.Rescue.Files))},
				[2]string{"Resume from", view.Rescue.Highest},
				[2]string{"Next rescue", view.Rescue.Next},
			)
			out.KeyValues(pairs)
			return nil
		},
	}
}

// updateParams перезаписывает runtime файл DAG и выводит итоговые параметры.
func updateParams(cmd *cobra.Command, g *globals, dagFile string, fn func(*config.Params)) error {
	out := outputFor(cmd, g.jsonOutput)

	pkg, err := g.packageDefaults()
	if err != nil {
		return fmt.Errorf("load package config: %w", err)
	}

	store := config.NewStore(config.RuntimePath(dagFile))
	p, err := store.Update(pkg.Dagman, fn)
	if err != nil {
		return err
	}

	out.Success(fmt.Sprintf("Updated %s", store.Path()))
	if out.JSONMode() {
		out.JSON(p)
		return nil
	}
	pairs := make([][2]string, 0, len(config.Keys))
	for _, key := range config.Keys {
		v, _ := p.Get(key)
		pairs = append(pairs, [2]string{key, fmt.Sprint(v)})
	}
	out.KeyValues(pairs)
	return nil
}

func newSetCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "set DAG_FILE KEY=VALUE...",
		Short: "Change runtime parameters of a running DAG",
		Long: `Change runtime parameters of a running DAG.

Keys: ` + strings.Join(config.Keys, ", ") + `.
The controller picks the change up on its next iteration.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			type assignment struct{ key, value string }
			assignments := make([]assignment, 0, len(args)-1)
			for _, kv := range args[1:] {
				key, value, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("invalid parameter format %q, expected KEY=VALUE", kv)
				}
				a := assignment{strings.TrimSpace(key), value}
				// Ошибки проверяются до перезаписи файла
				if _, err := (config.Params{}).Set(a.key, a.value); err != nil {
					return err
				}
				assignments = append(assignments, a)
			}

			return updateParams(cmd, g, args[0], func(p *config.Params) {
				for _, a := range assignments {
					*p, _ = p.Set(a.key, a.value)
				}
			})
		},
	}
}

func newDrainCmd(g *globals) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "drain DAG_FILE",
		Short: "Stop submitting new jobs and let queued jobs finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateParams(cmd, g, args[0], func(p *config.Params) {
				p.Drain = !off
			})
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Resume submitting jobs")

	return cmd
}

func newCancelCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel DAG_FILE",
		Short: "Cancel queued jobs and write a rescue file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateParams(cmd, g, args[0], func(p *config.Params) {
				p.Cancel = true
			})
		},
	}
}

func newRescueCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rescue DAG_FILE",
		Short: "Show rescue files of a DAG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFor(cmd, g.jsonOutput)

			view, err := rescueInfo(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, len(view.Files))
			for i, file := range view.Files {
				rows[i] = []string{strconv.Itoa(rescue.Number(file)), file}
			}
			if out.JSONMode() {
				out.JSON(view)
				return nil
			}
			out.Table([]string{"NUMBER", "FILE"}, rows)
			out.KeyValues([][2]string{
				{"Resume from", view.Highest},
				{"Next rescue", view.Next},
			})
			return nil
		},
	}
}
