package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// PackageFileName — имя файла настроек по умолчанию.
const PackageFileName = "slurmdag.yaml"

// SlurmParams — параметры кластера из группы slurm.
type SlurmParams struct {
	Partition  string `json:"partition" yaml:"partition"`
	QOS        string `json:"qos" yaml:"qos"`
	TimeLimit  string `json:"time_limit" yaml:"time_limit"`
	ScratchDir string `json:"scratch_dir" yaml:"scratch_dir"`
}

// Package — значения по умолчанию для контроллера.
type Package struct {
	Dagman Params      `json:"dagman"`
	Slurm  SlurmParams `json:"slurm"`

	// Sources — файлы, из которых прочитаны значения (в порядке применения).
	Sources []string `json:"sources,omitempty"`
}

// DefaultPackage возвращает встроенные значения.
func DefaultPackage() Package {
	return Package{
		Dagman: Defaults(),
		Slurm: SlurmParams{
			TimeLimit: "5-00:00:00",
		},
	}
}

// Locations возвращает возможные пути slurmdag.yaml по возрастанию
// приоритета: системные, XDG_CONFIG_DIRS, пользовательский, virtualenv.
func Locations() []string {
	var dirs []string
	dirs = append(dirs, "/etc", "/etc/slurmdag")

	xdgDirs := strings.TrimSpace(os.Getenv("XDG_CONFIG_DIRS"))
	if xdgDirs == "" {
		xdgDirs = "/etc/xdg"
	}
	for _, dir := range strings.Split(xdgDirs, ":") {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir, filepath.Join(dir, "slurmdag"))
		}
	}

	xdgHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if xdgHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			xdgHome = filepath.Join(home, ".config")
		}
	}
	if xdgHome != "" {
		dirs = append(dirs, xdgHome, filepath.Join(xdgHome, "slurmdag"))
	}

	if venv := strings.TrimSpace(os.Getenv("VIRTUAL_ENV")); venv != "" {
		dirs = append(dirs, filepath.Join(venv, "etc"), filepath.Join(venv, "etc", "slurmdag"))
	}

	locations := make([]string, len(dirs))
	for i, dir := range dirs {
		locations[i] = filepath.Join(dir, PackageFileName)
	}
	return locations
}

// LoadPackage накладывает существующие файлы из locations на встроенные
// значения. Несуществующие файлы пропускаются; неизвестные группы и
// параметры — ошибка.
func LoadPackage(locations []string) (Package, error) {
	pkg := DefaultPackage()
	for _, path := range locations {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return pkg, fmt.Errorf("read %s: %w", path, err)
		}
		if err := pkg.merge(data); err != nil {
			return pkg, fmt.Errorf("%s: %w", path, err)
		}
		pkg.Sources = append(pkg.Sources, path)
	}
	return pkg, nil
}

func (p *Package) merge(data []byte) error {
	groups, err := decodeGroups(data)
	if err != nil {
		return err
	}

	for _, g := range groups {
		switch g.name {
		case GroupDagman:
			var o Overrides
			if err := decodeDagman(g.node, &o); err != nil {
				return err
			}
			p.Dagman = o.Apply(p.Dagman)
		case GroupSlurm:
			if err := decodeSlurm(g.node, &p.Slurm); err != nil {
				return err
			}
		default:
			return &FieldError{Group: g.name, Msg: "invalid group name"}
		}
	}
	return nil
}

func decodeSlurm(node *yaml.Node, s *SlurmParams) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return &FieldError{Group: GroupSlurm, Key: key, Msg: "expected a scalar for option"}
		}
		switch key {
		case "partition":
			s.Partition = value.Value
		case "qos":
			s.QOS = value.Value
		case "time_limit":
			s.TimeLimit = value.Value
		case "scratch_dir":
			s.ScratchDir = value.Value
		default:
			return &FieldError{Group: GroupSlurm, Key: key, Msg: "invalid option name"}
		}
	}
	return nil
}
