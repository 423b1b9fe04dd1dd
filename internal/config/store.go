package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/slurmdag/internal/rescue"
)

// Группы файла настроек.
const (
	GroupDagman = "dagman"
	GroupSlurm  = "slurm"
)

// RuntimeSuffix — суффикс runtime файла рядом с DAG файлом.
const RuntimeSuffix = ".slurmdag.yaml"

// RuntimePath возвращает путь runtime файла для DAG файла.
// Rescue файлы одного DAG делят один runtime файл.
func RuntimePath(dagFile string) string {
	return rescue.RootName(dagFile) + RuntimeSuffix
}

// Store — runtime файл настроек одного DAG.
//
// Блокировок нет: файл читается и перезаписывается одним контроллером,
// внешние правки между чтением и перезаписью могут потеряться.
type Store struct {
	path string
}

// NewStore создаёт Store для файла path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path возвращает путь к файлу.
func (s *Store) Path() string {
	return s.path
}

// Load читает файл и проверяет схему: единственная группа dagman,
// все шесть параметров заданы и имеют верный тип.
//
// При любой ошибке возвращаются пустые Overrides: частично валидному
// файлу не доверяем.
func (s *Store) Load() (Overrides, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Overrides{}, ErrConfigMissing
		}
		return Overrides{}, fmt.Errorf("read config: %w", err)
	}

	groups, err := decodeGroups(data)
	if err != nil {
		return Overrides{}, err
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	var o Overrides
	found := false
	for _, g := range groups {
		if g.name != GroupDagman {
			keep(&FieldError{Group: g.name, Msg: "invalid group name"})
			continue
		}
		found = true
		keep(decodeDagman(g.node, &o))
	}
	if !found {
		keep(&FieldError{Group: GroupDagman, Msg: "missing group"})
	}
	for _, key := range o.missing() {
		keep(&FieldError{Group: GroupDagman, Key: key, Msg: "missing option"})
	}

	if firstErr != nil {
		return Overrides{}, firstErr
	}
	return o, nil
}

// Save атомарно записывает p в файл.
func (s *Store) Save(p Params) error {
	data, err := encode(runtimeFile{Dagman: p.Clamp()})
	if err != nil {
		return err
	}
	return writeAtomic(s.path, data)
}

// Update читает файл, накладывает прочитанное на base, применяет fn
// и сохраняет результат. Отсутствующий или невалидный файл не мешает
// обновлению: все значения тогда берутся из base.
func (s *Store) Update(base Params, fn func(*Params)) (Params, error) {
	o, _ := s.Load()
	p := o.Apply(base)
	fn(&p)
	p = p.Clamp()
	if err := s.Save(p); err != nil {
		return p, err
	}
	return p, nil
}

type runtimeFile struct {
	Dagman Params `yaml:"dagman"`
}

type group struct {
	name string
	node *yaml.Node
}

// decodeGroups разбирает документ верхнего уровня: mapping группа → mapping.
func decodeGroups(data []byte) ([]group, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of groups", ErrConfigInvalid)
	}

	seen := make(map[string]bool)
	groups := make([]group, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		value := root.Content[i+1]
		if seen[name] {
			return nil, &FieldError{Group: name, Msg: "duplicate group"}
		}
		seen[name] = true
		if value.Kind != yaml.MappingNode {
			return nil, &FieldError{Group: name, Msg: "expected a mapping for group"}
		}
		groups = append(groups, group{name: name, node: value})
	}
	return groups, nil
}

// decodeDagman читает параметры группы dagman в o. Параметры с ошибкой
// пропускаются, остальные применяются; возвращается первая ошибка.
func decodeDagman(node *yaml.Node, o *Overrides) error {
	var firstErr error
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]

		var err error
		switch {
		case seen[key]:
			err = &FieldError{Group: GroupDagman, Key: key, Msg: "duplicate option"}
		case value.Kind != yaml.ScalarNode:
			err = &FieldError{Group: GroupDagman, Key: key, Msg: "expected a scalar for option"}
		default:
			if setErr := o.set(key, value.Value); setErr != nil {
				msg := "invalid value for option"
				if errors.Is(setErr, ErrUnknownKey) {
					msg = "invalid option name"
				}
				err = &FieldError{Group: GroupDagman, Key: key, Msg: msg}
			}
		}
		seen[key] = true
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// writeAtomic пишет во временный файл в той же директории и переименовывает.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	tmpName := tmp.Name()

	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
