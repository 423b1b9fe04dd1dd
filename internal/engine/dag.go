package engine

import (
	"slices"
	"sort"
	"strings"

	"github.com/shaiso/slurmdag/internal/domain"
)

// DefaultNoRetryExitCodes — коды выхода, при которых retry не делается,
// если ни узел, ни DAG не задали свои.
var DefaultNoRetryExitCodes = []int{0}

// Node — узел DAG.
//
// Опциональные атрибуты хранятся парой "значение + флаг наличия":
// отсутствие атрибута и нулевое значение — разные вещи.
type Node struct {
	// ID — уникальный идентификатор узла.
	ID string

	// SubmitFile — путь к submit файлу job.
	SubmitFile string

	// Parents — объявленные родители (в порядке появления, без дубликатов).
	// Во время выполнения не меняется: удовлетворённые зависимости
	// отслеживает orchestrator.
	Parents []string

	// Done — узел уже успешно выполнен (метка DONE или завершение в этом запуске).
	Done bool

	// Vars — строка привязок макросов: KEY1="v1" KEY2="v 2".
	Vars string

	// MaxRetries — собственный бюджет retry узла.
	MaxRetries    int
	HasMaxRetries bool

	// NoRetryExitCodes — собственные коды выхода без retry.
	NoRetryExitCodes    []int
	HasNoRetryExitCodes bool

	// RetryNum — номер попытки. Есть только если retry включены;
	// начинается с -1 и растёт при каждой пометке READY.
	RetryNum    int
	HasRetryNum bool

	// Status — статус во время выполнения (не сохраняется).
	Status domain.NodeStatus

	// JobID — ID job в планировщике после отправки.
	JobID string
}

// HasParent проверяет, объявлен ли parent родителем узла.
func (n *Node) HasParent(parent string) bool {
	return slices.Contains(n.Parents, parent)
}

// clone возвращает глубокую копию узла.
func (n *Node) clone() *Node {
	c := *n
	c.Parents = slices.Clone(n.Parents)
	c.NoRetryExitCodes = slices.Clone(n.NoRetryExitCodes)
	return &c
}

// DAG — граф узлов с зависимостями.
type DAG struct {
	// File — путь к файлу, из которого DAG прочитан.
	File string

	nodes map[string]*Node
	order []string       // ID в порядке появления
	lines map[string]int // ID → номер строки JOB

	// MaxRetries — бюджет retry по умолчанию (RETRY ALL_NODES).
	MaxRetries    int
	HasMaxRetries bool

	// NoRetryExitCodes — коды выхода без retry по умолчанию.
	NoRetryExitCodes    []int
	HasNoRetryExitCodes bool
}

// New создаёт пустой DAG.
func New(file string) *DAG {
	return &DAG{
		File:  strings.TrimSpace(file),
		nodes: make(map[string]*Node),
		lines: make(map[string]int),
	}
}

// AddNode добавляет узел. Возвращает false, если узел с таким ID уже есть.
// line — позиция узла для сохранения порядка при записи.
func (d *DAG) AddNode(node *Node, line int) bool {
	if _, exists := d.nodes[node.ID]; exists {
		return false
	}
	d.nodes[node.ID] = node
	d.order = append(d.order, node.ID)
	d.lines[node.ID] = line
	return true
}

// AddEdge добавляет parent в родители child. Повторные рёбра схлопываются.
// Возвращает false, если одного из узлов нет.
func (d *DAG) AddEdge(parent, child string) bool {
	if _, ok := d.nodes[parent]; !ok {
		return false
	}
	c, ok := d.nodes[child]
	if !ok {
		return false
	}
	if !c.HasParent(parent) {
		c.Parents = append(c.Parents, parent)
	}
	return true
}

// Node возвращает узел по ID (nil, если нет).
func (d *DAG) Node(id string) *Node {
	return d.nodes[id]
}

// Has проверяет наличие узла.
func (d *DAG) Has(id string) bool {
	_, ok := d.nodes[id]
	return ok
}

// Size возвращает количество узлов.
func (d *DAG) Size() int {
	return len(d.nodes)
}

// Line возвращает позицию узла в исходном файле.
func (d *DAG) Line(id string) (int, bool) {
	line, ok := d.lines[id]
	return line, ok
}

// IDs возвращает ID узлов в порядке появления в файле.
func (d *DAG) IDs() []string {
	ids := slices.Clone(d.order)
	sort.SliceStable(ids, func(i, j int) bool {
		return d.lines[ids[i]] < d.lines[ids[j]]
	})
	return ids
}

// SortedIDs возвращает ID узлов в лексикографическом порядке.
func (d *DAG) SortedIDs() []string {
	ids := slices.Clone(d.order)
	sort.Strings(ids)
	return ids
}

// Nodes возвращает узлы в порядке появления.
func (d *DAG) Nodes() []*Node {
	ids := d.IDs()
	nodes := make([]*Node, len(ids))
	for i, id := range ids {
		nodes[i] = d.nodes[id]
	}
	return nodes
}

// Children строит индекс parent → дети (в порядке появления детей).
func (d *DAG) Children() map[string][]string {
	children := make(map[string][]string, len(d.nodes))
	for _, id := range d.IDs() {
		for _, parent := range d.nodes[id].Parents {
			children[parent] = append(children[parent], id)
		}
	}
	return children
}

// MaxRetriesFor возвращает бюджет retry узла: собственный,
// иначе DAG-wide, иначе (0, false) — retry нет.
func (d *DAG) MaxRetriesFor(id string) (int, bool) {
	if n, ok := d.nodes[id]; ok && n.HasMaxRetries {
		return n.MaxRetries, true
	}
	if d.HasMaxRetries {
		return d.MaxRetries, true
	}
	return 0, false
}

// NoRetryExitCodesFor возвращает коды выхода без retry для узла.
func (d *DAG) NoRetryExitCodesFor(id string) []int {
	if n, ok := d.nodes[id]; ok && n.HasNoRetryExitCodes {
		return n.NoRetryExitCodes
	}
	if d.HasNoRetryExitCodes {
		return d.NoRetryExitCodes
	}
	return DefaultNoRetryExitCodes
}

// initRetryCounters выставляет RetryNum = -1 узлам с ненулевым бюджетом
// и убирает счётчик у остальных.
func (d *DAG) initRetryCounters() {
	for id, node := range d.nodes {
		if limit, ok := d.MaxRetriesFor(id); ok && limit > 0 {
			node.RetryNum = -1
			node.HasRetryNum = true
		} else {
			node.RetryNum = 0
			node.HasRetryNum = false
		}
	}
}

// Clone возвращает независимую копию DAG.
func (d *DAG) Clone() *DAG {
	c := &DAG{
		File:                d.File,
		nodes:               make(map[string]*Node, len(d.nodes)),
		order:               slices.Clone(d.order),
		lines:               make(map[string]int, len(d.lines)),
		MaxRetries:          d.MaxRetries,
		HasMaxRetries:       d.HasMaxRetries,
		NoRetryExitCodes:    slices.Clone(d.NoRetryExitCodes),
		HasNoRetryExitCodes: d.HasNoRetryExitCodes,
	}
	for id, node := range d.nodes {
		c.nodes[id] = node.clone()
	}
	for id, line := range d.lines {
		c.lines[id] = line
	}
	return c
}

// DetectCycle ищет цикл по алгоритму Кана.
// Возвращает узлы, которые не удалось упорядочить (nil, если циклов нет).
func (d *DAG) DetectCycle() []string {
	inDegree := make(map[string]int, len(d.nodes))
	for id, node := range d.nodes {
		inDegree[id] = len(node.Parents)
	}
	children := d.Children()

	queue := make([]string, 0, len(d.nodes))
	for _, id := range d.IDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, child := range children[id] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited == len(d.nodes) {
		return nil
	}

	// Остались только узлы на циклах и их потомки
	stuck := make([]string, 0, len(d.nodes)-visited)
	for _, id := range d.IDs() {
		if inDegree[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	return stuck
}
