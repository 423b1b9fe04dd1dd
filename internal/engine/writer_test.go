package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestWrite_Layout(t *testing.T) {
	text := `JOB B b.sh DONE
JOB A a.sh
VARS A X="1 2"
RETRY A 2 UNLESS-EXIT 0,3
PARENT B CHILD A
RETRY ALL_NODES 1
`
	dag := mustParse(t, text)

	var buf bytes.Buffer
	if err := Write(&buf, dag, WriteOptions{AppearanceOrder: true, DoneLabels: true}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := `JOB B b.sh DONE
JOB A a.sh
VARS A X="1 2"
RETRY A 2 UNLESS-EXIT 0,3
PARENT B CHILD A
RETRY ALL_NODES 1
`
	if buf.String() != want {
		t.Errorf("Write() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWrite_SortedWithoutDoneLabels(t *testing.T) {
	dag := mustParse(t, "JOB B b.sh DONE\nJOB A a.sh\n")

	var buf bytes.Buffer
	if err := Write(&buf, dag, WriteOptions{}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if buf.String() != "JOB A a.sh\nJOB B b.sh\n" {
		t.Errorf("Write() = %q", buf.String())
	}
}

func TestWrite_EdgesNotBatched(t *testing.T) {
	dag := mustParse(t, "JOB A a.sh\nJOB B b.sh\nJOB C c.sh\nPARENT A B CHILD C\n")

	var buf bytes.Buffer
	if err := Write(&buf, dag, WriteOptions{AppearanceOrder: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "PARENT A CHILD C\nPARENT B CHILD C\n") {
		t.Errorf("expected one PARENT line per edge, got:\n%s", buf.String())
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	dag := mustParse(t, "JOB A a.sh\n")
	dag.File = ""

	if err := WriteFile("", dag, WriteOptions{}); !errors.Is(err, ErrNoTarget) {
		t.Errorf("expected ErrNoTarget, got %v", err)
	}

	dag.File = filepath.Join(dir, "wf.dag")
	if err := WriteFile("", dag, WriteOptions{}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := os.Stat(dag.File); err != nil {
		t.Errorf("file was not written to dag.File: %v", err)
	}

	other := filepath.Join(dir, "other.dag")
	if err := WriteFile(other, dag, WriteOptions{}); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	got, err := ParseFile(other)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if got.File != other || got.Size() != 1 {
		t.Errorf("unexpected DAG: file=%s size=%d", got.File, got.Size())
	}
}

// randomDAG строит ациклический DAG: рёбра идут только от
// более ранних узлов к более поздним.
func randomDAG(t *rapid.T) *DAG {
	n := rapid.IntRange(1, 12).Draw(t, "nodes")
	dag := New("wf.dag")
	for i := 0; i < n; i++ {
		node := &Node{
			ID:         fmt.Sprintf("N%02d", i),
			SubmitFile: fmt.Sprintf("job%d.sh", i),
			Done:       rapid.Bool().Draw(t, fmt.Sprintf("done%d", i)),
		}
		if rapid.Bool().Draw(t, fmt.Sprintf("vars%d", i)) {
			node.Vars = fmt.Sprintf(`K="v %d"`, i)
		}
		if rapid.Bool().Draw(t, fmt.Sprintf("retry%d", i)) {
			node.MaxRetries = rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("max%d", i))
			node.HasMaxRetries = true
		}
		dag.AddNode(node, i)
	}
	for child := 1; child < n; child++ {
		for parent := 0; parent < child; parent++ {
			if rapid.Bool().Draw(t, fmt.Sprintf("edge%d_%d", parent, child)) {
				dag.AddEdge(fmt.Sprintf("N%02d", parent), fmt.Sprintf("N%02d", child))
			}
		}
	}
	return dag
}

func TestWrite_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dag := randomDAG(t)

		var buf bytes.Buffer
		if err := Write(&buf, dag, WriteOptions{AppearanceOrder: true, DoneLabels: true}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got, err := Parse(&buf, "wf.dag")
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}

		if !slices.Equal(got.IDs(), dag.IDs()) {
			t.Fatalf("IDs = %v, want %v", got.IDs(), dag.IDs())
		}
		for _, want := range dag.Nodes() {
			node := got.Node(want.ID)
			if node.Done != want.Done {
				t.Fatalf("%s: Done = %v, want %v", want.ID, node.Done, want.Done)
			}
			if node.SubmitFile != want.SubmitFile || node.Vars != want.Vars {
				t.Fatalf("%s: attributes differ", want.ID)
			}
			if node.HasMaxRetries != want.HasMaxRetries || node.MaxRetries != want.MaxRetries {
				t.Fatalf("%s: retry budget differs", want.ID)
			}
			if !slices.Equal(node.Parents, want.Parents) {
				t.Fatalf("%s: Parents = %v, want %v", want.ID, node.Parents, want.Parents)
			}
		}
	})
}
