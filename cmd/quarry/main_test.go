package main

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/testutil"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	root := a.rootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	a.close()
	return out.String(), err
}

func createDB(t *testing.T) string {
	return testutil.SQLiteDB(t,
		`CREATE TABLE users (id INTEGER NOT NULL, name TEXT)`,
		`INSERT INTO users VALUES (1, 'ann'), (2, 'bob'), (3, NULL), (4, 'dee')`)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	s := bufio.NewScanner(f)
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	require.NoError(t, s.Err())
	return lines
}

func TestLoadWritesJSONLines(t *testing.T) {
	conn := createDB(t)
	out := filepath.Join(t.TempDir(), "out", "users.jsonl")

	_, err := execute(t, "load", conn,
		"-q", "SELECT id, name FROM users WHERE id <= 2",
		"-q", "SELECT id, name FROM users WHERE id > 2",
		"-t", "id=uint64", "-t", "name=string",
		"-o", out)
	require.NoError(t, err)

	lines := readLines(t, out)
	require.Len(t, lines, 4)
	assert.Equal(t, `{"id":1,"name":"ann"}`, lines[0])
	assert.Equal(t, `{"id":3,"name":null}`, lines[2])
}

func TestLoadPartitioned(t *testing.T) {
	conn := createDB(t)
	out := filepath.Join(t.TempDir(), "users.jsonl")

	_, err := execute(t, "load", conn,
		"-q", "SELECT id FROM users",
		"--partition-on", "id", "--partition-num", "3",
		"-t", "uint64",
		"-o", out)
	require.NoError(t, err)

	lines := readLines(t, out)
	require.Len(t, lines, 4)
	for _, l := range lines {
		assert.True(t, strings.HasPrefix(l, `{"col_0":`), l)
	}
}

func TestLoadRejectsBadFlags(t *testing.T) {
	conn := createDB(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown type", []string{"load", conn, "-q", "SELECT id FROM users", "-t", "int128"}},
		{"unknown format", []string{"load", conn, "-q", "SELECT id FROM users", "-f", "xml"}},
		{"partition with several queries", []string{"load", conn, "-q", "SELECT 1", "-q", "SELECT 2", "--partition-on", "id"}},
		{"missing query", []string{"load", conn}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestFederateMissingRewriter(t *testing.T) {
	_, err := execute(t, "federate",
		"--sql", "SELECT 1",
		"--db", "db1="+createDB(t),
		"--rewriter", filepath.Join(t.TempDir(), "missing.jar"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFileNotFound))
}

func TestParseDatabases(t *testing.T) {
	m, err := parseDatabases([]string{"a=sqlite:///a.db", "b = postgresql://h/db?x=1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "sqlite:///a.db", "b": "postgresql://h/db?x=1"}, m)

	for _, bad := range [][]string{{"nourl"}, {"=sqlite:///a.db"}, {"a=x://1", "a=x://2"}} {
		_, err := parseDatabases(bad)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), bad)
	}
}

func TestDeclaredSchema(t *testing.T) {
	s, err := declaredSchema(nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = declaredSchema([]string{"id=uint64", "Float64", "flag = bool"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "col_1", "flag"}, s.Names())
	assert.Equal(t, []types.DataType{types.U64, types.NullF64, types.Bool}, s.Types())
}

func TestTypesAndVersion(t *testing.T) {
	out, err := execute(t, "types")
	require.NoError(t, err)
	assert.Contains(t, out, "uint64")
	assert.Contains(t, out, "sqlite")

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Quarry v"+version)
}
