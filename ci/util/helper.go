package util

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Machine is one simulated machine in an end to end test: its own HOME and
// catalog directory, sharing the cloud directory with the other machines.
// Commands run against the installed catsync binary.
type Machine struct {
	T       *testing.T
	Home    string
	Catalog string
}

// NewMachine sets up a machine rooted under root/name and writes its user
// config. The copy-based diff and patch commands keep the tests independent
// of any installed delta tool.
func NewMachine(t *testing.T, root, name, cloud string) *Machine {
	home := filepath.Join(root, name, "home")
	require.NoError(t, os.MkdirAll(home, 0755))
	pics := filepath.Join(root, name, "pics")
	require.NoError(t, os.MkdirAll(pics, 0755))

	m := &Machine{
		T:       t,
		Home:    home,
		Catalog: filepath.Join(pics, "main.lrcat"),
	}
	m.MustRun("config",
		"--catalog", m.Catalog,
		"--cloud", cloud,
		"--diff-cmd", "cp $in2 $out",
		"--patch-cmd", "cp $patch $out")
	return m
}

// Run runs catsync as this machine, and returns its combined output and
// exit code.
func (m *Machine) Run(args ...string) (string, int) {
	cmd := exec.Command("catsync", args...)
	cmd.Env = append(os.Environ(), "HOME="+m.Home)

	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode()
		}
		m.T.Fatalf("run catsync %v: %s:\n%s", args, err, out)
	}
	return string(out), 0
}

// MustRun runs catsync as this machine and fails the test on a non-zero
// exit.
func (m *Machine) MustRun(args ...string) string {
	out, code := m.Run(args...)
	if code != 0 {
		m.T.Fatalf("catsync %v exited %d:\n%s", args, code, out)
	}
	return out
}

// WriteCatalog replaces the catalog contents wholesale.
func (m *Machine) WriteCatalog(contents string) {
	require.NoError(m.T, os.WriteFile(m.Catalog, []byte(contents), 0644))
}

// Append simulates a local edit made outside of catsync.
func (m *Machine) Append(text string) {
	f, err := os.OpenFile(m.Catalog, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(m.T, err)
	defer f.Close()

	_, err = f.WriteString(text)
	require.NoError(m.T, err)
}

// CatalogBytes reads the catalog back.
func (m *Machine) CatalogBytes() string {
	contents, err := os.ReadFile(m.Catalog)
	require.NoError(m.T, err)
	return string(contents)
}
