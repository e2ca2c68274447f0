package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	t      *testing.T
	base   string
	remote string
}

func newEnv(t *testing.T) *env {
	base := t.TempDir()
	return &env{t: t, base: base, remote: filepath.Join(base, "remote")}
}

// run executes one command line; passwords answer the prompts.
func (e *env) run(passwords []string, args ...string) (string, error) {
	e.t.Helper()
	stubPasswords(e.t, passwords...)
	var out bytes.Buffer
	cmd := NewRootCommand(&out)
	cmd.SetArgs(append([]string{
		"--db", filepath.Join(e.base, "vault.db"),
		"--cache-dir", filepath.Join(e.base, "cache"),
		"--remote-root", e.remote,
		"--log-file", filepath.Join(e.base, "gophvault.log"),
	}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *env) local(name, content string) string {
	e.t.Helper()
	p := filepath.Join(e.base, name)
	require.NoError(e.t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestCommands_EndToEnd(t *testing.T) {
	e := newEnv(t)
	pw := []string{"pw"}

	_, err := e.run(pw, "ls")
	require.ErrorIs(t, err, common.ErrVaultNotInitialized)

	out, err := e.run([]string{"pw", "pw"}, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "vault initialized")

	_, err = e.run([]string{"wrong"}, "ls")
	require.ErrorIs(t, err, cryptox.ErrWrongPassword)

	_, err = e.run(pw, "mkdir", "/docs")
	require.NoError(t, err)
	out, err = e.run(pw, "put", e.local("a.txt", "hello"), "/docs")
	require.NoError(t, err)
	assert.Contains(t, out, "/docs/a.txt uploaded")

	out, err = e.run(pw, "ls", "/docs")
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")

	dst := filepath.Join(e.base, "copy.txt")
	_, err = e.run(pw, "get", "/docs/a.txt", dst)
	require.NoError(t, err)
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	_, err = e.run(pw, "mv", "/docs/a.txt", "/b.txt")
	require.NoError(t, err)
	out, err = e.run(pw, "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "b.txt")
	assert.Contains(t, out, "docs/")

	_, err = e.run(pw, "fav", "/b.txt")
	require.NoError(t, err)
	out, err = e.run(pw, "fav")
	require.NoError(t, err)
	assert.Contains(t, out, "b.txt")

	_, err = e.run(pw, "rm", "/docs")
	require.NoError(t, err)
	out, err = e.run(pw, "ls")
	require.NoError(t, err)
	assert.NotContains(t, out, "docs/")

	out, err = e.run(nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "pending uploads    0")

	out, err = e.run(pw, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "everything is in sync")

	// remote names are encrypted
	entries, err := os.ReadDir(e.remote)
	require.NoError(t, err)
	for _, en := range entries {
		assert.False(t, strings.Contains(en.Name(), "b.txt"), en.Name())
	}
}

func TestCommands_Passwd(t *testing.T) {
	e := newEnv(t)
	_, err := e.run([]string{"old", "old"}, "init")
	require.NoError(t, err)

	out, err := e.run([]string{"old", "new", "new"}, "passwd")
	require.NoError(t, err)
	assert.Contains(t, out, "password changed")

	_, err = e.run([]string{"old"}, "ls")
	assert.ErrorIs(t, err, cryptox.ErrWrongPassword)
	_, err = e.run([]string{"new"}, "ls")
	assert.NoError(t, err)

	_, err = e.run(nil, "forget-key")
	require.NoError(t, err)
	_, err = e.run([]string{"new"}, "ls", "--offline")
	assert.NoError(t, err)
}

func TestCommands_InvalidConfig(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(nil, "--provider", "ftp", "status")
	assert.ErrorContains(t, err, "unknown provider")
}
