package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordReadsStdin(t *testing.T) {
	cmd := newRootCmd(strings.NewReader("s3cret-pass\r\n"))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"hash-password"})
	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret-pass")))
	assert.NotContains(t, out.String(), "s3cret-pass")
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	cmd := newRootCmd(strings.NewReader("\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"hash-password"})
	assert.Error(t, cmd.Execute())
}

func TestDatabaseCommandsRequireDSN(t *testing.T) {
	t.Setenv("HELIX_DATABASE_DSN", "")
	cmd := newRootCmd(strings.NewReader(""))
	cmd.SetArgs([]string{"status"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing DSN")
}
