package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/arunika/convai/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("CONVAI_JWT_SECRET", "cli-secret")
	t.Setenv("CONVAI_CONFIG", "")

	cmd := rootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"token", "--subject", "alice", "--ttl", "1h"})

	require.NoError(t, cmd.Execute())

	claims, err := auth.ValidateToken([]byte("cli-secret"), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("CONVAI_JWT_SECRET", "")
	t.Setenv("CONVAI_CONFIG", "")

	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token"})

	assert.Error(t, cmd.Execute())
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := rootCmd()

	for _, name := range []string{"serve", "talk", "token"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}
