package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogotex/document-service/internal/tokens"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckScansStore(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "bolt")
	t.Setenv("BOLT_PATH", filepath.Join(t.TempDir(), "docs.db"))

	out, err := run(t, "check", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err)
	require.Contains(t, out, "backend=bolt documents=0 deleted=0")
}

func TestCheckRejectsBadConfig(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "tape")
	_, err := run(t, "check", "--env-file", filepath.Join(t.TempDir(), "none.env"))
	require.ErrorContains(t, err, "STORAGE_BACKEND")
}

func TestTokenCommand(t *testing.T) {
	secret := strings.Repeat("k", 32)
	env := filepath.Join(t.TempDir(), "token.env")
	require.NoError(t, os.WriteFile(env, []byte("STORAGE_BACKEND=memory\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("STORAGE_BACKEND") })
	t.Setenv("AUTH_MODE", "hmac")
	t.Setenv("JWT_SECRET", secret)

	out, err := run(t, "token", "--subject", "alice", "--env-file", env)
	require.NoError(t, err)

	tok, err := tokens.NewHMACVerifier(secret).Verify(context.Background(), strings.TrimSpace(out))
	require.NoError(t, err)
	var claims map[string]any
	require.NoError(t, tok.Claims(&claims))
	require.Equal(t, "alice", claims["sub"])
}
