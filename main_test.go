package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workspace/gateway-host/internal/persistence"
)

func TestMainShutdownSourceContract(t *testing.T) {
	path := filepath.Join("main.go")
	contentBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	content := string(contentBytes)

	for _, needle := range []string{
		"Received signal",
		"wg.Wait()",
		"srv.Shutdown(shutdownCtx)",
	} {
		if !strings.Contains(content, needle) {
			t.Fatalf("expected %q in %s", needle, path)
		}
	}
	// Stopping the host must leave the supervised gateway alone.
	if strings.Contains(content, "mgr.Stop(") {
		t.Fatalf("main.go must not stop the gateway on shutdown")
	}
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestOwnerShowAndClear(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")
	t.Setenv("DATABASE_PATH", dbPath)

	out, err := runCmd(t, "owner", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Instance is not locked")

	store, err := persistence.Open(dbPath)
	require.NoError(t, err)
	_, err = store.SetInstanceOwnerIfAbsent(context.Background(), persistence.InstanceOwner{
		UserID: "user_a", Email: "a@example.com", Name: "A",
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err = runCmd(t, "owner", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "a@example.com")

	out, err = runCmd(t, "owner", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Instance owner cleared")

	out, err = runCmd(t, "owner", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Instance is not locked")
}

func TestServeRequiresIdentityURL(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "state.db"))
	t.Setenv("IDENTITY_URL", "")

	_, err := runCmd(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDENTITY_URL")
}
