package main

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/moodcycle-gateway/internal/auth"
	"github.com/zhouzirui/moodcycle-gateway/internal/config"
	"github.com/zhouzirui/moodcycle-gateway/internal/handler"
	"github.com/zhouzirui/moodcycle-gateway/internal/metrics"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
	chatService "github.com/zhouzirui/moodcycle-gateway/internal/service/chat"
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	issuer, err := auth.NewIssuer("cli-secret", time.Hour)
	require.NoError(t, err)
	accounts, err := auth.NewAccounts([]config.AdminAccount{{Username: "jeza", Role: auth.RoleAdmin, Password: "pw"}})
	require.NoError(t, err)

	srv := httptest.NewServer(handler.NewRouter(handler.Dependencies{
		Metrics:       metrics.New(),
		Personas:      persona.NewMemoryStore(persona.Seed()),
		Fallbacks:     persona.DefaultFallbackTable(60),
		Conversations: chatService.NewService(),
		Issuer:        issuer,
		Accounts:      accounts,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSessionLifecycle(t *testing.T) {
	srv := newGateway(t)
	common := []string{"--server", srv.URL + "/api", "--state", filepath.Join(t.TempDir(), "session.db")}
	with := func(args ...string) []string { return append(args, common...) }

	out, _, err := execute(t, with("login", "-u", "jeza", "-p", "pw")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Connecté en tant que Jeza (Thérapeute)")

	out, _, err = execute(t, with("status")...)
	require.NoError(t, err)
	assert.Contains(t, out, "state:  authenticated")
	assert.Contains(t, out, "Jeza")

	out, _, err = execute(t, with("get", "admin/session")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"success": true`)

	_, _, err = execute(t, with("login", "-u", "jeza", "-p", "pw")...)
	assert.ErrorContains(t, err, "already logged in")

	_, errOut, err := execute(t, with("logout")...)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Session terminée")

	out, _, err = execute(t, with("status")...)
	require.NoError(t, err)
	assert.Contains(t, out, "state:  unauthenticated")
}

func TestLoginRejected(t *testing.T) {
	srv := newGateway(t)
	state := filepath.Join(t.TempDir(), "session.db")

	_, _, err := execute(t, "login", "-u", "jeza", "-p", "nope", "--server", srv.URL+"/api", "--state", state)
	assert.ErrorContains(t, err, "identifiants invalides")

	out, _, err := execute(t, "status", "--server", srv.URL+"/api", "--state", state)
	require.NoError(t, err)
	assert.Contains(t, out, "state:  unauthenticated")
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "/personas", normalizeEndpoint("personas"))
	assert.Equal(t, "/personas", normalizeEndpoint("/personas"))
}
