package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/edgegate/internal/audit"
	"github.com/nao1215/edgegate/internal/identity"
	"github.com/nao1215/edgegate/pkg/event"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoutesCmd(t *testing.T) {
	t.Run("既定のルート表をYAMLで出力すること", func(t *testing.T) {
		out, err := execute(t, "routes", "--output", "yaml")
		require.NoError(t, err)

		var views []routeView
		require.NoError(t, yaml.Unmarshal([]byte(out), &views))
		require.Len(t, views, 8)
		assert.Equal(t, "/api/analytics", views[0].Prefix)
		assert.Equal(t, "http://localhost:3207", views[0].Target)
		assert.Equal(t, "optional", views[0].Auth)
	})

	t.Run("表形式で出力すること", func(t *testing.T) {
		out, err := execute(t, "routes")
		require.NoError(t, err)
		assert.Contains(t, out, "/api/users")
		assert.Contains(t, out, "required")
	})

	t.Run("不明な出力形式はエラーになること", func(t *testing.T) {
		_, err := execute(t, "routes", "-o", "xml")
		require.Error(t, err)
	})
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--subject", "user-1", "--roles", "admin,ops", "--ttl", "1h")
	require.NoError(t, err)

	id, err := identity.NewVerifier("cli-secret").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.SubjectID)
	assert.True(t, id.HasRole("ops"))
	assert.WithinDuration(t, time.Now().Add(time.Hour), id.ExpiresAt, time.Minute)

	_, err = execute(t, "token")
	require.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version, strings.TrimSpace(out))
}

func TestAuditCmd(t *testing.T) {
	t.Run("sqlite以外ではエラーになること", func(t *testing.T) {
		_, err := execute(t, "audit")
		require.Error(t, err)
	})

	t.Run("記録されたイベントを表示すること", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "audit.db")
		t.Setenv("AUDIT_BACKEND", "sqlite")
		t.Setenv("AUDIT_SQLITE_PATH", dbPath)

		ctx := context.Background()
		sink, err := audit.OpenSQLite(ctx, dbPath, zap.NewNop())
		require.NoError(t, err)
		e, err := event.New(event.TypeRequestRejected, event.Meta{
			RequestID: "req-1",
			ClientKey: "192.0.2.1",
			Method:    "GET",
			Path:      "/api/orders",
		}, event.RequestRejectedData{Limit: 100, RetryAfterSeconds: 30})
		require.NoError(t, err)
		require.NoError(t, sink.Record(ctx, e))
		require.NoError(t, sink.Close())

		out, err := execute(t, "audit", "--limit", "5")
		require.NoError(t, err)
		assert.Contains(t, out, "RequestRejected")
		assert.Contains(t, out, "/api/orders")

		out, err = execute(t, "audit", "--summary")
		require.NoError(t, err)
		assert.Contains(t, out, "RequestRejected")
		assert.Contains(t, out, "Total")
	})
}
