package observability

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	RecordTurn("fake", "TEXT_COMPLETE", time.Second)
	RecordEvent("TEXT_DELTA")
	RecordQuestion("answered")
	RecordStoreOp("file", "save", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, `tandem_turns_total{provider="fake",status="TEXT_COMPLETE"} 1`)
	assert.Contains(t, body, `tandem_questions_total{outcome="answered"} 1`)
	assert.Contains(t, body, `tandem_store_operations_total{driver="file",op="save",status="success"} 1`)
}

func TestAuditLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { _ = GetAuditLogger().Close() })

	RecordConfirmationAudit(context.Background(), "shell", "cli", false, "user said no")
	RecordSecurityAudit(context.Background(), "telegram:unauthorized", "999", "dropped", nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"confirm:shell"`)
	assert.Contains(t, string(data), `"status":"rejected"`)
	assert.Contains(t, string(data), `"actor":"999"`)
}
