package toolregistry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetToolsMinimalHidesManifest(t *testing.T) {
	r := New(Config{})
	r.RegisterTool(ToolManifest{Name: "search", Description: "search the codebase", Manifest: map[string]interface{}{"secret": "x"}})

	out, err := r.GetTools(DisclosureMinimal, false)
	require.NoError(t, err)
	views := out.([]minimalView)
	require.Len(t, views, 1)
	assert.Equal(t, "search", views[0].Name)
}

func TestGetToolsFullRequiresAPIKey(t *testing.T) {
	r := New(Config{APIKey: "secret-key"})
	r.RegisterTool(ToolManifest{Name: "search", Description: "x"})

	_, err := r.GetTools(DisclosureFull, false)
	require.Error(t, err)

	_, err = r.GetTools(DisclosureFull, true)
	require.NoError(t, err)
}

func TestExecuteToolUnknownNameFails(t *testing.T) {
	r := New(Config{})
	_, err := r.ExecuteTool(context.Background(), "svc", "caller", "nope", nil)
	require.Error(t, err)
}

func TestExecuteToolDispatchesAndAudits(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.jsonl")
	r := New(Config{AuditPath: auditPath})
	r.RegisterHandler("echo", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return params["value"], nil
	})

	result, err := r.ExecuteTool(context.Background(), "svc", "caller", "echo", map[string]interface{}{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"tool_name":"echo"`)
	assert.Contains(t, string(data), `"outcome":"success"`)
}

func TestAuditFailureNeverPropagates(t *testing.T) {
	r := New(Config{AuditPath: "/nonexistent/dir/audit.jsonl"})
	r.RegisterHandler("echo", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return "ok", nil
	})
	result, err := r.ExecuteTool(context.Background(), "svc", "caller", "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestPersistAndWarmCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "tools.json")

	r1 := New(Config{DiskPath: diskPath})
	r1.RegisterTool(ToolManifest{Name: "search", Description: "x", CostEstimateTokens: 50})
	require.NoError(t, r1.PersistCache())

	r2 := New(Config{DiskPath: diskPath})
	require.NoError(t, r2.WarmCache(context.Background()))
	out, err := r2.GetTools(DisclosureFull, true)
	require.NoError(t, err)
	tools := out.([]ToolManifest)
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
}

func TestImportSkillFromMarkdown(t *testing.T) {
	r := New(Config{})
	doc := "---\nslug: fix-keyring\nname: Fix Keyring\ndescription: fixes gnome keyring\nversion: \"1.0\"\ntags: [nixos]\n---\n# Fix Keyring\nEnable gnome-keyring.\n"

	skill, err := r.ImportSkillFromMarkdown(doc)
	require.NoError(t, err)
	assert.Equal(t, "fix-keyring", skill.Slug)
	assert.Equal(t, "pending", skill.Status)
	assert.Contains(t, skill.Content, "Enable gnome-keyring")
}

func TestImportSkillRejectsEmbeddedNull(t *testing.T) {
	r := New(Config{})
	_, err := r.ImportSkillFromMarkdown("hello\x00world")
	require.Error(t, err)
}

func TestImportSkillRejectsOversized(t *testing.T) {
	r := New(Config{})
	big := make([]byte, maxSkillSize+10)
	for i := range big {
		big[i] = 'a'
	}
	_, err := r.ImportSkillFromMarkdown(string(big))
	require.Error(t, err)
}
