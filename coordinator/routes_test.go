package coordinator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsneelabh/hybrid-coordinator/cache"
	"github.com/itsneelabh/hybrid-coordinator/query"
	"github.com/itsneelabh/hybrid-coordinator/relstore"
)

func TestABSignificantRequiresExactlyTwoVariants(t *testing.T) {
	assert.False(t, abSignificant(nil))
	assert.False(t, abSignificant([]relstore.VariantStats{{Variant: "A", AvgValue: 1}}))
	assert.False(t, abSignificant([]relstore.VariantStats{
		{Variant: "A", AvgValue: 1}, {Variant: "B", AvgValue: 2}, {Variant: "C", AvgValue: 3},
	}))
}

func TestABSignificantFlagsLargeRelativeDifference(t *testing.T) {
	stats := []relstore.VariantStats{
		{Variant: "A", AvgValue: 0.50},
		{Variant: "B", AvgValue: 0.60},
	}
	assert.True(t, abSignificant(stats))
}

func TestABSignificantIgnoresSmallRelativeDifference(t *testing.T) {
	stats := []relstore.VariantStats{
		{Variant: "A", AvgValue: 0.50},
		{Variant: "B", AvgValue: 0.51},
	}
	assert.False(t, abSignificant(stats))
}

func TestABSignificantHandlesZeroBaseline(t *testing.T) {
	assert.True(t, abSignificant([]relstore.VariantStats{
		{Variant: "A", AvgValue: 0}, {Variant: "B", AvgValue: 0.1},
	}))
	assert.False(t, abSignificant([]relstore.VariantStats{
		{Variant: "A", AvgValue: 0}, {Variant: "B", AvgValue: 0},
	}))
}

func TestHandleQueryAcceptsPromptAlias(t *testing.T) {
	c := New(Config{Pipeline: query.New(nil, nil)})
	body, _ := json.Marshal(map[string]interface{}{"prompt": "fix keyring error"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	c.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(query.RouteContextOnly), resp["route"])
}

func TestHandleQueryRejectsEmptyQuery(t *testing.T) {
	c := New(Config{Pipeline: query.New(nil, nil)})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	c.handleQuery(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueryReturnsExactCacheHit(t *testing.T) {
	sc := cache.New(0.95, time.Hour)
	require.True(t, sc.Set("fix keyring error", nil, "Solution: enable gnome-keyring", "local", 100))

	c := New(Config{Pipeline: query.New(nil, nil), Cache: sc})
	body, _ := json.Marshal(map[string]interface{}{"query": "fix keyring error"})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	c.handleQuery(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "exact", resp["cache_hit"])
	assert.Equal(t, "Solution: enable gnome-keyring", resp["response"])
}

func TestHandleReloadModelAcceptsWhitelistedService(t *testing.T) {
	c := New(Config{})
	body, _ := json.Marshal(reloadModelRequest{Service: "llama-cpp"})
	req := httptest.NewRequest(http.MethodPost, "/reload-model", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	c.handleReloadModel(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleReloadModelRejectsUnknownService(t *testing.T) {
	c := New(Config{})
	body, _ := json.Marshal(reloadModelRequest{Service: "some-other-service"})
	req := httptest.NewRequest(http.MethodPost, "/reload-model", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	c.handleReloadModel(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleReloadModelHonorsConfiguredWhitelist(t *testing.T) {
	c := New(Config{ReloadableServices: []string{"custom-reranker"}})
	body, _ := json.Marshal(reloadModelRequest{Service: "llama-cpp"})
	req := httptest.NewRequest(http.MethodPost, "/reload-model", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	c.handleReloadModel(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code, "a configured whitelist should replace, not extend, the default set")
}
