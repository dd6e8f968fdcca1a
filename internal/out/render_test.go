package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/sendflow/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"a": 1, "b": 2}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, Options{Mode: "json", Select: []string{"a"}, ResultsOnly: true}))

	var out []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, float64(1), out[0]["a"])
	assert.NotContains(t, out[0], "b")
}

func TestRenderSelectDottedPath(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data: map[string]any{
			"id":      "inv_1",
			"request": map[string]any{"fee": map[string]any{"total": "0.09"}},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, Options{Select: []string{"request.fee.total", "missing.path"}, ResultsOnly: true}))
	assert.JSONEq(t, `{"request.fee.total":"0.09"}`, buf.String())
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"name": "x", "score": 42}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, Options{Mode: "plain", ResultsOnly: true}))
	assert.Contains(t, buf.String(), "name=x")
}

func TestRenderPlainFlattensNestedMaps(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data:    map[string]any{"id": "inv_1", "result": map[string]any{"op_hash": "oo1"}, "tags": []string{"a"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, Options{Mode: "plain", ResultsOnly: true}))
	line := strings.TrimSpace(buf.String())
	assert.Equal(t, `id=inv_1 result.op_hash=oo1 tags=["a"]`, line)
}

func TestRenderEnvelopeDefaultsToJSON(t *testing.T) {
	env := model.Envelope{Version: model.EnvelopeVersion, Success: false, Error: &model.ErrorBody{Code: 21, Type: "policy_error", Message: "exceeded_threshold"}}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, env, Options{}))
	var decoded model.Envelope
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.NotNil(t, decoded.Error)
	assert.Equal(t, "policy_error", decoded.Error.Type)
}
