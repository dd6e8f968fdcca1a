package send

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseOperationsShapes(t *testing.T) {
	ops, err := ParseOperations([]byte(`[{"kind":"transaction","destination":"tz1a","amount":5000000,"gas_limit":"1500"}]`))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, Quantity("5000000"), ops[0].Amount)
	assert.Equal(t, Quantity("1500"), ops[0].GasLimit)

	ops, err = ParseOperations([]byte(`{"operationDetails":[{"kind":"transaction","destination":"tz1a","amount":"7","parameters":{"entrypoint":"default","value":{"prim":"Unit"}}}]}`))
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, Quantity("7"), ops[0].Amount)
	require.NotNil(t, ops[0].Parameters)
	assert.JSONEq(t, `{"prim":"Unit"}`, string(ops[0].Parameters.Value))

	for _, body := range []string{``, `[]`, `{"operationDetails":[]}`, `{`, `[{"amount":true}]`} {
		_, err := ParseOperations([]byte(body))
		assert.Error(t, err, "body %q", body)
	}
}

func TestPendingName(t *testing.T) {
	assert.Equal(t, "none", PendingName(nil))
	assert.Equal(t, "confirm", PendingName(PendingConfirm{}))
	assert.Equal(t, "template", PendingName(PendingTemplate{}))
	assert.Equal(t, "prepare", PendingName(PendingPrepare{}))
}

func TestZapMessageLogKeepsMostRecent(t *testing.T) {
	log := NewZapMessageLog(zap.NewNop(), 2)
	log.AddError("a")
	log.AddError("b")
	log.AddError("c")
	assert.Equal(t, []string{"b", "c"}, log.Messages())
}
