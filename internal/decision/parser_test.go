package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFencedArray(t *testing.T) {
	raw := "分析如下。\n```json\n[{\"symbol\":\"BTCUSDT\",\"action\":\"open_long\",\"leverage\":10,\"position_size_usd\":2000}]\n```\n完毕。"
	ds, arr, err := NewParser().Parse(raw)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "BTCUSDT", ds[0].Symbol)
	assert.Equal(t, "open_long", ds[0].Action)
	assert.Equal(t, 10, ds[0].Leverage)
	assert.Equal(t, 2000.0, ds[0].PositionSizeUSD)
	assert.NotEmpty(t, arr)
}

func TestParseWrappedDecisionsObject(t *testing.T) {
	raw := `{"decisions":[{"action":"hold"},{"symbol":"ETHUSDT","action":"close"}]}`
	ds, _, err := NewParser().Parse(raw)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "hold", ds[0].Action)
	assert.Equal(t, "close", ds[1].Action)
}

func TestParseSingleObjectWrapped(t *testing.T) {
	raw := `{"symbol":"SOLUSDT","action":"open_short","leverage":5,"position_size_usd":500}`
	ds, _, err := NewParser().Parse(raw)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "open_short", ds[0].Action)
}

func TestParseCoercesStringNumbers(t *testing.T) {
	raw := `[{"symbol":"BTCUSDT","action":"open_long","leverage":"10","position_size_usd":"2000","confidence":"80"}]`
	ds, _, err := NewParser().Parse(raw)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, 10, ds[0].Leverage)
	assert.Equal(t, 2000.0, ds[0].PositionSizeUSD)
	assert.Equal(t, 80, ds[0].Confidence)
}

func TestParseRejectsNonJSON(t *testing.T) {
	_, _, err := NewParser().Parse("今天观望，不做操作。")
	require.Error(t, err)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	raw := `[{"action":"hold","banana":1}]`
	_, _, err := NewParser().Parse(raw)
	require.Error(t, err)
}

func TestParseRejectsMissingAction(t *testing.T) {
	raw := `[{"symbol":"BTCUSDT"}]`
	_, _, err := NewParser().Parse(raw)
	require.Error(t, err)
}

func TestParseRejectsEmptyArray(t *testing.T) {
	_, _, err := NewParser().Parse("[]")
	require.Error(t, err)
}

func TestCoerceRejectsNonDecisionObject(t *testing.T) {
	_, err := CoerceDecisionArrayJSON(`{"foo":"bar"}`)
	require.Error(t, err)
}
