package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_JSON(t *testing.T) {
	var cfg struct {
		Interval Duration `json:"interval"`
		Raw      Duration `json:"raw"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"interval":"1m30s","raw":1000}`), &cfg))
	assert.Equal(t, 90*time.Second, cfg.Interval.Duration)
	assert.Equal(t, time.Microsecond, cfg.Raw.Duration)

	out, err := json.Marshal(cfg.Interval)
	require.NoError(t, err)
	assert.JSONEq(t, `"1m30s"`, string(out))

	var bad Duration
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`true`), &bad))
}

func TestSameSecond(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.True(t, SameSecond(base, base))
	assert.True(t, SameSecond(base, base.Add(999*time.Millisecond)))
	assert.True(t, SameSecond(base.Add(999*time.Millisecond), base))
	assert.False(t, SameSecond(base, base.Add(time.Second)))
	assert.False(t, SameSecond(base.Add(1500*time.Millisecond), base))
}
