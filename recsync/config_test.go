package recsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := []ConfigPatch{
		{MaxPages: ptrTo(0)},
		{PageLimit: ptrTo(-1)},
		{MaxDuration: ptrTo(time.Duration(0))},
		{StalenessMinutes: ptrTo(-5)},
	}
	for _, p := range bad {
		require.Error(t, p.Apply(DefaultConfig()).Validate())
	}

	// Zero staleness means "always stale" and is allowed.
	require.NoError(t, ConfigPatch{StalenessMinutes: ptrTo(0)}.Apply(DefaultConfig()).Validate())
}

func TestConfigPatch_ApplyLeavesUnsetFields(t *testing.T) {
	p := ConfigPatch{Enabled: ptrTo(false), MaxDuration: ptrTo(5 * time.Second)}
	require.False(t, p.IsEmpty())
	require.True(t, ConfigPatch{}.IsEmpty())

	got := p.Apply(DefaultConfig())
	want := DefaultConfig()
	want.Enabled = false
	want.MaxDuration = 5 * time.Second
	require.Equal(t, want, got)
	require.Equal(t, PullConfig{MaxPages: 10, MaxDuration: 5 * time.Second, PageLimit: 200}, got.Pull())
	require.Equal(t, 5*time.Minute, got.Staleness())
}

func TestConfig_JSONUsesMilliseconds(t *testing.T) {
	raw, err := json.Marshal(DefaultConfig())
	require.NoError(t, err)
	require.JSONEq(t, `{"enabled":true,"maxPages":10,"maxDurationMs":20000,"pageLimit":200,"stalenessMinutes":5}`, string(raw))

	cfg := DefaultConfig()
	require.NoError(t, json.Unmarshal([]byte(`{"maxDurationMs":1500,"maxPages":2}`), &cfg))
	require.Equal(t, 1500*time.Millisecond, cfg.MaxDuration)
	require.Equal(t, 2, cfg.MaxPages)
	require.Equal(t, 200, cfg.PageLimit, "absent fields keep their prior value")

	var patch ConfigPatch
	require.NoError(t, json.Unmarshal([]byte(`{"maxDurationMs":750}`), &patch))
	require.Equal(t, 750*time.Millisecond, *patch.MaxDuration)
	require.Nil(t, patch.MaxPages)

	raw, err = json.Marshal(patch)
	require.NoError(t, err)
	require.JSONEq(t, `{"maxDurationMs":750}`, string(raw))
}

func ptrTo[T any](v T) *T { return &v }
