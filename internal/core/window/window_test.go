package window

import (
	"math"
	"testing"
	"time"

	coreerr "github.com/aevon-lab/updateby/internal/core/errors"
	"github.com/aevon-lab/updateby/internal/core/value"
	"github.com/stretchr/testify/require"
)

func ptr(n int64) *int64 { return &n }

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      time.Duration
		wantError bool
	}{
		{name: "minute", input: "1m", want: time.Minute},
		{name: "hour", input: "2h", want: 2 * time.Hour},
		{name: "days suffix", input: "3d", want: 72 * time.Hour},
		{name: "negative", input: "-5s", want: -5 * time.Second},
		{name: "negative days", input: "-1d", want: -24 * time.Hour},
		{name: "explicit plus", input: "+10ms", want: 10 * time.Millisecond},
		{name: "zero", input: "0s", want: 0},
		{name: "empty invalid", input: "", wantError: true},
		{name: "bad day format invalid", input: "xd", wantError: true},
		{name: "unknown unit invalid", input: "10x", wantError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDuration(tc.input)
			if tc.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "3d", FormatDuration(72*time.Hour))
	require.Equal(t, "-5s", FormatDuration(-5*time.Second))
	require.Equal(t, "90m", FormatDuration(90*time.Minute))
	require.Equal(t, "0s", FormatDuration(0))
	require.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
}

func TestTicks(t *testing.T) {
	s, err := Ticks(3, 0)
	require.NoError(t, err)
	require.True(t, s.IsTicks())
	require.Equal(t, int64(3), s.RevTicks())
	require.Equal(t, int64(0), s.FwdTicks())

	// five rows ending five before the current one
	s, err = Ticks(10, -5)
	require.NoError(t, err)
	require.Equal(t, int64(-5), s.FwdTicks())

	_, err = Ticks(0, 0)
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
	_, err = Ticks(-2, 2)
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
}

func TestTime(t *testing.T) {
	s, err := Time("ts", time.Minute, 0)
	require.NoError(t, err)
	require.True(t, s.IsTime())
	require.Equal(t, "ts", s.TimestampColumn())

	_, err = Time("", time.Minute, 0)
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
	_, err = Time("ts", -2*time.Minute, time.Minute)
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
}

func TestCumulative(t *testing.T) {
	s := Cumulative()
	require.True(t, s.IsCumulative())
	require.Equal(t, int64(Unbounded), s.RevTicks())
	require.Equal(t, int64(0), s.FwdTicks())
	require.Equal(t, "cumulative", s.String())
}

func TestDecay(t *testing.T) {
	s, err := DecayTicks(2)
	require.NoError(t, err)
	require.True(t, s.IsDecay())
	require.True(t, s.IsTicks())
	require.Equal(t, int64(2), s.DecayTicksValue())

	s, err = DecayTime("ts", time.Second)
	require.NoError(t, err)
	require.True(t, s.IsTime())
	require.Equal(t, time.Second, s.DecayTau())

	_, err = DecayTicks(0)
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
	_, err = DecayTime("ts", 0)
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
	_, err = DecayTime("", time.Second)
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name      string
		cfg       ScaleConfig
		want      Scale
		wantError bool
	}{
		{name: "ticks", cfg: ScaleConfig{RevTicks: ptr(3)}, want: Must(Ticks(3, 0))},
		{name: "ticks with forward", cfg: ScaleConfig{RevTicks: ptr(1), FwdTicks: ptr(2)}, want: Must(Ticks(1, 2))},
		{name: "time", cfg: ScaleConfig{RevTime: "1m", TimestampColumn: "ts"}, want: Must(Time("ts", time.Minute, 0))},
		{name: "time with negative forward", cfg: ScaleConfig{RevTime: "10s", FwdTime: "-5s", TimestampColumn: "ts"}, want: Must(Time("ts", 10*time.Second, -5*time.Second))},
		{name: "cumulative", cfg: ScaleConfig{Cumulative: true}, want: Cumulative()},
		{name: "both kinds invalid", cfg: ScaleConfig{RevTicks: ptr(1), RevTime: "1m", TimestampColumn: "ts"}, wantError: true},
		{name: "time without column invalid", cfg: ScaleConfig{RevTime: "1m"}, wantError: true},
		{name: "ticks with column invalid", cfg: ScaleConfig{RevTicks: ptr(1), TimestampColumn: "ts"}, wantError: true},
		{name: "cumulative with extents invalid", cfg: ScaleConfig{Cumulative: true, RevTicks: ptr(2)}, wantError: true},
		{name: "empty ticks invalid", cfg: ScaleConfig{RevTicks: ptr(0)}, wantError: true},
		{name: "bad duration invalid", cfg: ScaleConfig{RevTime: "soon", TimestampColumn: "ts"}, wantError: true},
		{name: "nothing invalid", cfg: ScaleConfig{}, wantError: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromConfig(tc.cfg)
			if tc.wantError {
				require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFromDecayConfig(t *testing.T) {
	s, err := FromDecayConfig(DecayConfig{DecayTicks: 10})
	require.NoError(t, err)
	require.Equal(t, Must(DecayTicks(10)), s)

	s, err = FromDecayConfig(DecayConfig{DecayTime: "2s", TimestampColumn: "ts"})
	require.NoError(t, err)
	require.Equal(t, Must(DecayTime("ts", 2*time.Second)), s)

	_, err = FromDecayConfig(DecayConfig{DecayTicks: 1, DecayTime: "1s", TimestampColumn: "ts"})
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
	_, err = FromDecayConfig(DecayConfig{})
	require.ErrorIs(t, err, coreerr.ErrInvalidWindow)
}

func TestControlFromConfig(t *testing.T) {
	c, err := ControlFromConfig(ControlConfig{})
	require.NoError(t, err)
	require.Equal(t, DefaultControl(), c)
	require.Equal(t, PolicySkip, c.OnNull)
	require.Equal(t, int32(DefaultBigValuePrecision), c.Precision())

	c, err = ControlFromConfig(ControlConfig{OnNull: "RESET_GROUP", OnNaN: "poison", BigOverflow: "saturate", BigValuePrecision: 10})
	require.NoError(t, err)
	require.Equal(t, PolicyReset, c.OnNull)
	require.Equal(t, PolicyPoison, c.OnNaN)
	require.Equal(t, OverflowSaturate, c.BigOverflow)
	require.Equal(t, int32(10), c.Precision())

	_, err = ControlFromConfig(ControlConfig{OnNull: "ignore"})
	require.Error(t, err)
	_, err = ControlFromConfig(ControlConfig{BigOverflow: "wrap"})
	require.Error(t, err)
	_, err = ControlFromConfig(ControlConfig{BigValuePrecision: -1})
	require.Error(t, err)
}

func TestControlScreen(t *testing.T) {
	c := Control{OnNull: PolicyReset, OnNaN: PolicyPoison}
	require.Equal(t, Admit, c.Screen(value.Float(1)))
	require.Equal(t, Reset, c.Screen(value.Null(value.KindFloat)))
	require.Equal(t, Poison, c.Screen(value.Float(math.NaN())))
	require.Equal(t, Skip, Control{}.Screen(value.Null(value.KindInt)))

	c = Control{OnNullTime: PolicyPoison, OnNegativeDeltaTime: PolicyReset}
	require.Equal(t, Admit, c.ScreenTime(true, 0))
	require.Equal(t, Poison, c.ScreenTime(false, 0))
	require.Equal(t, Reset, c.ScreenTime(true, -1))
}

func TestParseDeltaControl(t *testing.T) {
	for in, want := range map[string]DeltaControl{
		"":                NullDominates,
		"null_dominates":  NullDominates,
		"VALUE_DOMINATES": ValueDominates,
		"zero_dominates":  ZeroDominates,
	} {
		got, err := ParseDeltaControl(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseDeltaControl("first")
	require.Error(t, err)
}
