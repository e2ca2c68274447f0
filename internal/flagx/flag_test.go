package flagx

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settings struct {
	Name    string
	Workers int
	Watch   bool
	Every   time.Duration
}

func bind(fs *pflag.FlagSet) *Overlay[settings] {
	o := NewOverlay[settings](fs)
	o.String("name", "n", "default", "", func(s *settings) *string { return &s.Name })
	o.Int("workers", "w", 4, "", func(s *settings) *int { return &s.Workers })
	o.Bool("watch", "", false, "", func(s *settings) *bool { return &s.Watch })
	o.Duration("every", "", time.Minute, "", func(s *settings) *time.Duration { return &s.Every })
	return o
}

func TestOverlay_Apply(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want settings
	}{
		{
			name: "no flags keep the target",
			args: nil,
			want: settings{Name: "from-file", Workers: 8},
		},
		{
			name: "short and long flags",
			args: []string{"-n", "cli", "--workers=2"},
			want: settings{Name: "cli", Workers: 2},
		},
		{
			name: "explicit default still wins",
			args: []string{"--workers", "4", "--watch", "--every", "5s"},
			want: settings{Name: "from-file", Workers: 4, Watch: true, Every: 5 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			o := bind(fs)
			require.NoError(t, fs.Parse(tt.args))

			got := settings{Name: "from-file", Workers: 8}
			o.Apply(&got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverlay_IgnoresForeignFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o := bind(fs)
	fs.String("other", "", "")
	require.NoError(t, fs.Parse([]string{"--other", "x"}))

	got := settings{Name: "kept"}
	o.Apply(&got)
	assert.Equal(t, settings{Name: "kept"}, got)
}
