package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/predictor"
	"github.com/matryer/is"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(is *is.I, p Policy)
	}{
		{
			name: "empty uses defaults",
			yaml: "",
			check: func(is *is.I, p Policy) {
				is.Equal(p, Default())
			},
		},
		{
			name: "overrides",
			yaml: `
match:
  search_radius: 150
  weights:
    heading: 0
  schedule_window: 20m
predict:
  alpha: 0.1
  dwell_threshold: 90s
  bias:
    kind: linear
    direction: -1
    rate: 0.5
`,
			check: func(is *is.I, p Policy) {
				is.Equal(p.Match.SearchRadius, 150.0)
				is.Equal(p.Match.Weights.Heading, 0.0)
				is.Equal(p.Match.Weights.Distance, 0.5)
				is.Equal(p.Match.ScheduleWindow, 20*time.Minute)
				is.Equal(p.Match.MaxCandidates, 10)
				is.Equal(p.Predict.Alpha, 0.1)
				is.Equal(p.Predict.DwellThreshold, 90*time.Second)
				is.Equal(p.Predict.Bias, predictor.Bias{Kind: predictor.BiasLinear, Direction: -1, Rate: 0.5})
			},
		},
		{name: "negative radius", yaml: "match:\n  search_radius: -1\n", wantErr: true},
		{name: "alpha above one", yaml: "predict:\n  alpha: 1.5\n", wantErr: true},
		{name: "confidence above one", yaml: "match:\n  min_confidence: 2\n", wantErr: true},
		{name: "sticky below minimum", yaml: "match:\n  min_confidence: 0.6\n  sticky_min_confidence: 0.5\n",
			wantErr: true},
		{name: "unknown bias", yaml: "predict:\n  bias:\n    kind: quadratic\n", wantErr: true},
		{name: "bad direction", yaml: "predict:\n  bias:\n    kind: linear\n    direction: 2\n", wantErr: true},
		{name: "not yaml", yaml: "match: [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			p, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				is.True(err != nil)
				return
			}
			is.NoErr(err)
			tt.check(is, p)
		})
	}
}

func TestLoad(t *testing.T) {
	is := is.New(t)
	p, err := Load("")
	is.NoErr(err)
	is.Equal(p, Default())

	path := filepath.Join(t.TempDir(), "policy.yml")
	is.NoErr(os.WriteFile(path, []byte("match:\n  max_candidates: 4\n"), 0600))
	p, err = Load(path)
	is.NoErr(err)
	is.Equal(p.Match.MaxCandidates, 4)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	is.True(err != nil)
}
