package pipeline

import (
	"testing"
	"time"

	"github.com/shuncox/rednote-pic2md/internal/series"
	"github.com/stretchr/testify/assert"
)

func TestSanitiseFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "trip", want: "trip"},
		{in: `a<b>c:d"e/f\g|h?i*j`, want: "a_b_c_d_e_f_g_h_i_j"},
		{in: "  spaced  ", want: "spaced"},
		{in: "", want: "converted_document"},
		{in: "   ", want: "converted_document"},
		{in: "..", want: "converted_document"},
		{in: "东京之旅", want: "东京之旅"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitiseFilename(tt.in), tt.in)
	}
}

func TestFilename_Pattern(t *testing.T) {
	s := &series.Series{Title: "trip/day", Author: "amy"}
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "trip_day", Filename("", s, now))
	assert.Equal(t, "trip_day - amy", Filename("{title} - {author}", s, now))
	assert.Equal(t, "2024-03-09_trip_day", Filename("{date}_{title}", s, now))
}
