package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestComponentTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter("debug", &buf)

	l := Component(logger, "session")
	l.Info().Msg("hello")

	assert.Contains(t, buf.String(), "component=session")
	assert.Contains(t, buf.String(), "hello")
}

func TestComponentNilLogger(t *testing.T) {
	l := Component(nil, "x")
	l.Info().Msg("dropped")
}
