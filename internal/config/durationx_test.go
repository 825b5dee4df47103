// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	re := require.New(t)

	cases := []struct {
		in   string
		want time.Duration
	}{
		{"15ms", 15 * time.Millisecond},
		{"90s", 90 * time.Second},
		{"2min", 2 * time.Minute},
		{"500us", 500 * time.Microsecond},
		{"inf", Inf},
	}
	for _, c := range cases {
		got, err := ParseDuration(c.in)
		re.NoError(err)
		re.Equal(c.want, got)
	}
}

func TestParseDurationInvalid(t *testing.T) {
	re := require.New(t)

	_, err := ParseDuration("5")
	re.Error(err)
	_, err = ParseDuration("5h")
	re.Error(err)
}

func TestDurationRoundTrip(t *testing.T) {
	re := require.New(t)

	var d Duration
	re.NoError(d.UnmarshalText([]byte("15ms")))
	re.Equal(15*time.Millisecond, d.Duration)

	text, err := d.MarshalText()
	re.NoError(err)
	re.Equal("15ms", string(text))

	var inf Duration
	re.NoError(inf.UnmarshalText([]byte("inf")))
	re.Equal(Inf, inf.Duration)
	re.Equal("inf", inf.String())
}
