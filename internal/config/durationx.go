// Copyright 2022 CeresDB Project Authors. Licensed under Apache-2.0.

package config

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Inf is the sentinel duration standing for the literal "inf" tunable value:
// a deadline that never fires.
const Inf = time.Duration(math.MaxInt64)

// Duration wraps time.Duration to parse the suffix forms of spec §6:
// "min", "s", "ms", "us" and the literal "inf". It implements
// encoding.TextUnmarshaler/Marshaler so it works as both a flag.Value and
// an env/toml field.
type Duration struct {
	time.Duration
}

func (d Duration) String() string {
	if d.Duration == Inf {
		return "inf"
	}
	return d.Duration.String()
}

func (d *Duration) Set(s string) error {
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	return d.Set(string(text))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDuration parses a bare number with a unit suffix of min|s|ms|us, or
// the literal "inf".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "inf" {
		return Inf, nil
	}

	for _, unit := range []struct {
		suffix string
		scale  time.Duration
	}{
		{"us", time.Microsecond},
		{"ms", time.Millisecond},
		{"min", time.Minute},
		{"s", time.Second},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			numPart := strings.TrimSuffix(s, unit.suffix)
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return 0, ErrInvalidDuration.WithCausef("value:%q, err:%v", s, err)
			}
			return time.Duration(n * float64(unit.scale)), nil
		}
	}

	return 0, ErrInvalidDuration.WithCausef("value:%q: no recognised unit suffix (min|s|ms|us|inf)", s)
}
