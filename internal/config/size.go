// size.go -- parse strings with a size suffix
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package config

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	_kB uint64 = 1 << 10
	_MB uint64 = 1 << 20
	_GB uint64 = 1 << 30
	_TB uint64 = 1 << 40
	_PB uint64 = 1 << 50
	_EB uint64 = 1 << 60
)

var multmap = map[string]uint64{
	"":  1,
	"k": _kB,
	"K": _kB,
	"M": _MB,
	"G": _GB,
	"T": _TB,
	"P": _PB,
	"E": _EB,
}

const validSizeSuffix = "kKMGTPE"

// ParseSize parses a string with an optional size suffix (one of
// k, M, G, T, P, E, denoting multiples of 1024), e.g. "32k", "2M".
func ParseSize(in string) (uint64, error) {
	var m uint64 = 1

	s := strings.TrimSpace(in)
	if len(s) == 0 {
		return 0, nil
	}

	if i := strings.LastIndexAny(s, validSizeSuffix); i > 0 {
		suffix := s[i:]
		x, ok := multmap[suffix]
		if !ok {
			return 0, fmt.Errorf("unknown size suffix %s", suffix)
		}
		m = x
		s = s[:i]
	}

	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}

	v := u * m
	if u != 0 && v/u != m {
		return 0, fmt.Errorf("size: value %s overflows a uint64", in)
	}
	return v, nil
}
