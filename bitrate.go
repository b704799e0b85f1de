//go:build !ios && !android && (amd64 || arm64)

package media

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var bitrateGrammar = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([KMGkmg]?)$`)

// ParseBitrate converts a human bit-rate string ("5M", "192k", "1.5G",
// "128000") into an integer bits/sec value. Multipliers are
// case-insensitive: K=10^3, M=10^6, G=10^9. Fractional results are
// floored. Any input not matching the grammar is rejected.
func ParseBitrate(s string) (int64, error) {
	m := bitrateGrammar.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, NewKindedError(ErrorKindConfigInvalid, "bitrate.parse", fmt.Errorf("invalid bitrate %q", s))
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, NewKindedError(ErrorKindConfigInvalid, "bitrate.parse", err)
	}
	var mult float64 = 1
	switch strings.ToUpper(m[2]) {
	case "K":
		mult = 1e3
	case "M":
		mult = 1e6
	case "G":
		mult = 1e9
	}
	return int64(math.Floor(val * mult)), nil
}

// BitrateOrInt accepts either a string (parsed via ParseBitrate) or a bare
// integer bits/sec value, matching the encoder options table's
// "string or integer" rate fields (bit_rate, min_rate, max_rate, buf_size).
func BitrateOrInt(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		return ParseBitrate(t)
	default:
		return 0, NewKindedError(ErrorKindConfigInvalid, "bitrate.parse", fmt.Errorf("unsupported bit rate value type %T", v))
	}
}
