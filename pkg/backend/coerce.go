package backend

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xhit/go-str2duration/v2"
)

// ParseBool is the one boolean predicate used for every flag and bool field:
// "true", "1" and "yes" (any case, surrounding space ignored) are true,
// everything else, including the empty string, is false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// relativeDuration matches strtotime-style offsets such as "+1 hours".
var relativeDuration = regexp.MustCompile(`^\+?\s*(\d+)\s*(second|minute|hour|day|week|month|year)s?$`)

var relativeUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// ParseDuration accepts Go durations ("90s"), day and week units ("2d",
// "1w") and relative offsets ("+1 hours", "+1 years").
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if m := relativeDuration.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * relativeUnits[m[2]], nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// ParseList splits a comma separated value, dropping blank items.
func ParseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Coerce converts raw into the Go value used for kind:
//
//	string, secret, url, enum -> string
//	int -> int, float -> float64, bool -> bool
//	duration -> time.Duration, list -> []string
//
// Secrets are returned as-is; revealing them is the materializer's job.
func Coerce(raw string, kind Kind, enumValues []string) (any, error) {
	switch kind {
	case KindString, "":
		return raw, nil
	case KindSecret:
		return raw, nil
	case KindInt:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("not an integer")
		}
		return i, nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("not a number")
		}
		return f, nil
	case KindBool:
		return ParseBool(raw), nil
	case KindEnum:
		v := strings.TrimSpace(raw)
		for _, allowed := range enumValues {
			if strings.EqualFold(v, allowed) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("not one of %s", strings.Join(enumValues, ", "))
	case KindURL:
		v := strings.TrimSpace(raw)
		u, err := url.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("not a URL")
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("URL needs a scheme and a host")
		}
		return v, nil
	case KindDuration:
		return ParseDuration(raw)
	case KindList:
		return ParseList(raw), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}
