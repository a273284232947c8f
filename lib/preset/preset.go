// Package preset reads and writes .lab preset files:
//
//	# comment
//	[Device]
//	Parameter = Value
//	Parameter[Index] = Value
//
// Values are read as bool, int, float or string, in that order.
package preset

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/hqe-lab/labsync/lib/cache"
)

// DefaultSection holds values that appear before the first section header.
const DefaultSection = "Global"

var (
	sectionRe = regexp.MustCompile(`^\[(.*)\]$`)
	lineRe    = regexp.MustCompile(`^(\w+)(?:\[(\d+)\])?\s*=\s*(.*)$`)
)

// Load reads the preset at path.
func Load(path string) ([]cache.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a preset. Malformed lines are skipped and reported
// together in the returned error, alongside every entry that did parse.
func Decode(r io.Reader) ([]cache.Entry, error) {
	var (
		out  []cache.Entry
		errs error
		n    int
	)
	device := DefaultSection
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			device = strings.TrimSpace(m[1])
			continue
		}
		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: cannot parse %q", n, line))
			continue
		}
		e := cache.Entry{Device: device, Parameter: m[1], Value: ParseValue(stripComment(m[3]))}
		if m[2] != "" {
			ch, err := strconv.Atoi(m[2])
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("line %d: index: %w", n, err))
				continue
			}
			e.Channel, e.Indexed = ch, true
		}
		out = append(out, e)
	}
	return out, multierr.Append(errs, sc.Err())
}

// stripComment drops a trailing # comment that is not inside quotes.
func stripComment(s string) string {
	var quote rune
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return strings.TrimSpace(s[:i])
		}
	}
	return strings.TrimSpace(s)
}

// ParseValue converts one value string.
func ParseValue(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "TRUE", "ON":
		return true
	case "FALSE", "OFF":
		return false
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		if u, err := strconv.Unquote(s); err == nil && s[0] == '"' {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}

// Save writes entries to path.
func Save(path string, entries []cache.Entry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	w := bufio.NewWriter(f)
	if err := Encode(w, entries, time.Now()); err != nil {
		return err
	}
	return w.Flush()
}

// Encode writes entries grouped by device in the order given. Entries that
// hold no value or a value that is not a bool, number or string are left
// out.
func Encode(w io.Writer, entries []cache.Entry, saved time.Time) error {
	bw := &errWriter{w: w}
	bw.printf("# Lab Instrument configuration file\n")
	bw.printf("# Saved on %s\n", saved.Format(time.DateTime))
	device, started := "", false
	for _, e := range entries {
		v, ok := FormatValue(e.Value)
		if !ok {
			continue
		}
		if !started || e.Device != device {
			device, started = e.Device, true
			bw.printf("\n[%s]\n", device)
		}
		if e.Indexed {
			bw.printf("\t%s[%d] = %s\n", e.Parameter, e.Channel, v)
		} else {
			bw.printf("\t%s = %s\n", e.Parameter, v)
		}
	}
	return bw.err
}

// FormatValue renders v so that ParseValue returns it unchanged. Floats
// always carry a decimal point or exponent, and strings that would read
// back as something else are quoted.
func FormatValue(v any) (string, bool) {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case float32:
		return FormatValue(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		s := strconv.FormatFloat(x, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s, true
	case string:
		if p, ok := ParseValue(x).(string); ok && p == x && x == strings.TrimSpace(x) && !strings.Contains(x, "#") {
			return x, true
		}
		return strconv.Quote(x), true
	}
	return "", false
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, a ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, a...)
}
