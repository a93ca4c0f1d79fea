package log

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultTimeLayout = "2006-01-02 15:04:05.000"

// patternFormatter renders entries through a template with the
// placeholders %time, %level, %field, %msg and %caller.
type patternFormatter struct {
	pattern string
	time    string
}

func newPatternFormatter(pattern, timeLayout string) *patternFormatter {
	if timeLayout == "" {
		timeLayout = defaultTimeLayout
	}
	if !strings.HasSuffix(pattern, "\n") {
		pattern += "\n"
	}
	return &patternFormatter{pattern: pattern, time: timeLayout}
}

func (f *patternFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	r := strings.NewReplacer(
		"%time", entry.Time.Format(f.time),
		"%level", entry.Level.String(),
		"%field", buildFields(entry.Data),
		"%msg", entry.Message,
		"%caller", caller(entry),
	)
	return []byte(r.Replace(f.pattern)), nil
}

// caller reports file:line of the log call when caller reporting is on.
func caller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "-"
	}
	file := entry.Caller.File
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, entry.Caller.Line)
}

// buildFields renders fields as k=v pairs in key order.
func buildFields(data logrus.Fields) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		if s, ok := data[k].(string); ok {
			b.WriteString(s)
		} else {
			fmt.Fprint(&b, data[k])
		}
	}
	return b.String()
}
