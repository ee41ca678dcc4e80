package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/torosent/multimech/internal/runner"
)

// RawFileName is the record file written into every results directory.
const RawFileName = "results.csv"

// Row is one parsed line of a record file.
type Row struct {
	Seq int64
	runner.ResultRecord
}

// FormatRecord renders one record file line:
//
//	seq,elapsed,epoch,group,duration,error,{timers}[,{fields}]
//
// The error text never contains commas, so everything after the sixth
// comma is JSON. Custom fields are only written when present. Every record
// has a line: values JSON cannot hold are degraded, never dropped.
func FormatRecord(seq int64, rec runner.ResultRecord) string {
	tail := EncodeTimers(rec.CustomTimers)
	if len(rec.CustomFields) > 0 {
		tail = append(append(tail, ','), EncodeFields(rec.CustomFields)...)
	}
	return fmt.Sprintf("%d,%.3f,%d,%s,%f,%s,%s\n",
		seq, rec.Elapsed, int64(rec.Epoch), rec.Group, rec.Duration, rec.Error, tail)
}

// EncodeTimers renders custom timers as a JSON object. NaN and infinite
// values become null.
func EncodeTimers(timers map[string]float64) []byte {
	out := make(map[string]any, len(timers))
	for name, v := range timers {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[name] = nil
			continue
		}
		out[name] = v
	}
	data, _ := json.Marshal(out)
	return data
}

// EncodeFields renders custom fields as a JSON object. A value JSON cannot
// encode is written as null when it is a non-finite number and as its
// printed form otherwise.
func EncodeFields(fields map[string]any) []byte {
	if data, err := json.Marshal(fields); err == nil {
		return data
	}
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		if _, err := json.Marshal(v); err == nil {
			out[name] = v
			continue
		}
		out[name] = fallbackValue(v)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func fallbackValue(v any) any {
	switch n := v.(type) {
	case float64:
		return nil
	case float32:
		return nil
	case nil:
		return nil
	default:
		switch reflect.ValueOf(n).Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return fmt.Sprintf("%T", n)
		}
		return fmt.Sprintf("%v", n)
	}
}

// ParseLine parses one line written by FormatRecord.
func ParseLine(line string) (Row, error) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), ",", 7)
	if len(parts) != 7 {
		return Row{}, fmt.Errorf("expected 7 fields, got %d", len(parts))
	}
	var (
		row Row
		err error
	)
	if row.Seq, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return Row{}, fmt.Errorf("seq: %w", err)
	}
	if row.Elapsed, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return Row{}, fmt.Errorf("elapsed: %w", err)
	}
	if row.Epoch, err = strconv.ParseFloat(parts[2], 64); err != nil {
		return Row{}, fmt.Errorf("epoch: %w", err)
	}
	row.Group = parts[3]
	if row.Duration, err = strconv.ParseFloat(parts[4], 64); err != nil {
		return Row{}, fmt.Errorf("duration: %w", err)
	}
	row.Error = parts[5]

	var tail []json.RawMessage
	if err := json.Unmarshal([]byte("["+parts[6]+"]"), &tail); err != nil {
		return Row{}, fmt.Errorf("custom data: %w", err)
	}
	if len(tail) > 0 {
		var timers map[string]*float64
		if err := json.Unmarshal(tail[0], &timers); err != nil {
			return Row{}, fmt.Errorf("custom timers: %w", err)
		}
		for name, v := range timers {
			if v == nil {
				continue
			}
			if row.CustomTimers == nil {
				row.CustomTimers = make(map[string]float64, len(timers))
			}
			row.CustomTimers[name] = *v
		}
	}
	if len(tail) > 1 {
		if err := json.Unmarshal(tail[1], &row.CustomFields); err != nil {
			return Row{}, fmt.Errorf("custom fields: %w", err)
		}
	}
	return row, nil
}

// ReadRows parses a record file. fn is called for every row in file order.
func ReadRows(r io.Reader, fn func(Row) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := ParseLine(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ReadFile parses the record file at path.
func ReadFile(path string, fn func(Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := ReadRows(f, fn); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
