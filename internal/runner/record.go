package runner

import (
	"fmt"
	"strings"
	"time"
)

// ResultRecord is one timing/error observation for a single transaction
// iteration. Records are never mutated after a worker builds them.
type ResultRecord struct {
	Elapsed      float64            // seconds since the owning group was constructed
	Epoch        float64            // wall clock, seconds since the Unix epoch
	Group        string             // group name
	Duration     float64            // transaction seconds
	Error        string             // empty on success
	CustomTimers map[string]float64 // transaction-defined timers, seconds
	CustomFields map[string]any     // transaction-defined values
}

// Failed reports whether the iteration raised an error.
func (r ResultRecord) Failed() bool { return r.Error != "" }

var errorReplacer = strings.NewReplacer(",", "", "\r\n", " ", "\n", " ", "\r", " ")

// SanitizeError renders err as a single line without commas so it can be
// stored in a comma-delimited, line-oriented record file. A failure always
// yields a non-empty string.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(errorReplacer.Replace(err.Error()))
	if msg == "" {
		msg = strings.ReplaceAll(fmt.Sprintf("%T", err), ",", "")
	}
	return msg
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func copyTimers(src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyFields(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
