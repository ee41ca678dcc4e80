package report

import (
	"encoding/xml"
	"io"
	"math"
	"sort"

	"github.com/torosent/multimech/internal/sink"
)

// JMeter-compatible XML results. Each record is a sample labelled with its
// group; custom timers become child samples.
type jtlResults struct {
	XMLName xml.Name    `xml:"testResults"`
	Version string      `xml:"version,attr"`
	Samples []jtlSample `xml:"httpSample"`
}

type jtlSample struct {
	Elapsed   int64       `xml:"t,attr"`
	Timestamp int64       `xml:"ts,attr"`
	Success   bool        `xml:"s,attr"`
	Label     string      `xml:"lb,attr"`
	Code      string      `xml:"rc,attr"`
	Message   string      `xml:"rm,attr"`
	Thread    string      `xml:"tn,attr"`
	Children  []jtlSample `xml:"httpSample,omitempty"`
}

func newJTLSample(row sink.Row) jtlSample {
	s := jtlSample{
		Elapsed:   int64(math.Round(row.Duration * 1000)),
		Timestamp: int64(math.Round(row.Epoch * 1000)),
		Success:   !row.Failed(),
		Label:     row.Group,
		Code:      "200",
		Message:   "OK",
		Thread:    row.Group,
	}
	if row.Failed() {
		s.Code = "500"
		s.Message = row.Error
	}
	names := make([]string, 0, len(row.CustomTimers))
	for name := range row.CustomTimers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.Children = append(s.Children, jtlSample{
			Elapsed:   int64(math.Round(row.CustomTimers[name] * 1000)),
			Timestamp: s.Timestamp,
			Success:   s.Success,
			Label:     name,
			Code:      s.Code,
			Message:   s.Message,
			Thread:    row.Group,
		})
	}
	return s
}

func writeJTL(w io.Writer, samples []jtlSample) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(jtlResults{Version: "1.2", Samples: samples}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
