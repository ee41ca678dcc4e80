package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// MaxBodyFileSize caps body_file payloads, which are held in memory and
// replayed on every iteration.
const MaxBodyFileSize = 32 << 20

// loadPayload returns the request body named by spec. A relative BodyFile
// is resolved against spec.BaseDir.
func loadPayload(spec RequestSpec) ([]byte, error) {
	bodyFile := strings.TrimSpace(spec.BodyFile)
	if spec.Body != "" && bodyFile != "" {
		return nil, errors.New("body and body_file cannot both be set")
	}
	if bodyFile == "" {
		if spec.Body == "" {
			return nil, nil
		}
		return []byte(spec.Body), nil
	}

	if !filepath.IsAbs(bodyFile) && spec.BaseDir != "" {
		bodyFile = filepath.Join(spec.BaseDir, bodyFile)
	}
	info, err := os.Stat(bodyFile)
	if err != nil {
		return nil, fmt.Errorf("body_file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("body_file %s is a directory", bodyFile)
	}
	if info.Size() > MaxBodyFileSize {
		return nil, fmt.Errorf("body_file %s is larger than %d bytes", bodyFile, MaxBodyFileSize)
	}
	data, err := os.ReadFile(bodyFile)
	if err != nil {
		return nil, fmt.Errorf("body_file: %w", err)
	}
	return data, nil
}

func (b *RequestBuilder) bodyReader() io.ReadCloser {
	if len(b.payload) == 0 {
		return http.NoBody
	}
	return io.NopCloser(bytes.NewReader(b.payload))
}
