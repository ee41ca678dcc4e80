// Package httpclient provides HTTP client utilities for multimech transactions.
//
// The httpclient package handles HTTP request construction and execution with support for:
//   - Configurable timeouts and connection pooling
//   - Bodies from inline content or a file read once at construction;
//     a relative BodyFile resolves against RequestSpec.BaseDir
//
// # Request Building
//
// Use [NewRequestBuilder] to create a reusable request builder:
//
//	builder, err := httpclient.NewRequestBuilder(httpclient.RequestSpec{
//		Method: "POST",
//		URL:    "https://example.com/login",
//		Body:   `{"user":"demo"}`,
//	})
//	if err != nil {
//		return err
//	}
//	req, err := builder.Build(ctx)
//
// # HTTP Client
//
// The [NewClient] function creates an HTTP client optimized for load testing with
// configurable timeouts and connection reuse:
//
//	client := httpclient.NewClient(30 * time.Second)
//	resp, err := client.Do(req)
package httpclient
