package s3

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // ETag emulation only
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a *Store for bucket backed by an in-memory fake HTTP
// transport serving objects. Only GET and HEAD object requests are handled.
func NewMockForTests(bucket string, objects map[string][]byte) *Store {
	rt := &mockRoundTripper{bucket: bucket, objects: make(map[string][]byte, len(objects))}
	for k, v := range objects {
		rt.objects[k] = append([]byte(nil), v...)
	}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: bucket}
}

type mockRoundTripper struct {
	bucket  string
	objects map[string][]byte
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] != m.bucket {
		return respond(http.StatusNotFound, nil, nil), nil
	}
	body, ok := m.objects[parts[1]]
	if !ok {
		return respond(http.StatusNotFound, nil, nil), nil
	}
	sum := md5.Sum(body) //nolint:gosec // ETag emulation only
	header := http.Header{}
	header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
	header.Set("Content-Type", "application/octet-stream")
	header.Set("ETag", "\""+hex.EncodeToString(sum[:])+"\"")
	header.Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
	switch req.Method {
	case http.MethodHead:
		return respond(http.StatusOK, header, nil), nil
	case http.MethodGet:
		return respond(http.StatusOK, header, body), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func respond(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader(body))}
}
