package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store backed by an in-memory fake HTTP transport
// covering the object, tagging and listing calls the Store makes.
func NewMockForTests() *Store {
	return newMock(&fakeBucket{objects: make(map[string]fakeObject)})
}

func newMock(rt *fakeBucket) *Store {
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: "mock-bucket", presign: s3.NewPresignClient(client)}
}

type fakeObject struct {
	body        []byte
	contentType string
	tags        map[string]string
}

// fakeBucket answers path-style requests for a single bucket.
type fakeBucket struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	denyTags bool
}

func (m *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) { //nolint:cyclop
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	query := req.URL.Query()
	switch {
	case req.Method == http.MethodGet && query.Get("list-type") == "2":
		return m.list(query.Get("prefix")), nil
	case query.Has("tagging"):
		return m.tagging(req, key), nil
	}
	obj, ok := m.objects[key]
	switch req.Method {
	case http.MethodHead:
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, objectHeaders(obj), nil), nil
	case http.MethodGet:
		if !ok {
			return respond(http.StatusNotFound, nil, []byte(errorXML("NoSuchKey"))), nil
		}
		return respond(http.StatusOK, objectHeaders(obj), obj.body), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		if !ok {
			m.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		}
		h := http.Header{}
		h.Set("ETag", `"etag"`)
		return respond(http.StatusOK, h, nil), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (m *fakeBucket) tagging(req *http.Request, key string) *http.Response {
	obj, ok := m.objects[key]
	if !ok {
		return respond(http.StatusNotFound, nil, []byte(errorXML("NoSuchKey")))
	}
	switch req.Method {
	case http.MethodPut:
		if m.denyTags {
			return respond(http.StatusForbidden, nil, []byte(errorXML("AccessDenied")))
		}
		obj.tags = map[string]string{LockTag: "true"}
		m.objects[key] = obj
		return respond(http.StatusOK, nil, nil)
	case http.MethodGet:
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><Tagging><TagSet>`)
		keys := make([]string, 0, len(obj.tags))
		for k := range obj.tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Tag><Key>%s</Key><Value>%s</Value></Tag>", k, obj.tags[k])
		}
		b.WriteString(`</TagSet></Tagging>`)
		return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
	}
	return respond(http.StatusNotImplemented, nil, nil)
}

func (m *fakeBucket) list(prefix string) *http.Response {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.objects[k].body))
	}
	b.WriteString(`</ListBucketResult>`)
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func objectHeaders(obj fakeObject) http.Header {
	h := http.Header{}
	h.Set("Content-Length", strconv.Itoa(len(obj.body)))
	h.Set("Content-Type", obj.contentType)
	h.Set("ETag", `"etag123"`)
	h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	if len(obj.tags) > 0 {
		h.Set("X-Amz-Tagging-Count", strconv.Itoa(len(obj.tags)))
	}
	return h
}

func errorXML(code string) string {
	return `<?xml version="1.0"?><Error><Code>` + code + `</Code><Message>` + code + `</Message></Error>`
}

func respond(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	if body != nil && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/xml")
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader(body))}
}

// decodeChunked unwraps a single-chunk aws-chunked payload: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 || parts[2] != "0" {
		return nil, false
	}
	sizeHex := parts[0]
	if i := strings.IndexByte(sizeHex, ';'); i >= 0 {
		sizeHex = sizeHex[:i]
	}
	size, err := strconv.ParseInt(sizeHex, 16, 64)
	if err != nil || size != int64(len(parts[1])) {
		return nil, false
	}
	return []byte(parts[1]), true
}
