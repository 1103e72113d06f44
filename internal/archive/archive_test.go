package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"qbwc-sync/internal/config"
)

func TestKeyLayout(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 5, time.UTC)
	got := Key("abc", "Vendor", at)
	want := "2024/03/01/abc/Vendor-1709287200000000005.xml"
	if got != want {
		t.Fatalf("expected %s got %s", want, got)
	}
	if k := Key("../../etc", "Vendor", at); filepath.IsAbs(k) || k[:2] == ".." {
		t.Fatalf("key must stay relative, got %s", k)
	}
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	arc := NewLocal(dir)

	loc, err := arc.Store(context.Background(), "2024/03/01/s1/Vendor-1.xml", []byte("<QBXML/>"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if loc != filepath.Join(dir, "2024", "03", "01", "s1", "Vendor-1.xml") {
		t.Fatalf("unexpected location %s", loc)
	}
	data, err := os.ReadFile(loc)
	if err != nil || string(data) != "<QBXML/>" {
		t.Fatalf("unexpected contents %q err=%v", data, err)
	}
}

func TestS3Store(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		reqURL string
		body   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method = r.Method
		reqURL = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(srv.URL),
		UsePathStyle:               true,
		Credentials:                aws.AnonymousCredentials{},
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	})
	arc := NewS3(client, "responses")

	loc, err := arc.Store(context.Background(), "2024/03/01/s1/Item-1.xml", []byte("<QBXML/>"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if loc != "s3://responses/2024/03/01/s1/Item-1.xml" {
		t.Fatalf("unexpected location %s", loc)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || reqURL != "/responses/2024/03/01/s1/Item-1.xml" {
		t.Fatalf("unexpected request %s %s", method, reqURL)
	}
	if string(body) != "<QBXML/>" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestNewPicksBackend(t *testing.T) {
	ctx := context.Background()
	arc, err := New(ctx, config.Config{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := arc.(Nop); !ok {
		t.Fatalf("expected nop archive, got %T", arc)
	}

	arc, _ = New(ctx, config.Config{ArchiveDir: t.TempDir()})
	if _, ok := arc.(*Local); !ok {
		t.Fatalf("expected local archive, got %T", arc)
	}
}
