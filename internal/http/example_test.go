package http_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logsieve/internal/config"
	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
	httpserver "github.com/fyrsmithlabs/logsieve/internal/http"
	"github.com/fyrsmithlabs/logsieve/internal/pipeline"
)

// ExampleServer posts newline-delimited records to the ingest endpoint and
// reads them back from the sink with the password field masked.
func ExampleServer() {
	cfg := config.NewDefaultConfig()
	cfg.Dispatch.Async = false
	sink := dispatch.NewMemorySink()

	p, err := pipeline.New(cfg, sink)
	if err != nil {
		panic(err)
	}
	if err := p.Start(context.Background()); err != nil {
		panic(err)
	}
	defer p.Shutdown(context.Background())

	server, err := httpserver.NewServer(p, zap.NewNop(), nil)
	if err != nil {
		panic(err)
	}

	body := `{"level":"warn","msg":"login failed","password":"hunter2"}` + "\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(body))
	req.Header.Set("Content-Type", httpserver.MIMEApplicationNDJSON)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	fmt.Println(rec.Code)
	for _, r := range sink.Records() {
		if r.Message == "login failed" {
			pw, _ := r.Fields.Get("password")
			fmt.Println("password", pw)
		}
	}
	// Output:
	// 202
	// password [REDACTED]
}
