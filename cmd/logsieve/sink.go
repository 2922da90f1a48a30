package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/log"

	"github.com/fyrsmithlabs/logsieve/internal/config"
	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
)

// newSink builds the sink selected by cfg. stdout receives the stdout and
// console sinks; provider receives the otel sink.
func newSink(cfg config.SinkConfig, stdout io.Writer, provider log.LoggerProvider) (dispatch.Sink, error) {
	switch strings.ToLower(cfg.Type) {
	case config.SinkStdout, "":
		return dispatch.NewJSONSink(stdout), nil
	case config.SinkConsole:
		return dispatch.NewConsoleSink(stdout), nil
	case config.SinkFile:
		return dispatch.OpenFileSink(cfg.Path, cfg.Compress)
	case config.SinkNATS:
		var opts []nats.Option
		if cfg.NATS.Token.IsSet() {
			opts = append(opts, nats.Token(cfg.NATS.Token.Value()))
		}
		return dispatch.DialNATSSink(cfg.NATS.URL, cfg.NATS.Subject, opts...)
	case config.SinkOTel:
		return dispatch.NewOTelSink("logsieve", provider), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}
