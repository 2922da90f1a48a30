package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/config"
	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
	"github.com/fyrsmithlabs/logsieve/internal/record"
	"github.com/fyrsmithlabs/logsieve/internal/telemetry"
)

func testRecord() record.Record {
	rec := record.New(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), zapcore.InfoLevel, "hello", record.F("k", "v"))
	rec.TraceID = "t-sink"
	return rec
}

func TestNewSink(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		var out bytes.Buffer
		s, err := newSink(config.SinkConfig{Type: config.SinkStdout}, &out, nil)
		require.NoError(t, err)
		require.NoError(t, s.Write(context.Background(), testRecord()))
		assert.Contains(t, out.String(), `"msg":"hello"`)
	})

	t.Run("console", func(t *testing.T) {
		var out bytes.Buffer
		s, err := newSink(config.SinkConfig{Type: "Console"}, &out, nil)
		require.NoError(t, err)
		require.NoError(t, s.Write(context.Background(), testRecord()))
		assert.Contains(t, out.String(), "hello")
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.ndjson")
		s, err := newSink(config.SinkConfig{Type: config.SinkFile, Path: path}, nil, nil)
		require.NoError(t, err)
		require.NoError(t, s.Write(context.Background(), testRecord()))
		require.NoError(t, s.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"trace_id":"t-sink"`)
	})

	t.Run("otel", func(t *testing.T) {
		tel := telemetry.NewTestTelemetry()
		s, err := newSink(config.SinkConfig{Type: config.SinkOTel}, nil, tel.LoggerProvider())
		require.NoError(t, err)
		assert.IsType(t, &dispatch.CoreSink{}, s)

		require.NoError(t, s.Write(context.Background(), testRecord()))
		logs := tel.LogRecords()
		require.Len(t, logs, 1)
		assert.Equal(t, "hello", logs[0].Body().AsString())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := newSink(config.SinkConfig{Type: "kafka"}, nil, nil)
		assert.Error(t, err)
	})
}

func TestNewSink_NATSToken(t *testing.T) {
	server, err := natsserver.NewServer(&natsserver.Options{
		Host:          "127.0.0.1",
		Port:          -1,
		NoLog:         true,
		NoSigs:        true,
		Authorization: "s3cret",
	})
	require.NoError(t, err)
	go server.Start()
	require.True(t, server.ReadyForConnections(5*time.Second))
	t.Cleanup(server.Shutdown)

	sub, err := nats.Connect(server.ClientURL(), nats.Token("s3cret"))
	require.NoError(t, err)
	defer sub.Close()
	msgs, err := sub.SubscribeSync("logsieve.records")
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	cfg := config.SinkConfig{
		Type: config.SinkNATS,
		NATS: config.NATSConfig{URL: server.ClientURL(), Subject: "logsieve.records", Token: "s3cret"},
	}
	s, err := newSink(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(context.Background(), testRecord()))
	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Close())

	msg, err := msgs.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "t-sink", msg.Header.Get(dispatch.HeaderTraceID))
}
