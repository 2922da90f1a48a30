package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newTestRedactingEncoder(t *testing.T, cfg RedactionConfig) *RedactingEncoder {
	t.Helper()
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), cfg)
	require.NoError(t, err)
	return enc
}

func encodeFields(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Time: time.Unix(0, 0), Message: "m"}, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("api_key", "sk-1234567890abcdef")
	assert.Equal(t, "[REDACTED:19]", f.String)
}

func TestRedactingEncoder_FieldNames(t *testing.T) {
	enc := newTestRedactingEncoder(t, RedactionConfig{Enabled: true})

	out := encodeFields(t, enc,
		zap.String("password", "hunter2"),
		zap.ByteString("token", []byte("tok")),
		zap.Binary("secret", []byte{1, 2}),
		zap.Any("authorization", map[string]string{"k": "v"}),
		zap.Strings("api_key", []string{"a"}),
		zap.String("user", "alice"),
	)

	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, `"tok"`)
	assert.NotContains(t, out, `"k":"v"`)
	assert.Contains(t, out, `"password":"[REDACTED]"`)
	assert.Contains(t, out, `"api_key":"[REDACTED]"`)
	assert.Contains(t, out, `"user":"alice"`)
}

func TestRedactingEncoder_ValuePatterns(t *testing.T) {
	enc := newTestRedactingEncoder(t, RedactionConfig{Enabled: true})

	out := encodeFields(t, enc,
		zap.String("detail", "card 4111111111111111"),
		zap.String("contact", "ops@example.com"),
	)

	assert.NotContains(t, out, "4111111111111111")
	assert.NotContains(t, out, "ops@example.com")
	assert.Contains(t, out, `"detail":"card [REDACTED:card_number]"`)
	assert.Contains(t, out, `"contact":"[REDACTED:email]"`)
}

func TestRedactingEncoder_ByteStringValues(t *testing.T) {
	enc := newTestRedactingEncoder(t, RedactionConfig{Enabled: true})

	out := encodeFields(t, enc, zap.ByteString("body", []byte("from ops@example.com")))
	assert.NotContains(t, out, "ops@example.com")
	assert.Contains(t, out, "from [REDACTED:email]")
}

func TestRedactingEncoder_ExtraConfig(t *testing.T) {
	enc := newTestRedactingEncoder(t, RedactionConfig{
		Enabled:  true,
		Fields:   []string{"employee"},
		Patterns: []string{`EMP-\d{6}`},
	})

	out := encodeFields(t, enc,
		zap.String("employee", "bob"),
		zap.String("note", "badge EMP-123456"),
	)

	assert.NotContains(t, out, "bob")
	assert.NotContains(t, out, "EMP-123456")
	assert.Contains(t, out, "[REDACTED:logging-0]")
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc := newTestRedactingEncoder(t, RedactionConfig{Enabled: false})

	out := encodeFields(t, enc, zap.String("password", "hunter2"))
	assert.Contains(t, out, "hunter2")
}

func TestRedactingEncoder_CloneKeepsRules(t *testing.T) {
	enc := newTestRedactingEncoder(t, RedactionConfig{Enabled: true})
	enc.AddString("password", "hunter2")

	clone := enc.Clone()
	out := encodeFields(t, clone, zap.String("secret", "s3"))
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, `"s3"`)
}

func TestNewRedactingEncoder_InvalidPattern(t *testing.T) {
	_, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}
