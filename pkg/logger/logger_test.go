package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeEnv map[string]string

func (f fakeEnv) Getenv(key string) string { return f[key] }

func TestUnstructuredLogsWithEnv(t *testing.T) {
	tests := []struct {
		name string
		env  fakeEnv
		want bool
	}{
		{"unset defaults to true", fakeEnv{}, true},
		{"explicit false", fakeEnv{unstructuredLogsEnvVar: "false"}, false},
		{"explicit true", fakeEnv{unstructuredLogsEnvVar: "true"}, true},
		{"invalid value defaults to true", fakeEnv{unstructuredLogsEnvVar: "not-a-bool"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unstructuredLogsWithEnv(tt.env))
		})
	}
}

func TestInitializeWithEnvSwapsSingleton(t *testing.T) {
	before := Get()
	InitializeWithEnv(fakeEnv{unstructuredLogsEnvVar: "false"})
	after := Get()
	assert.NotSame(t, before, after)
}

func TestGetNeverReturnsNil(t *testing.T) {
	assert.NotNil(t, Get())
}

func TestPanicLogsThenPanics(t *testing.T) {
	assert.PanicsWithValue(t, "boom", func() { Panic("boom") })
}

func TestPanicfFormatsThenPanics(t *testing.T) {
	assert.PanicsWithValue(t, "boom 42", func() { Panicf("boom %d", 42) })
}

func TestDPanicDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() { DPanic("should not panic") })
}

func TestWithFieldsAttachesLoggerToContext(t *testing.T) {
	ctx := WithFields(context.Background(), "tenant_id", "t1")
	l := FromContext(ctx)
	assert.NotNil(t, l)
	assert.NotSame(t, Get(), l)
}
