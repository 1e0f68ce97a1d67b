package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveModuleIDAliasPriority(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"module wins over module_id", map[string]any{"module": "a", "module_id": "b"}, "a"},
		{"module_id wins over id", map[string]any{"module_id": "b", "id": "c"}, "b"},
		{"id wins over device_id", map[string]any{"id": "c", "device_id": "d"}, "c"},
		{"device_id wins over device", map[string]any{"device_id": "d", "device": "e"}, "d"},
		{"device last", map[string]any{"device": "e"}, "e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveModuleID(tt.payload, ""))
		})
	}
}

func TestResolveModuleIDSkipsUnusableValues(t *testing.T) {
	payload := map[string]any{
		"module":    "   ",
		"module_id": true,
		"id":        7.0,
	}
	assert.Equal(t, "7", ResolveModuleID(payload, ""))
}

func TestResolveModuleIDNumberFormatting(t *testing.T) {
	assert.Equal(t, "42", ResolveModuleID(map[string]any{"module": 42.0}, ""))
	assert.Equal(t, "4.5", ResolveModuleID(map[string]any{"module": 4.5}, ""))
	assert.Equal(t, "9", ResolveModuleID(map[string]any{"module": int64(9)}, ""))
}

func TestResolveModuleIDFallback(t *testing.T) {
	assert.Equal(t, "unknown", ResolveModuleID(nil, ""))
	assert.Equal(t, "unknown", ResolveModuleID(map[string]any{}, ""))
	assert.Equal(t, "roller-1", ResolveModuleID(map[string]any{}, "roller-1"))
	assert.Equal(t, "roller-1", ResolveModuleID(map[string]any{"module": ""}, "roller-1"))
}

func TestResolveModuleIDTrimsWhitespace(t *testing.T) {
	assert.Equal(t, "roller-1", ResolveModuleID(map[string]any{"module": "  roller-1 "}, ""))
}
