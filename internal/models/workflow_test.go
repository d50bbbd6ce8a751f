package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONBScan(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  JSONB
	}{
		{name: "bytes", value: []byte(`{"superseded_by":"abc"}`), want: JSONB{"superseded_by": "abc"}},
		{name: "text", value: `{"rejection":true}`, want: JSONB{"rejection": true}},
		{name: "null", value: nil, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j JSONB
			require.NoError(t, j.Scan(tt.value))
			assert.Equal(t, tt.want, j)
		})
	}

	var j JSONB
	assert.Error(t, j.Scan(42))
}
