package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/chaincraft/internal/store"
)

func raw(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out
}

func TestDecodeDesignResult(t *testing.T) {
	tests := []struct {
		name    string
		data    []json.RawMessage
		want    *DesignResult
		field   string
		wantErr bool
	}{
		{
			name: "serialized state",
			data: raw(`"Title"`, `"Spec text"`, `"Q1?"`, `"{\"k\":1}"`),
			want: &DesignResult{Title: "Title", Specification: "Spec text", Questions: "Q1?", State: store.State{"k": float64(1)}},
		},
		{
			name: "object state and null title",
			data: raw(`null`, `"Spec"`, `""`, `{"game_title":"Moon Miner"}`),
			want: &DesignResult{Specification: "Spec", State: store.State{"game_title": "Moon Miner"}},
		},
		{
			name: "extra trailing fields ignored",
			data: raw(`"T"`, `"S"`, `"Q"`, `{}`, `"debug"`),
			want: &DesignResult{Title: "T", Specification: "S", Questions: "Q", State: store.State{}},
		},
		{name: "short tuple", data: raw(`"T"`, `"S"`), wantErr: true},
		{name: "empty tuple", data: nil, wantErr: true},
		{name: "numeric spec", data: raw(`"T"`, `42`, `"Q"`, `{}`), field: "specification", wantErr: true},
		{name: "list questions", data: raw(`"T"`, `"S"`, `["a"]`, `{}`), field: "questions", wantErr: true},
		{name: "array state", data: raw(`"T"`, `"S"`, `"Q"`, `[1]`), field: "state", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDesignResult("/submit_design_ui_input", tt.data)
			if tt.wantErr {
				var pe *ProtocolError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, tt.field, pe.Field)
				assert.Equal(t, "/submit_design_ui_input", pe.Endpoint)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeImageResult(t *testing.T) {
	tests := []struct {
		name    string
		data    []json.RawMessage
		want    *ImageResult
		wantErr bool
	}{
		{"url string", raw(`"ok"`, `"https://img.example/a.png"`), &ImageResult{Status: "ok", URL: "https://img.example/a.png"}, false},
		{"file object", raw(`"ok"`, `{"url":"https://x.hf.space/file=a.webp","path":"/tmp/a.webp"}`), &ImageResult{Status: "ok", URL: "https://x.hf.space/file=a.webp"}, false},
		{"file object path only", raw(`"ok"`, `{"path":"/tmp/a.webp"}`), &ImageResult{Status: "ok", URL: "/tmp/a.webp"}, false},
		{"null url", raw(`"failed"`, `null`), &ImageResult{Status: "failed"}, false},
		{"short", raw(`"ok"`), nil, true},
		{"bad url type", raw(`"ok"`, `7`), nil, true},
		{"bad status type", raw(`true`, `"u"`), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeImageResult("/generate_image", tt.data)
			if tt.wantErr {
				var pe *ProtocolError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		"/submit_design_ui_input: empty specification in result",
		(&EmptyResultError{Endpoint: "/submit_design_ui_input", Field: "specification"}).Error())
	assert.Equal(t,
		"/generate_image: no data received",
		(&StreamExhaustedError{Endpoint: "/generate_image"}).Error())
	assert.Contains(t,
		(&ProtocolError{Endpoint: "/x", Err: assert.AnError}).Error(),
		"malformed result")
	assert.False(t, IsUnavailable(&EmptyResultError{}))
}
