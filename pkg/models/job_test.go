package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCreatedJobID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"string uid", `{"uid":"abc"}`, "abc"},
		{"numeric jobUid", `{"jobUid":123}`, "123"},
		{"numeric id", `{"id":9007199254740993}`, "9007199254740993"},
		{"jobUid wins", `{"id":"c","uid":"b","jobUid":"a"}`, "a"},
		{"null skipped", `{"jobUid":null,"uid":42}`, "42"},
		{"empty string skipped", `{"jobUid":"","id":"x"}`, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := DecodeCreatedJobID([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestDecodeCreatedJobID_Errors(t *testing.T) {
	_, err := DecodeCreatedJobID([]byte(`{"status":"ok"}`))
	assert.Error(t, err)

	_, err = DecodeCreatedJobID([]byte(`{"id":{"nested":1}}`))
	assert.Error(t, err)

	_, err = DecodeCreatedJobID([]byte(`not json`))
	assert.Error(t, err)
}
