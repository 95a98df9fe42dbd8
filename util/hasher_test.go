package util

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const emptyBlake3 = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"

func TestSum_KnownVector(t *testing.T) {
	got := Sum(nil)
	assert.Equal(t, "blake3-"+emptyBlake3, got.String())
	assert.Equal(t, emptyBlake3[:12], got.Short())
}

func TestGetHash(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty input", input: ""},
		{name: "hello world", input: "hello world"},
		{name: "newline at end", input: "hello\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetHash(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, Sum([]byte(tt.input)), got)
		})
	}
}

func TestHasher_MatchesSum(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		parts := rapid.SliceOf(rapid.SliceOf(rapid.Byte())).Draw(t, "parts")
		h := NewHasher()
		var whole []byte
		for _, p := range parts {
			h.Write(p)
			whole = append(whole, p...)
		}
		if h.Digest() != Sum(whole) {
			t.Fatalf("streaming digest differs from one-shot digest for %d parts", len(parts))
		}
	})
}

func TestSum_DistinctContent(t *testing.T) {
	assert.NotEqual(t, Sum([]byte("hello ")), Sum([]byte("world")))
	assert.Equal(t, Sum([]byte("hello world")), Sum([]byte("hello world")))
	assert.False(t, Sum(nil).IsZero())
}

func TestParseDigest(t *testing.T) {
	valid := Sum([]byte("abc"))

	tests := []struct {
		name    string
		input   string
		want    Digest
		wantErr bool
	}{
		{name: "round trip", input: valid.String(), want: valid},
		{name: "missing algorithm", input: strings.TrimPrefix(valid.String(), "blake3-"), wantErr: true},
		{name: "wrong algorithm", input: "sha256-" + emptyBlake3, wantErr: true},
		{name: "short hex", input: "blake3-abcd", wantErr: true},
		{name: "not hex", input: "blake3-" + strings.Repeat("zz", DigestSize), wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDigest(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDigest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDigest_TextMarshaling(t *testing.T) {
	d := Sum([]byte("text"))
	text, err := d.MarshalText()
	require.NoError(t, err)

	var back Digest
	require.NoError(t, back.UnmarshalText(text))
	assert.True(t, back.Equal(d))
	assert.Error(t, back.UnmarshalText([]byte("nope")))
}

func TestGetHash_LargeInput(t *testing.T) {
	data := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7}, 128*1024)
	got, err := GetHash(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Sum(data), got)
}
