package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractProperties(t *testing.T) {
	t.Parallel()

	input := "Address,Postcode\n" +
		"23 Banavie Road, G11 5AW\n" +
		"45 Dumbarton Road, g11 6aw\n" +
		"23 Banavie Road again, G11 5AW\n" +
		"Flat 2/1 99 Hyndland Street,G116AW\n" +
		"no postcode on this line\n"

	props := ExtractProperties(input)

	require.Len(t, props, 2)
	assert.Equal(t, "G11 5AW", props[0].Postcode)
	assert.Equal(t, "23 Banavie Road, G11 5AW", props[0].Address)
	assert.Equal(t, "G11 6AW", props[1].Postcode)
}

func TestExtractPropertiesPreservesFirstSeenOrder(t *testing.T) {
	t.Parallel()

	input := "header\nEC1A 1BB one\nG1 1AA two\nEC1A 1BB dup\nSW1A 2AA three\n"
	props := ExtractProperties(input)

	require.Len(t, props, 3)
	assert.Equal(t, "EC1A 1BB", props[0].Postcode)
	assert.Equal(t, "G1 1AA", props[1].Postcode)
	assert.Equal(t, "SW1A 2AA", props[2].Postcode)
}

func TestExtractPropertiesEmptyInput(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ExtractProperties(""))
	assert.Empty(t, ExtractProperties("Postcode,Address\n"))
	assert.Empty(t, ExtractProperties("just a header line"))
}

func TestExtractPropertiesStripsBOM(t *testing.T) {
	t.Parallel()

	input := "\uFEFFheader\n10 Downing Street, SW1A 2AA\n"
	props := ExtractProperties(input)

	require.Len(t, props, 1)
	assert.Equal(t, "SW1A 2AA", props[0].Postcode)
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"g115aw", "G11 5AW"},
		{"G11  5AW", "G11 5AW"},
		{"ec1a1bb", "EC1A 1BB"},
		{"G1 1AA", "G1 1AA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonicalize(tt.in), tt.in)
	}
}

func TestReadUploadUTF8Passthrough(t *testing.T) {
	t.Parallel()

	got, err := ReadUpload(strings.NewReader("header\n23 Banavie Road, G11 5AW\n"))
	require.NoError(t, err)
	assert.Contains(t, got, "G11 5AW")
}

func TestReadUploadWindows1252(t *testing.T) {
	t.Parallel()

	// 0x92 is a right single quote in Windows-1252 and invalid as UTF-8.
	raw := []byte("header\nSt James\x92 Court, SW1A 2AA\n")
	got, err := ReadUpload(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Contains(t, got, "’")

	props := ExtractProperties(got)
	require.Len(t, props, 1)
	assert.Equal(t, "SW1A 2AA", props[0].Postcode)
}
