package proxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHostLine(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantHost string
		wantOK   bool
	}{
		{"blank", "", "", false},
		{"whitespace only", "   \t  ", "", false},
		{"comment only", "# nothing here", "", false},
		{"bare hostname", "ads.example", "ads.example", true},
		{"uppercased", "ADS.Example", "ads.example", true},
		{"loopback v4 prefix", "127.0.0.1 ads.example", "ads.example", true},
		{"loopback v6 prefix", "::1 ads.example", "ads.example", true},
		{"no-route prefix", "0.0.0.0 ads.example", "ads.example", true},
		{"trailing comment", "ads.example # block this", "ads.example", true},
		{"inner whitespace rejected", "ads.example extra.example", "", false},
		{"trailing whitespace stripped", "ads.example   \r\n", "ads.example", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			host, ok := parseHostLine(tc.line)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantHost, host)
		})
	}
}

func TestReadHostFilePreservesIngestedHostsAfterMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.txt")
	content := "first.example\nmalformed extra.example\nsecond.example\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	var got []string
	err := readHostFile(path, func(host string) {
		got = append(got, host)
	})

	require.NoError(t, err)
	require.Equal(t, []string{"first.example", "second.example"}, got)
}

func TestReadHostFileMissingFile(t *testing.T) {
	err := readHostFile("/nonexistent/path/hosts.txt", func(string) {})
	require.Error(t, err)
}

func TestIsOpenableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hosts.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.True(t, isOpenableFile(path))
	require.False(t, isOpenableFile(dir))
	require.False(t, isOpenableFile("literal.hostname.example"))
}
