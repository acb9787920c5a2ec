package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyFile(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
		want []string
	}{
		{
			name: "yaml list",
			file: "keys.yaml",
			data: "keys:\n  - sk-one\n  - ' sk-two '\n  - ''\n",
			want: []string{"sk-one", "sk-two"},
		},
		{
			name: "yml extension",
			file: "KEYS.YML",
			data: "keys: [sk-one]\n",
			want: []string{"sk-one"},
		},
		{
			name: "text lines with comments",
			file: "keys.txt",
			data: "# exported keys\nsk-one\n\n  sk-two  \r\n",
			want: []string{"sk-one", "sk-two"},
		},
		{
			name: "empty text",
			file: "keys",
			data: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeyFile(tt.file, []byte(tt.data))

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKeyFile_InvalidYAML(t *testing.T) {
	_, err := parseKeyFile("keys.yaml", []byte("keys: [unterminated"))

	require.Error(t, err)
}

func TestImportAndScheduleCommands(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KEYPANEL_DB_PATH", filepath.Join(t.TempDir(), "keypanel.db"))
	t.Setenv("KEYPANEL_LOG_LEVEL", "error")

	require.NoError(t, os.WriteFile("keys.txt", []byte("sk-import-111111\nsk-import-222222\nsk-import-111111\n"), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"import", "keys.txt"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "Processed 3 keys. Added: 2, Failed: 1")

	out.Reset()
	root = newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"schedule", "-n", "3", "--mode", "scheduled", "--cron", "0 0 * * * *", "--timezone", "UTC"})

	require.NoError(t, root.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `mode=scheduled cron="0 0 * * * *" timezone=UTC`, lines[0])
	for _, l := range lines[1:] {
		assert.True(t, strings.HasSuffix(l, ":00:00Z"), l)
	}
}
