package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name string
		want func(*testing.T)
	}{
		{
			name: "config file initially does not exist",
			want: func(t *testing.T) {
				_, err := os.Open(configFilePath)
				require.ErrorIs(t, err, os.ErrNotExist)
			},
		},
		{
			name: "non-interactive; creates config file but reports the missing bucket",
			want: func(t *testing.T) {
				cfg, err := Get()
				require.ErrorContains(t, err, "bucket")
				require.Equal(t, defaultLocalDir, cfg.LocalDir)
				require.Equal(t, BackendS3, cfg.Backend)

				_, err = os.Stat(configFilePath)
				require.NoError(t, err)
			},
		},
		{
			name: "non-interactive; config exists",
			want: func(t *testing.T) {
				path := t.TempDir()
				persisted := validConfig(path)
				require.NoError(t, persisted.persist())

				cfg, err := Get()
				require.NoError(t, err)
				require.Equal(t, path, cfg.LocalDir)
				require.Equal(t, "some-bucket", cfg.Bucket)
			},
		},
		{
			name: "missing tunables fall back to defaults",
			want: func(t *testing.T) {
				persisted := validConfig(t.TempDir())
				persisted.Workers = 0
				persisted.DebounceWindow = 0
				require.NoError(t, persisted.persist())

				cfg, err := Get()
				require.NoError(t, err)
				require.Equal(t, defaultWorkers, cfg.Workers)
				require.Equal(t, defaultDebounceWindow, cfg.DebounceWindow)
			},
		},
		{
			name: "unknown backend is rejected",
			want: func(t *testing.T) {
				persisted := validConfig(t.TempDir())
				persisted.Backend = "ftp"
				require.NoError(t, persisted.persist())

				_, err := Get()
				require.ErrorContains(t, err, "unknown backend")
			},
		},
		{
			name: "empty bucket is rejected",
			want: func(t *testing.T) {
				persisted := validConfig(t.TempDir())
				persisted.Bucket = ""
				require.NoError(t, persisted.persist())

				_, err := Get()
				require.ErrorContains(t, err, "bucket")
			},
		},
		{
			name: "relative local dir is rejected",
			want: func(t *testing.T) {
				persisted := validConfig(t.TempDir())
				persisted.LocalDir = "some/relative/path"
				require.NoError(t, persisted.persist())

				_, err := Get()
				require.ErrorContains(t, err, "absolute")
			},
		},
		{
			name: "broken ignore pattern is rejected",
			want: func(t *testing.T) {
				persisted := validConfig(t.TempDir())
				persisted.IgnorePatterns = []string{"[unclosed"}
				require.NoError(t, persisted.persist())

				_, err := Get()
				require.ErrorContains(t, err, "ignore pattern")
			},
		},
		{
			name: "interactive; reads answers from input",
			want: func(t *testing.T) {
				inputFile = fileWithTextContent(t, "/some/path\ns3\nmy-bucket\nbackup\neu-central-1\n")
				cfg, err := GetInteractive()
				require.NoError(t, err)
				require.Equal(t, "/some/path", cfg.LocalDir)
				require.Equal(t, "my-bucket", cfg.Bucket)
				require.Equal(t, "backup", cfg.Prefix)
				require.Equal(t, "eu-central-1", cfg.Region)
			},
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				tempDirSetup(t)
				tt.want(t)
			},
		)
	}
}

func validConfig(localDir string) Config {
	return Config{
		LocalDir:       localDir,
		Backend:        BackendS3,
		Bucket:         "some-bucket",
		Prefix:         "backup",
		Region:         "eu-central-1",
		Workers:        2,
		MaxAttempts:    3,
		RetryBase:      10 * time.Millisecond,
		DebounceWindow: 20 * time.Millisecond,
		GraceDeadline:  time.Second,
		IgnorePatterns: []string{"*.tmp"},
	}
}

func tempDirSetup(t *testing.T) {
	tempDir := t.TempDir()
	configFilePath = filepath.Join(tempDir, "config.toml")
}

func fileWithTextContent(t *testing.T, text string) *os.File {
	tempDir := t.TempDir()
	f, err := os.Create(filepath.Join(tempDir, "file.txt"))
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)

	ff, _ := os.Open(f.Name())
	return ff
}
