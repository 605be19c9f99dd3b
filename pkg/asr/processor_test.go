package asr

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

func TestProcessResultsWritesDatedArtifacts(t *testing.T) {
	config := models.NewDefaultConfig()
	config.OutputFolder = t.TempDir()
	config.ExportSRT = true
	config.DumpRaw = true

	processor := NewASRProcessor(config)
	processor.now = func() time.Time {
		return time.Date(2024, 5, 1, 8, 30, 15, 0, time.Local)
	}

	raw := ResultRecord{"text": "你好。再见！", "key": "a"}
	segments := []models.DataSegment{
		{Text: "你好。", StartTime: 0, EndTime: 1},
		{Text: "再见！", StartTime: 1.1, EndTime: 2},
	}

	files, err := processor.ProcessResults(segments, "/audio/a.wav", raw)
	require.NoError(t, err)

	dir := filepath.Join(config.OutputFolder, "2024-05-01", "08-30-15")
	assert.Equal(t, filepath.Join(dir, "segments.json"), files["json"])
	assert.Equal(t, filepath.Join(dir, "transcript.txt"), files["txt"])
	assert.Equal(t, filepath.Join(dir, "subtitles.srt"), files["srt"])
	assert.Equal(t, filepath.Join(dir, RawFileName), files["raw"])
	for _, path := range files {
		assert.True(t, utils.CheckFileExists(path), path)
	}

	// 同一秒内再次输出不会覆盖
	files2, err := processor.ProcessResults(segments, "/audio/b.wav", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir+"-2", "segments.json"), files2["json"])
	_, hasRaw := files2["raw"]
	assert.False(t, hasRaw)
}

func TestProcessResultsRespectsSwitches(t *testing.T) {
	config := models.NewDefaultConfig()
	config.OutputFolder = t.TempDir()
	config.ExportJSON = false
	config.ExportTXT = true
	config.ExportSRT = true

	files, err := NewASRProcessor(config).ProcessResults(nil, "/audio/a.wav", nil)
	require.NoError(t, err)

	// 没有段落时不写字幕
	assert.Len(t, files, 1)
	assert.Contains(t, files, "txt")
}

func TestEnsureOutputDirClaimsDistinctDirsConcurrently(t *testing.T) {
	config := models.NewDefaultConfig()
	config.OutputFolder = t.TempDir()

	processor := NewASRProcessor(config)
	processor.now = func() time.Time {
		return time.Date(2024, 5, 1, 8, 30, 15, 0, time.Local)
	}

	const workers = 8
	dirs := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir, err := processor.ensureOutputDir()
			assert.NoError(t, err)
			dirs[i] = dir
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, dir := range dirs {
		assert.False(t, seen[dir], "目录被重复使用: %s", dir)
		seen[dir] = true
		assert.True(t, utils.CheckDirExists(dir))
	}
	assert.True(t, seen[filepath.Join(config.OutputFolder, "2024-05-01", "08-30-15")])
}
