package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// SRTFileName 字幕文件名
const SRTFileName = "subtitles.srt"

// SRTExporter 负责将识别结果导出为SRT字幕文件
type SRTExporter struct {
	OutputFolder string
}

// NewSRTExporter 创建一个新的SRT导出器
func NewSRTExporter(outputFolder string) *SRTExporter {
	return &SRTExporter{
		OutputFolder: outputFolder,
	}
}

// FormatSRTTime 将秒数格式化为 HH:MM:SS,mmm，四舍五入到毫秒
func FormatSRTTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	hours := totalMs / 3600000
	totalMs %= 3600000
	minutes := totalMs / 60000
	totalMs %= 60000
	secs := totalMs / 1000
	millis := totalMs % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}

// GenerateSRTContent 生成SRT格式内容，序号从1开始连续编号
func (e *SRTExporter) GenerateSRTContent(segments []models.DataSegment) string {
	var sb strings.Builder

	index := 0
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		index++
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			index, FormatSRTTime(segment.StartTime), FormatSRTTime(segment.EndTime), text)
	}

	return sb.String()
}

// ExportSRT 导出SRT格式字幕文件
func (e *SRTExporter) ExportSRT(segments []models.DataSegment) (string, error) {
	if err := os.MkdirAll(e.OutputFolder, 0755); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	outputFile := filepath.Join(e.OutputFolder, SRTFileName)
	if err := os.WriteFile(outputFile, []byte(e.GenerateSRTContent(segments)), 0644); err != nil {
		return "", fmt.Errorf("写入SRT文件失败: %w", err)
	}

	utils.Info("已导出SRT字幕: %s", outputFile)
	return outputFile, nil
}
