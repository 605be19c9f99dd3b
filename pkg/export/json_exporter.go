package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// JSONFileName 段落JSON文件名
const JSONFileName = "segments.json"

// TranscriptResult 表示整个转写结果
type TranscriptResult struct {
	GeneratedAt string               `json:"generated_at"`
	AudioPath   string               `json:"audio_path,omitempty"`
	FullText    string               `json:"full_text"` // 合并后的完整文本
	Segments    []models.DataSegment `json:"segments"`
}

// JSONExporter 负责将识别结果导出为JSON文件
type JSONExporter struct {
	OutputFolder string
	now          func() time.Time
}

// NewJSONExporter 创建一个新的JSON导出器
func NewJSONExporter(outputFolder string) *JSONExporter {
	return &JSONExporter{
		OutputFolder: outputFolder,
		now:          time.Now,
	}
}

// GenerateJSONContent 根据数据段生成TranscriptResult结构
func (e *JSONExporter) GenerateJSONContent(segments []models.DataSegment, audioPath string) TranscriptResult {
	now := time.Now
	if e.now != nil {
		now = e.now
	}

	result := TranscriptResult{
		GeneratedAt: now().Format("2006-01-02T15:04:05"),
		AudioPath:   audioPath,
		Segments:    make([]models.DataSegment, 0, len(segments)),
	}

	var fullText strings.Builder
	for _, segment := range segments {
		fullText.WriteString(segment.Text)
		result.Segments = append(result.Segments, segment)
	}
	result.FullText = fullText.String()

	return result
}

// ExportJSON 导出JSON文件，保留非ASCII字符
func (e *JSONExporter) ExportJSON(segments []models.DataSegment, audioPath string) (string, error) {
	outputFile := filepath.Join(e.OutputFolder, JSONFileName)
	if err := utils.SaveJSONFile(outputFile, e.GenerateJSONContent(segments, audioPath)); err != nil {
		return "", fmt.Errorf("写入JSON文件失败: %w", err)
	}

	utils.Info("已导出JSON文件: %s", outputFile)
	return outputFile, nil
}
