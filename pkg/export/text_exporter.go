package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// TextFileName 纯文本转写文件名
const TextFileName = "transcript.txt"

// TextExporter 按 "[开始 --> 结束] 文本" 每行一段导出纯文本
type TextExporter struct {
	OutputFolder string
}

// NewTextExporter 创建一个新的文本导出器
func NewTextExporter(outputFolder string) *TextExporter {
	return &TextExporter{OutputFolder: outputFolder}
}

// GenerateTextContent 生成文本内容
func (e *TextExporter) GenerateTextContent(segments []models.DataSegment) string {
	var sb strings.Builder
	for _, segment := range segments {
		fmt.Fprintf(&sb, "[%s --> %s] %s\n",
			FormatSRTTime(segment.StartTime), FormatSRTTime(segment.EndTime), segment.Text)
	}
	return sb.String()
}

// ExportText 导出纯文本文件
func (e *TextExporter) ExportText(segments []models.DataSegment) (string, error) {
	if err := os.MkdirAll(e.OutputFolder, 0755); err != nil {
		return "", fmt.Errorf("创建输出目录失败: %w", err)
	}

	outputFile := filepath.Join(e.OutputFolder, TextFileName)
	if err := os.WriteFile(outputFile, []byte(e.GenerateTextContent(segments)), 0644); err != nil {
		return "", fmt.Errorf("写入文本文件失败: %w", err)
	}

	utils.Info("已导出文本: %s", outputFile)
	return outputFile, nil
}
