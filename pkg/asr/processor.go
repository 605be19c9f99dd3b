package asr

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/export"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// RawFileName 原始识别结果的转储文件名
const RawFileName = "raw.json"

// ASRProcessor 处理识别结果和导出
type ASRProcessor struct {
	Config *models.Config
	now    func() time.Time
}

// NewASRProcessor 创建新的ASR处理器
func NewASRProcessor(config *models.Config) *ASRProcessor {
	return &ASRProcessor{
		Config: config,
		now:    time.Now,
	}
}

// ProcessResults 把一次转写的产物写入按日期和时间命名的输出目录
// 返回值的键为 json/txt/srt/raw，只包含实际写出的文件
func (p *ASRProcessor) ProcessResults(segments []models.DataSegment, audioPath string, raw ResultRecord) (map[string]string, error) {
	outputDir, err := p.ensureOutputDir()
	if err != nil {
		return nil, err
	}
	utils.Info("输出目录: %s", outputDir)

	outputFiles := make(map[string]string)

	if p.Config.ExportJSON {
		path, err := export.NewJSONExporter(outputDir).ExportJSON(segments, audioPath)
		if err != nil {
			return outputFiles, err
		}
		outputFiles["json"] = path
	}

	if p.Config.ExportTXT {
		path, err := export.NewTextExporter(outputDir).ExportText(segments)
		if err != nil {
			return outputFiles, err
		}
		outputFiles["txt"] = path
	}

	// 字幕和原始结果不影响主产物，失败只记录警告
	if p.Config.ExportSRT && len(segments) > 0 {
		path, err := export.NewSRTExporter(outputDir).ExportSRT(segments)
		if err != nil {
			utils.Warn("导出SRT字幕失败: %v", err)
		} else {
			outputFiles["srt"] = path
		}
	}

	if p.Config.DumpRaw && raw != nil {
		path := filepath.Join(outputDir, RawFileName)
		if err := utils.SaveJSONFile(path, raw); err != nil {
			utils.Warn("转储原始结果失败: %v", err)
		} else {
			utils.Info("原始结果已转储: %s", path)
			outputFiles["raw"] = path
		}
	}

	return outputFiles, nil
}

// ensureOutputDir 创建 {输出目录}/{YYYY-MM-DD}/{HH-MM-SS}，同一秒内重复时追加序号
func (p *ASRProcessor) ensureOutputDir() (string, error) {
	now := p.now()
	base := filepath.Join(p.Config.OutputFolder, now.Format("2006-01-02"), now.Format("15-04-05"))

	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return "", utils.NewError(utils.KindTransientIO, "创建输出目录失败", err)
	}

	// Mkdir 成功才算占用该目录，并发导出不会写进同一个目录
	dir := base
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", utils.NewError(utils.KindTransientIO, "创建输出目录失败", err)
		}
		dir = fmt.Sprintf("%s-%d", base, i)
	}
}
