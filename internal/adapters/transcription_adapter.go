package adapters

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/asr"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// RecordFileName 已处理文件记录，保存在输出目录下
const RecordFileName = "processed_files.json"

// MediaProcessor 处理单个媒体文件
type MediaProcessor interface {
	ProcessFile(filePath string) (*models.Result, error)
	IsRecognizedFile(filePath string) bool
	UpdateRecordOnRename(oldPath, newPath string)
}

// TaskRunner 提交转写任务并等待结束
type TaskRunner interface {
	Submit(audioPath string, opts models.TranscribeOptions) (string, error)
	Wait(ctx context.Context, id string) (models.Task, error)
}

// ResultWriter 把转写结果写成文件
type ResultWriter interface {
	ProcessResults(segments []models.DataSegment, audioPath string, raw asr.ResultRecord) (map[string]string, error)
}

// TranscriptionAdapter 把任务管理器包装成逐个文件处理的接口，供批量和监听模式使用
type TranscriptionAdapter struct {
	runner  TaskRunner
	writer  ResultWriter
	options models.TranscribeOptions
	ctx     context.Context

	recordPath string
	mu         sync.Mutex
	processed  map[string]string // 文件路径 -> 任务ID
}

// NewTranscriptionAdapter 创建适配器，recordPath 为空时不持久化处理记录
func NewTranscriptionAdapter(ctx context.Context, runner TaskRunner, writer ResultWriter, opts models.TranscribeOptions, recordPath string) *TranscriptionAdapter {
	a := &TranscriptionAdapter{
		runner:     runner,
		writer:     writer,
		options:    opts,
		ctx:        ctx,
		recordPath: recordPath,
		processed:  make(map[string]string),
	}
	a.loadRecords()
	return a
}

// ProcessFile 提交任务，等待完成后导出结果
func (a *TranscriptionAdapter) ProcessFile(filePath string) (*models.Result, error) {
	start := time.Now()
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}

	taskID, err := a.runner.Submit(absPath, a.options)
	if err != nil {
		return nil, fmt.Errorf("提交转写任务失败: %w", err)
	}
	utils.WithField("task_id", taskID).Infof("开始转写: %s", filepath.Base(absPath))

	task, err := a.runner.Wait(a.ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("等待转写任务失败: %w", err)
	}
	if task.Status == models.TaskFailed {
		return nil, fmt.Errorf("转写失败: %s", task.Error)
	}

	var segments []models.DataSegment
	var raw asr.ResultRecord
	if task.Result != nil {
		segments = task.Result.Segments
		raw = task.Result.Raw
	}

	outputFiles, err := a.writer.ProcessResults(segments, absPath, raw)
	if err != nil {
		return nil, fmt.Errorf("导出结果失败: %w", err)
	}

	result := &models.Result{
		FilePath:      absPath,
		TaskID:        taskID,
		Model:         utils.GetStringValue(task.Metadata, "model", ""),
		OutputFiles:   outputFiles,
		SegmentCount:  len(segments),
		Degraded:      utils.GetBoolValue(task.Metadata, "degraded", false),
		ProcessTimeMs: time.Since(start).Milliseconds(),
	}
	fallback := 0.0
	if len(segments) > 0 {
		fallback = segments[len(segments)-1].EndTime * 1000
	}
	result.DurationMs = int64(utils.GetFloat64Value(task.Metadata, "duration_ms", fallback))

	a.markProcessed(absPath, taskID)
	return result, nil
}

// IsRecognizedFile 文件是否已经转写过
func (a *TranscriptionAdapter) IsRecognizedFile(filePath string) bool {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		absPath = filePath
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.processed[absPath]
	return ok
}

// UpdateRecordOnRename 文件改名后沿用原来的处理记录
func (a *TranscriptionAdapter) UpdateRecordOnRename(oldPath, newPath string) {
	if abs, err := filepath.Abs(oldPath); err == nil {
		oldPath = abs
	}
	if abs, err := filepath.Abs(newPath); err == nil {
		newPath = abs
	}

	a.mu.Lock()
	taskID, ok := a.processed[oldPath]
	if ok {
		delete(a.processed, oldPath)
		a.processed[newPath] = taskID
	}
	a.mu.Unlock()

	if ok {
		a.saveRecords()
	}
}

func (a *TranscriptionAdapter) markProcessed(path, taskID string) {
	a.mu.Lock()
	a.processed[path] = taskID
	a.mu.Unlock()
	a.saveRecords()
}

func (a *TranscriptionAdapter) loadRecords() {
	if a.recordPath == "" {
		return
	}

	data, err := utils.LoadJSONFile(a.recordPath, map[string]interface{}{})
	if err != nil {
		utils.Warn("读取处理记录失败，将重新开始记录: %v", err)
		return
	}

	records, _ := data.(map[string]interface{})
	a.mu.Lock()
	defer a.mu.Unlock()
	for path, value := range records {
		taskID, _ := value.(string)
		a.processed[path] = taskID
	}
	utils.Debug("已加载 %d 条处理记录", len(records))
}

func (a *TranscriptionAdapter) saveRecords() {
	if a.recordPath == "" {
		return
	}

	a.mu.Lock()
	snapshot := make(map[string]string, len(a.processed))
	for path, taskID := range a.processed {
		snapshot[path] = taskID
	}
	a.mu.Unlock()

	if err := utils.SaveJSONFile(a.recordPath, snapshot); err != nil {
		utils.Warn("保存处理记录失败: %v", err)
	}
}
