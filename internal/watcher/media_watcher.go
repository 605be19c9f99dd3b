package watcher

import (
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/adapters"
	"github.com/ccp-p/asr-media-cli/asr-service/internal/ui"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/scanner"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// DefaultDebounce 文件停止写入多久后开始转写
const DefaultDebounce = 3 * time.Second

// MediaWatcher 监听媒体目录，先补齐已有文件，再转写新出现的文件
type MediaWatcher struct {
	MediaFolder string
	Debounce    time.Duration

	scanner   *scanner.MediaScanner
	processor adapters.MediaProcessor
	handler   *MediaFileHandler
	monitor   *FolderMonitor
	stopFuncs []func()
}

// NewMediaWatcher 创建媒体目录监听器
func NewMediaWatcher(mediaFolder string, processor adapters.MediaProcessor, onResult ResultCallback) *MediaWatcher {
	return &MediaWatcher{
		MediaFolder: mediaFolder,
		Debounce:    DefaultDebounce,
		scanner:     scanner.NewMediaScanner(),
		processor:   processor,
		handler:     NewMediaFileHandler(processor, onResult),
	}
}

// Start 启动监听，tasks 和 progressManager 可以为空
func (w *MediaWatcher) Start(tasks TaskLister, progressManager *ui.ProgressManager) error {
	if err := utils.EnsureDirExists(w.MediaFolder); err != nil {
		return err
	}

	monitor, err := NewFolderMonitor(w.MediaFolder, w.scanner.Extensions(), w.handler, w.Debounce)
	if err != nil {
		return err
	}
	if err := monitor.Start(); err != nil {
		return err
	}
	w.monitor = monitor
	w.stopFuncs = append(w.stopFuncs, monitor.Stop)

	if tasks != nil && progressManager != nil {
		w.stopFuncs = append(w.stopFuncs, StartTaskMonitoring(tasks, progressManager))
	}

	// 补齐启动前已经存在的文件
	files, err := w.scanner.ScanDirectory(w.MediaFolder)
	if err != nil {
		utils.Warn("扫描媒体目录失败: %v", err)
	}
	for _, file := range w.scanner.FilterNewFiles(files, w.processor.IsRecognizedFile) {
		w.handler.OnFileCreated(file.Path)
	}

	utils.Info("媒体目录监听已启动: %s", w.MediaFolder)
	return nil
}

// Stop 停止监听并等待当前文件处理完成
func (w *MediaWatcher) Stop() {
	for i := len(w.stopFuncs) - 1; i >= 0; i-- {
		w.stopFuncs[i]()
	}
	w.stopFuncs = nil
	w.handler.Stop()
	utils.Info("媒体目录监听已停止")
}
