package watcher

import (
	"path/filepath"
	"sync"

	"github.com/fatih/color"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/adapters"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// 排队等待转写的文件数上限
const queueSize = 256

// ResultCallback 每个文件处理结束后调用
type ResultCallback func(filePath string, result *models.Result, err error)

// MediaFileHandler 把新出现的媒体文件排队，逐个交给处理器转写
type MediaFileHandler struct {
	processor adapters.MediaProcessor
	onResult  ResultCallback

	queue    chan string
	pending  map[string]bool
	mutex    sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewMediaFileHandler 创建处理器并启动后台队列
func NewMediaFileHandler(processor adapters.MediaProcessor, onResult ResultCallback) *MediaFileHandler {
	h := &MediaFileHandler{
		processor: processor,
		onResult:  onResult,
		queue:     make(chan string, queueSize),
		pending:   make(map[string]bool),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go h.worker()
	return h
}

// OnFileCreated 新文件入队，已处理或已在队列中的文件被忽略
func (h *MediaFileHandler) OnFileCreated(filePath string) {
	if h.processor.IsRecognizedFile(filePath) {
		utils.Debug("文件已转写过，跳过: %s", filePath)
		return
	}

	h.mutex.Lock()
	if h.pending[filePath] {
		h.mutex.Unlock()
		return
	}
	h.pending[filePath] = true
	h.mutex.Unlock()

	select {
	case h.queue <- filePath:
	default:
		h.mutex.Lock()
		delete(h.pending, filePath)
		h.mutex.Unlock()
		utils.Warn("转写队列已满，忽略文件: %s", filePath)
	}
}

// OnFileModified 写入完成后会再次收到 OnFileCreated，这里不处理
func (h *MediaFileHandler) OnFileModified(filePath string) {}

// OnFileDeleted 文件被删除时取消排队
func (h *MediaFileHandler) OnFileDeleted(filePath string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.pending, filePath)
}

// OnFileRenamed 已转写过的文件沿用原记录，排队中的文件改为处理新路径
func (h *MediaFileHandler) OnFileRenamed(oldPath, newPath string) {
	h.mutex.Lock()
	wasPending := h.pending[oldPath]
	delete(h.pending, oldPath)
	h.mutex.Unlock()

	h.processor.UpdateRecordOnRename(oldPath, newPath)
	if wasPending {
		utils.Debug("排队中的文件被改名: %s -> %s", oldPath, newPath)
	}
	h.OnFileCreated(newPath)
}

// Stop 停止队列，等待正在处理的文件结束
func (h *MediaFileHandler) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
	<-h.done
}

func (h *MediaFileHandler) worker() {
	defer close(h.done)
	for {
		select {
		case <-h.stopChan:
			return
		case filePath := <-h.queue:
			h.handle(filePath)
		}
	}
}

func (h *MediaFileHandler) handle(filePath string) {
	h.mutex.Lock()
	queued := h.pending[filePath]
	h.mutex.Unlock()
	if !queued {
		// 排队期间被删除
		return
	}

	result, err := h.processor.ProcessFile(filePath)

	h.mutex.Lock()
	delete(h.pending, filePath)
	h.mutex.Unlock()

	name := filepath.Base(filePath)
	if err != nil {
		color.Red("转写失败: %s - %v", name, err)
		utils.Error("转写失败 %s: %v", filePath, err)
	} else {
		color.Green("转写完成: %s (%d 段，用时 %s)", name, result.SegmentCount,
			utils.FormatTimeDuration(float64(result.ProcessTimeMs)/1000))
	}

	if h.onResult != nil {
		h.onResult(filePath, result, err)
	}
}
