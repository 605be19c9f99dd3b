package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// CancelledMessage 用户取消下载后写入状态的错误信息
const CancelledMessage = "download cancelled by user"

// DefaultStreamInterval 状态流的默认轮询间隔
const DefaultStreamInterval = 500 * time.Millisecond

// 每下载这么多字节记录一次日志
const logEveryBytes = 10 * 1024 * 1024

// ErrAlreadyDownloading 同一个模型已有下载在进行
var ErrAlreadyDownloading = errors.New("模型正在下载中")

// ProgressTracker 单个文件的进度回调，Update 接收增量字节数
// Update 返回错误时调用方应当中止下载
type ProgressTracker interface {
	Update(n int64) error
	End()
}

// TrackerFactory 每开始下载一个文件调用一次
type TrackerFactory func(fileName string, fileSize int64) ProgressTracker

// Fetcher 把模型仓库下载到本地，返回模型目录
type Fetcher interface {
	Fetch(ctx context.Context, modelID, cacheDir string, factory TrackerFactory) (string, error)
}

type job struct {
	state     models.DownloadState
	gen       uint64 // 每次提交递增，旧任务的写入被忽略
	cancelled bool
	cancel    context.CancelFunc
}

// Manager 管理模型下载，每个模型同一时间最多一个下载
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*job

	fetcher  Fetcher
	ctx      context.Context
	interval time.Duration
	wg       sync.WaitGroup
}

// NewManager 创建下载管理器，interval 为状态流轮询间隔，<=0 时使用默认值
func NewManager(ctx context.Context, fetcher Fetcher, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &Manager{
		jobs:     make(map[string]*job),
		fetcher:  fetcher,
		ctx:      ctx,
		interval: interval,
	}
}

// Submit 在后台开始下载模型，已在下载时返回 ErrAlreadyDownloading
func (m *Manager) Submit(modelID, cacheDir string) error {
	if modelID == "" {
		return utils.NewError(utils.KindInvalidRequest, "model_id 不能为空", nil)
	}

	m.mu.Lock()
	j, ok := m.jobs[modelID]
	if ok && j.state.Status == models.DownloadDownloading {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyDownloading, modelID)
	}
	if !ok {
		j = &job{}
		m.jobs[modelID] = j
	}
	ctx, cancel := context.WithCancel(m.ctx)
	j.gen++
	j.cancelled = false
	j.cancel = cancel
	j.state = models.DownloadState{ModelID: modelID, Status: models.DownloadPending}
	gen := j.gen
	m.mu.Unlock()

	utils.WithFields(map[string]interface{}{
		"model_id":  modelID,
		"cache_dir": cacheDir,
	}).Info("开始下载模型")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(ctx, modelID, cacheDir, gen)
	}()
	return nil
}

func (m *Manager) run(ctx context.Context, modelID, cacheDir string, gen uint64) {
	log := utils.WithField("model_id", modelID)

	if !m.apply(modelID, gen, func(j *job) {
		j.state.Status = models.DownloadDownloading
	}) {
		return
	}

	path, err := m.fetcher.Fetch(ctx, modelID, cacheDir, m.trackerFactory(modelID, gen))

	m.apply(modelID, gen, func(j *job) {
		// 已取消的下载保持取消状态
		if j.cancelled || j.state.Status.IsTerminal() {
			return
		}
		if err != nil {
			j.state.Status = models.DownloadFailed
			if errors.Is(err, utils.ErrDownloadCancelled) {
				j.state.Error = CancelledMessage
			} else {
				j.state.Error = err.Error()
			}
			return
		}
		j.state.Status = models.DownloadCompleted
		j.state.Progress = 100
		j.state.DownloadPath = path
	})

	final := m.Status(modelID)
	if final.Status == models.DownloadCompleted {
		log.Infof("模型下载完成: %s (%s)", final.DownloadPath, utils.FormatFileSize(final.DownloadedSize))
	} else {
		log.Errorf("模型下载失败: %s", final.Error)
	}
}

// apply 在锁内修改当前一代的下载状态
func (m *Manager) apply(modelID string, gen uint64, mutate func(j *job)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[modelID]
	if !ok || j.gen != gen {
		return false
	}
	mutate(j)
	return true
}

// Cancel 取消正在进行的下载，没有进行中的下载时返回 false
func (m *Manager) Cancel(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[modelID]
	if !ok || j.state.Status != models.DownloadDownloading {
		return false
	}

	j.cancelled = true
	j.state.Status = models.DownloadFailed
	j.state.Error = CancelledMessage
	if j.cancel != nil {
		j.cancel()
	}

	utils.WithField("model_id", modelID).Info("下载已取消")
	return true
}

// Status 返回下载状态快照，从未提交过的模型返回 pending
func (m *Manager) Status(modelID string) models.DownloadState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[modelID]
	if !ok {
		return models.DownloadState{ModelID: modelID, Status: models.DownloadPending}
	}
	return j.state
}

// StreamStatus 按固定间隔轮询状态，只在状态或进度变化时发送事件
// 进入终态后发送最后一个事件并关闭通道；未知模型只发送一个错误事件
func (m *Manager) StreamStatus(ctx context.Context, modelID string) <-chan models.DownloadEvent {
	events := make(chan models.DownloadEvent)

	go func() {
		defer close(events)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		lastProgress := -1.0
		var lastStatus models.DownloadStatus

		send := func(event models.DownloadEvent) bool {
			select {
			case events <- event:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			m.mu.RLock()
			j, ok := m.jobs[modelID]
			var state models.DownloadState
			if ok {
				state = j.state
			}
			m.mu.RUnlock()

			if !ok {
				send(models.DownloadEvent{Err: fmt.Sprintf("模型 %s 没有下载记录", modelID)})
				return
			}

			if state.Progress != lastProgress || state.Status != lastStatus {
				if !send(models.DownloadEvent{State: &state}) {
					return
				}
				lastProgress = state.Progress
				lastStatus = state.Status
			}

			if state.Status.IsTerminal() {
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events
}

// Shutdown 取消所有下载并等待后台任务退出
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for id, j := range m.jobs {
		if j.state.Status == models.DownloadDownloading && j.cancel != nil {
			utils.Debug("停止下载: %s", id)
			j.cancel()
		}
	}
	m.mu.RUnlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) trackerFactory(modelID string, gen uint64) TrackerFactory {
	count := 0
	return func(fileName string, fileSize int64) ProgressTracker {
		count++
		utils.Info("[%s] 开始下载第 %d 个文件: %s (%s)", modelID, count, fileName, utils.FormatFileSize(fileSize))
		return &fileTracker{
			manager:  m,
			modelID:  modelID,
			gen:      gen,
			fileName: fileName,
			fileSize: fileSize,
		}
	}
}

// fileTracker 把单个文件的增量累加进模型的整体进度
type fileTracker struct {
	manager  *Manager
	modelID  string
	gen      uint64
	fileName string
	fileSize int64

	downloaded int64
	lastLogged int64
}

func (t *fileTracker) Update(n int64) error {
	m := t.manager
	m.mu.Lock()
	j, ok := m.jobs[t.modelID]
	if !ok || j.gen != t.gen || j.cancelled {
		m.mu.Unlock()
		return utils.NewError(utils.KindDownloadCancelled, fmt.Sprintf("模型 %s 的下载已取消", t.modelID), nil)
	}

	t.downloaded += n
	state := &j.state
	state.DownloadedSize += n

	// 总大小未知，只能保证不小于已下载的量
	if t.fileSize > 0 && state.TotalSize < state.DownloadedSize {
		state.TotalSize = state.DownloadedSize
	}
	state.Progress = overallProgress(state.DownloadedSize, state.TotalSize)

	total := state.DownloadedSize
	progress := state.Progress
	m.mu.Unlock()

	if t.downloaded-t.lastLogged >= logEveryBytes || t.downloaded == t.fileSize {
		t.lastLogged = t.downloaded
		utils.Info("[%s] %s: %s/%s | 总计 %s (%.1f%%)", t.modelID, t.fileName,
			utils.FormatFileSize(t.downloaded), utils.FormatFileSize(t.fileSize),
			utils.FormatFileSize(total), progress)
	}
	return nil
}

func (t *fileTracker) End() {
	utils.Debug("[%s] 文件下载结束: %s (%s)", t.modelID, t.fileName, utils.FormatFileSize(t.downloaded))
}

// overallProgress 完成前最多报告 99，总大小未知时报告 50
func overallProgress(downloaded, total int64) float64 {
	if total <= 0 {
		return 50
	}
	progress := float64(downloaded) / float64(total) * 100
	if progress > 99 {
		return 99
	}
	return progress
}
