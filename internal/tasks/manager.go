package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/asr"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// 进入处理阶段时的名义进度
const processingProgress = 0.05

// HandleProvider 提供已加载的模型句柄
type HandleProvider interface {
	EnsureLoaded(withoutSpeaker bool) (asr.Handle, error)
	CurrentModel() string
}

// CompleteHook 任务进入终态后调用，参数是任务快照
type CompleteHook func(task models.Task)

type entry struct {
	task models.Task
	done chan struct{} // 进入终态时关闭
}

// Manager 管理转写任务的生命周期：queued -> processing -> completed/failed
// 每个任务由一个独立的goroutine执行，状态只在锁内整体更新
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry
	hooks   []CompleteHook

	provider HandleProvider
	ctx      context.Context
	wg       sync.WaitGroup

	now   func() time.Time
	spawn func(func())
}

// NewManager 创建任务管理器，ctx 取消时正在进行的识别调用会被中断
func NewManager(ctx context.Context, provider HandleProvider) *Manager {
	return &Manager{
		entries:  make(map[string]*entry),
		provider: provider,
		ctx:      ctx,
		now:      time.Now,
		spawn:    func(fn func()) { go fn() },
	}
}

// OnComplete 注册任务完成回调
func (m *Manager) OnComplete(hook CompleteHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Submit 创建一个排队中的任务并在后台执行，立即返回任务ID
func (m *Manager) Submit(audioPath string, opts models.TranscribeOptions) (string, error) {
	if audioPath == "" {
		return "", utils.NewError(utils.KindInvalidRequest, "audio_path 不能为空", nil)
	}
	// 模型未加载时直接拒绝，不创建任务
	if _, err := m.provider.EnsureLoaded(opts.WithoutSpeaker()); err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := m.now()

	m.mu.Lock()
	m.entries[id] = &entry{
		task: models.Task{
			ID:        id,
			AudioPath: audioPath,
			Status:    models.TaskQueued,
			Progress:  0,
			Metadata:  map[string]interface{}{},
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}
	m.mu.Unlock()

	utils.WithFields(map[string]interface{}{
		"task_id": id,
		"audio":   audioPath,
	}).Info("转写任务已提交")

	m.wg.Add(1)
	m.spawn(func() {
		defer m.wg.Done()
		m.run(id, audioPath, opts)
	})

	return id, nil
}

// Get 返回任务快照，未知ID返回 NotFound
func (m *Manager) Get(id string) (models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return models.Task{}, utils.NewError(utils.KindNotFound, fmt.Sprintf("任务 %s 不存在", id), nil)
	}
	return e.task.Clone(), nil
}

// List 按创建时间返回全部任务快照
func (m *Manager) List() []models.Task {
	m.mu.RLock()
	list := make([]models.Task, 0, len(m.entries))
	for _, e := range m.entries {
		list = append(list, e.task.Clone())
	}
	m.mu.RUnlock()

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Count 任务总数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ActiveCount 尚未结束的任务数
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, e := range m.entries {
		if !e.task.Status.IsTerminal() {
			count++
		}
	}
	return count
}

// Wait 阻塞直到任务进入终态或 ctx 结束
func (m *Manager) Wait(ctx context.Context, id string) (models.Task, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return models.Task{}, utils.NewError(utils.KindNotFound, fmt.Sprintf("任务 %s 不存在", id), nil)
	}

	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return models.Task{}, ctx.Err()
	}
}

// Shutdown 等待所有任务结束，ctx 到期时返回
func (m *Manager) Shutdown(ctx context.Context) error {
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

func (m *Manager) run(id, audioPath string, opts models.TranscribeOptions) {
	log := utils.WithField("task_id", id)
	log.Info("开始转写")
	start := m.now()

	m.update(id, func(t *models.Task) {
		t.Status = models.TaskProcessing
		t.Progress = processingProgress
	})

	result, metadata, err := m.execute(audioPath, opts)
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadata["process_time_ms"] = m.now().Sub(start).Milliseconds()

	if err != nil {
		log.Errorf("转写失败: %v", err)
		m.finish(id, func(t *models.Task) {
			t.Status = models.TaskFailed
			t.Progress = 1.0
			t.Error = err.Error()
			t.Metadata = metadata
		})
		return
	}

	log.Infof("转写完成，共 %d 段", len(result.Segments))
	m.finish(id, func(t *models.Task) {
		t.Status = models.TaskCompleted
		t.Progress = 1.0
		t.Result = result
		t.Metadata = metadata
	})
}

// execute 调用模型并切分结果，外部调用中的panic被转换为错误
func (m *Manager) execute(audioPath string, opts models.TranscribeOptions) (result *models.TaskResult, metadata map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = utils.NewError(utils.KindInternal, fmt.Sprintf("模型调用异常: %v", r), nil)
		}
	}()

	metadata = map[string]interface{}{
		"model":   m.provider.CurrentModel(),
		"options": opts.ToMap(),
	}

	handle, err := m.provider.EnsureLoaded(opts.WithoutSpeaker())
	if err != nil {
		return nil, metadata, err
	}

	records, err := asr.GenerateWithFallback(m.ctx, handle, asr.BuildGenerateOptions(audioPath, opts))
	if err != nil {
		return nil, metadata, err
	}
	if len(records) == 0 {
		return nil, metadata, utils.NewError(utils.KindEmptyResult, "模型没有返回任何识别结果", nil)
	}

	raw := records[0]
	segments := asr.ExtractSegments(raw)
	degraded := asr.IsDegraded(raw, segments)

	metadata["segment_count"] = len(segments)
	metadata["degraded"] = degraded
	if len(segments) == 0 {
		metadata["warning"] = string(utils.KindEmptyResult)
		utils.Warn("识别结果中没有可用的段落: %s", audioPath)
	} else {
		metadata["duration_ms"] = int64(segments[len(segments)-1].EndTime * 1000)
		if degraded {
			utils.Warn("只得到一个段落，模型可能不支持句级时间戳: %s", audioPath)
		}
	}

	var rawMap map[string]interface{}
	if raw != nil {
		rawMap = models.CloneMap(raw)
	}
	return &models.TaskResult{Segments: segments, Raw: rawMap}, metadata, nil
}

// update 在锁内修改任务，终态任务不再变化
func (m *Manager) update(id string, mutate func(t *models.Task)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || e.task.Status.IsTerminal() {
		return false
	}
	mutate(&e.task)
	e.task.UpdatedAt = m.now()
	return true
}

// finish 写入终态，唤醒等待者并调用完成回调
func (m *Manager) finish(id string, mutate func(t *models.Task)) {
	if !m.update(id, mutate) {
		return
	}

	m.mu.RLock()
	e := m.entries[id]
	snapshot := e.task.Clone()
	hooks := append([]CompleteHook(nil), m.hooks...)
	m.mu.RUnlock()

	close(e.done)
	for _, hook := range hooks {
		hook(snapshot)
	}
}
