package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/ui"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
)

// TaskLister 列出全部转写任务
type TaskLister interface {
	List() []models.Task
}

// TaskProgressMonitor 定期把任务进度同步到终端进度条
type TaskProgressMonitor struct {
	Tasks           TaskLister
	ProgressManager *ui.ProgressManager
	Interval        time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	finished map[string]bool
}

// NewTaskProgressMonitor 创建任务进度监控器
func NewTaskProgressMonitor(tasks TaskLister, progressManager *ui.ProgressManager) *TaskProgressMonitor {
	return &TaskProgressMonitor{
		Tasks:           tasks,
		ProgressManager: progressManager,
		Interval:        time.Second,
		stopChan:        make(chan struct{}),
		finished:        make(map[string]bool),
	}
}

// Start 开始监控
func (m *TaskProgressMonitor) Start() {
	go m.monitorRoutine()
}

// Stop 停止监控
func (m *TaskProgressMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *TaskProgressMonitor) monitorRoutine() {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkTasks()
		case <-m.stopChan:
			return
		}
	}
}

func barID(taskID string) string {
	return "task_" + taskID
}

// checkTasks 只在监控协程中调用
func (m *TaskProgressMonitor) checkTasks() {
	if m.ProgressManager == nil || !m.ProgressManager.Enabled() {
		return
	}

	for _, task := range m.Tasks.List() {
		if m.finished[task.ID] {
			continue
		}
		id := barID(task.ID)

		if task.Status.IsTerminal() {
			m.finished[task.ID] = true
			if m.ProgressManager.HasProgressBar(id) {
				m.ProgressManager.CompleteProgressBar(id, string(task.Status))
			}
			continue
		}

		if !m.ProgressManager.HasProgressBar(id) {
			m.ProgressManager.CreateProgressBar(id, 100,
				fmt.Sprintf("转写 %s", filepath.Base(task.AudioPath)), string(task.Status))
		}
		m.ProgressManager.UpdateProgressBar(id, int(task.Progress*100), string(task.Status))
	}
}

// StartTaskMonitoring 开始监控并返回停止函数
func StartTaskMonitoring(tasks TaskLister, progressManager *ui.ProgressManager) func() {
	monitor := NewTaskProgressMonitor(tasks, progressManager)
	monitor.Start()
	return monitor.Stop
}
