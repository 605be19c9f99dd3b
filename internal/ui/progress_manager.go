package ui

import (
	"sort"
	"sync"
)

// ProgressManager 管理多个进度条，禁用时所有操作都是空操作
type ProgressManager struct {
	progressBars map[string]*ProgressBar
	mutex        sync.Mutex
	enabled      bool
	terminal     *TerminalManager
}

// NewProgressManager 创建新的进度管理器
func NewProgressManager(enabled bool) *ProgressManager {
	return &ProgressManager{
		progressBars: make(map[string]*ProgressBar),
		enabled:      enabled,
		terminal:     GetTerminalManager(),
	}
}

// SetTerminal 指定之后创建的进度条的输出位置
func (pm *ProgressManager) SetTerminal(tm *TerminalManager) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.terminal = tm
}

// Enabled 是否显示进度条
func (pm *ProgressManager) Enabled() bool {
	return pm.enabled
}

// CreateProgressBar 创建并注册一个新的进度条，同名进度条会先被结束
func (pm *ProgressManager) CreateProgressBar(id string, total int, prefix string, suffix string) *ProgressBar {
	if !pm.enabled {
		return nil
	}

	pm.mutex.Lock()
	old, exists := pm.progressBars[id]
	bar := NewProgressBar(total, prefix, suffix)
	bar.SetTerminal(pm.terminal)
	pm.progressBars[id] = bar
	pm.mutex.Unlock()

	if exists {
		old.Complete("已被替换")
	}
	return bar
}

// GetProgressBar 获取已存在的进度条
func (pm *ProgressManager) GetProgressBar(id string) *ProgressBar {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	return pm.progressBars[id]
}

// HasProgressBar 进度条是否存在
func (pm *ProgressManager) HasProgressBar(id string) bool {
	return pm.GetProgressBar(id) != nil
}

// UpdateProgressBar 更新进度条
func (pm *ProgressManager) UpdateProgressBar(id string, current int, suffix string) {
	if bar := pm.GetProgressBar(id); bar != nil {
		bar.Update(current, suffix)
	}
}

// CompleteProgressBar 完成并移除进度条
func (pm *ProgressManager) CompleteProgressBar(id string, suffix string) {
	pm.mutex.Lock()
	bar, exists := pm.progressBars[id]
	delete(pm.progressBars, id)
	pm.mutex.Unlock()

	if exists {
		bar.Complete(suffix)
	}
}

// CloseAll 完成所有进度条
func (pm *ProgressManager) CloseAll(suffix string) {
	pm.mutex.Lock()
	bars := make([]*ProgressBar, 0, len(pm.progressBars))
	for _, bar := range pm.progressBars {
		bars = append(bars, bar)
	}
	pm.progressBars = make(map[string]*ProgressBar)
	pm.mutex.Unlock()

	for _, bar := range bars {
		bar.Complete(suffix)
	}
}

// PrintStatus 打印当前所有进度条的状态
func (pm *ProgressManager) PrintStatus() {
	if !pm.enabled {
		return
	}

	pm.mutex.Lock()
	ids := make([]string, 0, len(pm.progressBars))
	for id := range pm.progressBars {
		ids = append(ids, id)
	}
	bars := pm.progressBars
	sort.Strings(ids)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, bars[id].String())
	}
	term := pm.terminal
	pm.mutex.Unlock()

	term.PrintMsg("当前进度状态:")
	for _, line := range lines {
		term.PrintMsg("- %s", line)
	}
}
