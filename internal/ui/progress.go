package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ProgressBar 终端进度条
type ProgressBar struct {
	Total      int       // 总步数
	Current    int       // 当前进度
	Prefix     string    // 前缀
	Suffix     string    // 后缀
	Width      int       // 进度条宽度
	FillChar   string    // 填充字符
	EmptyChar  string    // 空白字符
	StartTime  time.Time // 开始时间
	LastUpdate time.Time // 上次更新时间

	mu       sync.Mutex
	terminal *TerminalManager
}

// NewProgressBar 创建新的进度条，total<=0 时按100处理
func NewProgressBar(total int, prefix string, suffix string) *ProgressBar {
	if total <= 0 {
		total = 100
	}
	now := time.Now()
	return &ProgressBar{
		Total:      total,
		Prefix:     prefix,
		Suffix:     suffix,
		Width:      30,
		FillChar:   "█",
		EmptyChar:  "░",
		StartTime:  now,
		LastUpdate: now,
		terminal:   GetTerminalManager(),
	}
}

// SetTerminal 指定输出位置
func (p *ProgressBar) SetTerminal(tm *TerminalManager) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminal = tm
}

// Update 更新进度，负值被忽略，超过总数时截断
func (p *ProgressBar) Update(current int, suffix string) {
	if current < 0 {
		return
	}

	p.mu.Lock()
	if current > p.Total {
		current = p.Total
	}
	p.Current = current
	if suffix != "" {
		p.Suffix = suffix
	}
	p.LastUpdate = time.Now()
	line := p.render(true)
	term := p.terminal
	p.mu.Unlock()

	term.UpdateProgress(color.CyanString(line))
}

// Increment 前进一步
func (p *ProgressBar) Increment(suffix string) {
	p.mu.Lock()
	next := p.Current + 1
	p.mu.Unlock()
	p.Update(next, suffix)
}

// Complete 填满进度条并换行
func (p *ProgressBar) Complete(suffix string) {
	p.Update(p.Total, suffix)
	p.mu.Lock()
	term := p.terminal
	p.mu.Unlock()
	term.EndLine()
}

// Percent 当前百分比
func (p *ProgressBar) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return float64(p.Current) / float64(p.Total) * 100
}

// String 不带颜色和耗时的文本形式
func (p *ProgressBar) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.render(false)
}

// render 调用方需持有 p.mu
func (p *ProgressBar) render(withTiming bool) string {
	percent := float64(p.Current) / float64(p.Total)
	filled := int(percent * float64(p.Width))
	if filled > p.Width {
		filled = p.Width
	}
	bar := "[" + strings.Repeat(p.FillChar, filled) + strings.Repeat(p.EmptyChar, p.Width-filled) + "]"

	if !withTiming {
		return fmt.Sprintf("%s %s %3.0f%% | %d/%d", p.Prefix, bar, percent*100, p.Current, p.Total)
	}

	elapsed := time.Since(p.StartTime)
	var remaining time.Duration
	if p.Current > 0 {
		remaining = time.Duration(float64(elapsed) / percent * (1 - percent))
	}

	return fmt.Sprintf("%s %s %3.0f%% | %d/%d | %s<%s | %s",
		p.Prefix, bar, percent*100, p.Current, p.Total,
		formatDuration(elapsed), formatDuration(remaining), p.Suffix)
}

// 格式化为 MM:SS
func formatDuration(d time.Duration) string {
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
