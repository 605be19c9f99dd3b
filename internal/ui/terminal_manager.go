package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// TerminalManager 串行化终端输出，避免进度条和消息交错
type TerminalManager struct {
	mu             sync.Mutex
	msgWriter      io.Writer
	progressWriter io.Writer
}

var (
	globalTerminalManager *TerminalManager
	once                  sync.Once
)

// GetTerminalManager 获取输出到标准输出的全局实例
func GetTerminalManager() *TerminalManager {
	once.Do(func() {
		globalTerminalManager = NewTerminalManager(os.Stdout)
	})
	return globalTerminalManager
}

// NewTerminalManager 创建写入 w 的终端管理器
func NewTerminalManager(w io.Writer) *TerminalManager {
	return &TerminalManager{msgWriter: w, progressWriter: w}
}

// PrintMsg 清除当前进度行后打印一行消息
func (tm *TerminalManager) PrintMsg(format string, args ...interface{}) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	fmt.Fprint(tm.msgWriter, "\033[2K\r")
	fmt.Fprintf(tm.msgWriter, format+"\n", args...)
}

// UpdateProgress 覆盖当前行
func (tm *TerminalManager) UpdateProgress(line string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	fmt.Fprint(tm.progressWriter, "\033[2K\r")
	fmt.Fprint(tm.progressWriter, line)
}

// EndLine 结束进度行
func (tm *TerminalManager) EndLine() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	fmt.Fprintln(tm.progressWriter)
}
