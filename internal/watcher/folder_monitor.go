package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// FileEventHandler 是处理文件事件的接口
type FileEventHandler interface {
	OnFileCreated(filePath string)
	OnFileModified(filePath string)
	OnFileDeleted(filePath string)
	OnFileRenamed(oldPath, newPath string)
}

// 改名后的新文件需在此时间内出现，否则视为移出目录
const renameWindow = 500 * time.Millisecond

// FolderMonitor 监控文件夹变化，文件写入停止 debounceTime 后才通知
type FolderMonitor struct {
	watcher        *fsnotify.Watcher
	folderPath     string
	fileExtensions []string
	handler        FileEventHandler
	debounceTime   time.Duration
	pendingFiles   map[string]*time.Timer
	renamedFrom    string
	renameTimer    *time.Timer
	mutex          sync.Mutex
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// NewFolderMonitor 创建新的文件夹监控器
func NewFolderMonitor(folderPath string, extensions []string, handler FileEventHandler, debounceTime time.Duration) (*FolderMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	return &FolderMonitor{
		watcher:        watcher,
		folderPath:     folderPath,
		fileExtensions: extensions,
		handler:        handler,
		debounceTime:   debounceTime,
		pendingFiles:   make(map[string]*time.Timer),
		stopChan:       make(chan struct{}),
	}, nil
}

// Start 开始监控文件夹
func (m *FolderMonitor) Start() error {
	if err := os.MkdirAll(m.folderPath, 0755); err != nil {
		return fmt.Errorf("创建文件夹失败: %w", err)
	}

	if err := m.watcher.Add(m.folderPath); err != nil {
		return fmt.Errorf("添加监控文件夹失败: %w", err)
	}

	go m.watchLoop()

	utils.Info("开始监控文件夹: %s", m.folderPath)
	return nil
}

// Stop 停止监控，可重复调用
func (m *FolderMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.watcher.Close()

		m.mutex.Lock()
		for path, timer := range m.pendingFiles {
			timer.Stop()
			delete(m.pendingFiles, path)
		}
		m.takeRenameLocked()
		m.mutex.Unlock()

		utils.Info("停止监控文件夹: %s", m.folderPath)
	})
}

func (m *FolderMonitor) watchLoop() {
	for {
		select {
		case <-m.stopChan:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleFileEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			utils.Error("监控文件夹时出错: %v", err)
		}
	}
}

func (m *FolderMonitor) handleFileEvent(event fsnotify.Event) {
	filePath := event.Name

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		m.mutex.Lock()
		if timer, exists := m.pendingFiles[filePath]; exists {
			timer.Stop()
			delete(m.pendingFiles, filePath)
		}
		if event.Op&fsnotify.Rename != 0 && m.hasTargetExtension(filePath) {
			// fsnotify 把改名拆成旧路径的 Rename 和新路径的 Create
			previous := m.takeRenameLocked()
			m.renamedFrom = filePath
			m.renameTimer = time.AfterFunc(renameWindow, func() { m.expireRename(filePath) })
			m.mutex.Unlock()
			if previous != "" && m.handler != nil {
				m.handler.OnFileDeleted(previous)
			}
			return
		}
		m.mutex.Unlock()
		if m.handler != nil && m.hasTargetExtension(filePath) {
			m.handler.OnFileDeleted(filePath)
		}
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !m.isTargetFile(filePath) {
		return
	}

	m.mutex.Lock()
	if event.Op&fsnotify.Create != 0 {
		if oldPath := m.takeRenameLocked(); oldPath != "" {
			m.mutex.Unlock()
			utils.Info("检测到文件改名: %s -> %s", oldPath, filePath)
			if m.handler != nil {
				m.handler.OnFileRenamed(oldPath, filePath)
			}
			return
		}
	}
	defer m.mutex.Unlock()

	// 文件还在写入时重置定时器
	if timer, exists := m.pendingFiles[filePath]; exists {
		timer.Stop()
	}
	m.pendingFiles[filePath] = time.AfterFunc(m.debounceTime, func() {
		m.processFile(filePath)
	})

	utils.Debug("检测到文件变化: %s", filePath)
}

// takeRenameLocked 取出等待配对的旧路径，调用方需持有 m.mutex
func (m *FolderMonitor) takeRenameLocked() string {
	oldPath := m.renamedFrom
	if m.renameTimer != nil {
		m.renameTimer.Stop()
	}
	m.renamedFrom = ""
	m.renameTimer = nil
	return oldPath
}

// expireRename 没有等到新路径，按删除处理
func (m *FolderMonitor) expireRename(oldPath string) {
	m.mutex.Lock()
	if m.renamedFrom != oldPath {
		m.mutex.Unlock()
		return
	}
	m.renamedFrom = ""
	m.renameTimer = nil
	m.mutex.Unlock()

	if m.handler != nil {
		m.handler.OnFileDeleted(oldPath)
	}
}

func (m *FolderMonitor) isTargetFile(filePath string) bool {
	fileInfo, err := os.Stat(filePath)
	if err != nil || fileInfo.IsDir() {
		return false
	}
	return m.hasTargetExtension(filePath)
}

func (m *FolderMonitor) hasTargetExtension(filePath string) bool {
	if strings.HasPrefix(filepath.Base(filePath), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, targetExt := range m.fileExtensions {
		if ext == targetExt {
			return true
		}
	}
	return false
}

func (m *FolderMonitor) processFile(filePath string) {
	m.mutex.Lock()
	delete(m.pendingFiles, filePath)
	m.mutex.Unlock()

	select {
	case <-m.stopChan:
		return
	default:
	}

	if !utils.CheckFileExists(filePath) {
		return
	}

	utils.Info("检测到新文件: %s", filePath)
	if m.handler != nil {
		m.handler.OnFileCreated(filePath)
	}
}
