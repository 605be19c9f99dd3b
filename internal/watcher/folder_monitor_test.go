package watcher

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/ui"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
)

type recordingHandler struct {
	mu      sync.Mutex
	created []string
	deleted []string
	renamed [][2]string
}

func (h *recordingHandler) OnFileCreated(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created = append(h.created, path)
}

func (h *recordingHandler) OnFileModified(path string) {}

func (h *recordingHandler) OnFileDeleted(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, path)
}

func (h *recordingHandler) OnFileRenamed(oldPath, newPath string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.renamed = append(h.renamed, [2]string{oldPath, newPath})
}

func (h *recordingHandler) deletedFiles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deleted...)
}

func (h *recordingHandler) renamedFiles() [][2]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][2]string(nil), h.renamed...)
}

func (h *recordingHandler) createdFiles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.created...)
}

func TestFolderMonitorDebouncesNewFile(t *testing.T) {
	dir := t.TempDir()
	handler := &recordingHandler{}

	monitor, err := NewFolderMonitor(dir, []string{".mp3"}, handler, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	target := filepath.Join(dir, "meeting.mp3")
	require.NoError(t, os.WriteFile(target, []byte("part1"), 0644))
	require.NoError(t, os.WriteFile(target, []byte("part1part2"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	assert.Eventually(t, func() bool {
		return len(handler.createdFiles()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	// 防抖后只通知一次
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{target}, handler.createdFiles())
}

func TestFolderMonitorReportsRename(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "draft.mp3")
	require.NoError(t, os.WriteFile(oldPath, []byte("audio"), 0644))

	handler := &recordingHandler{}
	monitor, err := NewFolderMonitor(dir, []string{".mp3"}, handler, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	newPath := filepath.Join(dir, "final.mp3")
	require.NoError(t, os.Rename(oldPath, newPath))

	assert.Eventually(t, func() bool {
		return len(handler.renamedFiles()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, [2]string{oldPath, newPath}, handler.renamedFiles()[0])

	// 改名不会被当作新文件或删除
	time.Sleep(renameWindow + 100*time.Millisecond)
	assert.Empty(t, handler.createdFiles())
	assert.Empty(t, handler.deletedFiles())
}

func TestFolderMonitorRenameOutOfFolderIsDelete(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	oldPath := filepath.Join(dir, "moved.mp3")
	require.NoError(t, os.WriteFile(oldPath, []byte("audio"), 0644))

	handler := &recordingHandler{}
	monitor, err := NewFolderMonitor(dir, []string{".mp3"}, handler, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, monitor.Start())
	defer monitor.Stop()

	require.NoError(t, os.Rename(oldPath, filepath.Join(outside, "moved.mp3")))

	assert.Eventually(t, func() bool {
		return len(handler.deletedFiles()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{oldPath}, handler.deletedFiles())
	assert.Empty(t, handler.renamedFiles())
}

func TestFolderMonitorStopIsIdempotent(t *testing.T) {
	monitor, err := NewFolderMonitor(t.TempDir(), []string{".mp3"}, nil, time.Second)
	require.NoError(t, err)
	require.NoError(t, monitor.Start())

	monitor.Stop()
	monitor.Stop()
}

func TestHasTargetExtension(t *testing.T) {
	monitor := &FolderMonitor{fileExtensions: []string{".mp3", ".wav"}}

	assert.True(t, monitor.hasTargetExtension("/a/b.MP3"))
	assert.True(t, monitor.hasTargetExtension("/a/b.wav"))
	assert.False(t, monitor.hasTargetExtension("/a/.b.wav"))
	assert.False(t, monitor.hasTargetExtension("/a/b.txt"))
}

type fakeProcessor struct {
	mu         sync.Mutex
	recognized map[string]bool
	processed  []string
	fail       map[string]bool
	block      chan struct{}
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{recognized: map[string]bool{}, fail: map[string]bool{}}
}

func (p *fakeProcessor) ProcessFile(path string) (*models.Result, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, path)
	if p.fail[path] {
		return nil, errors.New("boom")
	}
	p.recognized[path] = true
	return &models.Result{FilePath: path, SegmentCount: 2}, nil
}

func (p *fakeProcessor) IsRecognizedFile(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recognized[path]
}

func (p *fakeProcessor) UpdateRecordOnRename(oldPath, newPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.recognized[oldPath] {
		delete(p.recognized, oldPath)
		p.recognized[newPath] = true
	}
}

func (p *fakeProcessor) processedFiles() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...)
}

func TestMediaFileHandlerProcessesQueuedFiles(t *testing.T) {
	processor := newFakeProcessor()
	processor.fail["/m/b.mp3"] = true

	var mu sync.Mutex
	results := map[string]error{}
	handler := NewMediaFileHandler(processor, func(path string, result *models.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		results[path] = err
	})
	defer handler.Stop()

	handler.OnFileCreated("/m/a.mp3")
	handler.OnFileCreated("/m/b.mp3")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.NoError(t, results["/m/a.mp3"])
	assert.Error(t, results["/m/b.mp3"])
	mu.Unlock()
	assert.Equal(t, []string{"/m/a.mp3", "/m/b.mp3"}, processor.processedFiles())
}

func TestMediaFileHandlerSkipsRecognizedAndDuplicates(t *testing.T) {
	processor := newFakeProcessor()
	processor.recognized["/m/done.mp3"] = true
	processor.block = make(chan struct{})

	handler := NewMediaFileHandler(processor, nil)

	handler.OnFileCreated("/m/done.mp3")
	handler.OnFileCreated("/m/new.mp3")
	handler.OnFileCreated("/m/new.mp3")
	close(processor.block)

	assert.Eventually(t, func() bool {
		return len(processor.processedFiles()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	handler.Stop()

	assert.Equal(t, []string{"/m/new.mp3"}, processor.processedFiles())
}

func TestMediaFileHandlerDropsDeletedFile(t *testing.T) {
	processor := newFakeProcessor()
	processor.block = make(chan struct{})

	handler := NewMediaFileHandler(processor, nil)

	// 第一个文件阻塞在处理中，第二个排队时被删除
	handler.OnFileCreated("/m/first.mp3")
	handler.OnFileCreated("/m/second.mp3")
	handler.OnFileDeleted("/m/second.mp3")
	close(processor.block)

	assert.Eventually(t, func() bool {
		return len(processor.processedFiles()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	handler.Stop()

	assert.Equal(t, []string{"/m/first.mp3"}, processor.processedFiles())
}

func TestMediaFileHandlerRenameKeepsRecord(t *testing.T) {
	processor := newFakeProcessor()
	processor.recognized["/m/old.mp3"] = true

	handler := NewMediaFileHandler(processor, nil)
	handler.OnFileRenamed("/m/old.mp3", "/m/new.mp3")
	time.Sleep(50 * time.Millisecond)
	handler.Stop()

	assert.True(t, processor.IsRecognizedFile("/m/new.mp3"))
	assert.False(t, processor.IsRecognizedFile("/m/old.mp3"))
	assert.Empty(t, processor.processedFiles())
}

func TestMediaFileHandlerRenameOfUnprocessedFileQueuesNewPath(t *testing.T) {
	processor := newFakeProcessor()
	handler := NewMediaFileHandler(processor, nil)
	defer handler.Stop()

	handler.OnFileRenamed("/m/raw.mp3", "/m/named.mp3")

	assert.Eventually(t, func() bool {
		return len(processor.processedFiles()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"/m/named.mp3"}, processor.processedFiles())
}

type staticLister struct {
	mu    sync.Mutex
	tasks []models.Task
}

func (l *staticLister) List() []models.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Task(nil), l.tasks...)
}

func (l *staticLister) set(tasks ...models.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = tasks
}

func TestTaskProgressMonitorTracksTasks(t *testing.T) {
	var out bytes.Buffer
	pm := ui.NewProgressManager(true)
	pm.SetTerminal(ui.NewTerminalManager(&out))

	lister := &staticLister{}
	lister.set(
		models.Task{ID: "t1", AudioPath: "/m/a.mp3", Status: models.TaskProcessing, Progress: 0.05},
		models.Task{ID: "t0", AudioPath: "/m/old.mp3", Status: models.TaskCompleted, Progress: 1},
	)

	monitor := NewTaskProgressMonitor(lister, pm)
	monitor.checkTasks()

	assert.True(t, pm.HasProgressBar("task_t1"))
	assert.False(t, pm.HasProgressBar("task_t0"))
	assert.Equal(t, 5, pm.GetProgressBar("task_t1").Current)

	lister.set(models.Task{ID: "t1", AudioPath: "/m/a.mp3", Status: models.TaskCompleted, Progress: 1})
	monitor.checkTasks()
	assert.False(t, pm.HasProgressBar("task_t1"))

	// 已结束的任务不会再创建进度条
	monitor.checkTasks()
	assert.False(t, pm.HasProgressBar("task_t1"))
	assert.Contains(t, out.String(), "a.mp3")
}

func TestTaskProgressMonitorDisabled(t *testing.T) {
	pm := ui.NewProgressManager(false)
	lister := &staticLister{}
	lister.set(models.Task{ID: "t1", Status: models.TaskProcessing})

	monitor := NewTaskProgressMonitor(lister, pm)
	monitor.checkTasks()

	assert.False(t, pm.HasProgressBar("task_t1"))
}

func TestMediaWatcherPicksUpExistingFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.wav")
	done := filepath.Join(dir, "done.wav")
	require.NoError(t, os.WriteFile(existing, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(done, []byte("b"), 0644))

	processor := newFakeProcessor()
	processor.recognized[done] = true

	watcher := NewMediaWatcher(dir, processor, nil)
	watcher.Debounce = 50 * time.Millisecond
	require.NoError(t, watcher.Start(nil, nil))

	assert.Eventually(t, func() bool {
		return len(processor.processedFiles()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	added := filepath.Join(dir, "added.mp3")
	require.NoError(t, os.WriteFile(added, []byte("c"), 0644))
	assert.Eventually(t, func() bool {
		return len(processor.processedFiles()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	watcher.Stop()
	assert.Equal(t, []string{existing, added}, processor.processedFiles())
}
