package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/adapters"
	"github.com/ccp-p/asr-media-cli/asr-service/internal/download"
	"github.com/ccp-p/asr-media-cli/asr-service/internal/server"
	"github.com/ccp-p/asr-media-cli/asr-service/internal/tasks"
	"github.com/ccp-p/asr-media-cli/asr-service/internal/ui"
	"github.com/ccp-p/asr-media-cli/asr-service/internal/watcher"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/asr"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/scanner"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// 退出时等待后台任务的时间
const shutdownTimeout = 10 * time.Second

// ProcessorController 处理器控制器，协调各个组件工作
type ProcessorController struct {
	// 配置
	Config *models.Config

	// UI组件
	ProgressManager *ui.ProgressManager

	// 处理组件
	Models    *asr.ModelManager
	Tasks     *tasks.Manager
	Downloads *download.Manager
	Fetcher   *download.ModelScopeFetcher
	Processor *asr.ASRProcessor
	Adapter   *adapters.TranscriptionAdapter

	// 上下文控制
	ctx        context.Context
	cancelFunc context.CancelFunc

	// 状态数据
	Stats struct {
		StartTime       time.Time
		TotalFiles      int
		SuccessfulFiles int
		FailedFiles     int
	}

	// 资源管理
	cleanup     []func() // 清理函数列表
	cleanupOnce sync.Once
	mu          sync.Mutex
}

// NewProcessorController 创建处理器控制器
// logLevel 为空时使用配置文件中的级别，环境变量 ASR_* 始终可以覆盖配置
func NewProcessorController(configFile string, logLevel string, logFile string, showProgress bool) (*ProcessorController, error) {
	ctx, cancel := context.WithCancel(context.Background())

	pc := &ProcessorController{
		Config:     models.NewDefaultConfig(),
		ctx:        ctx,
		cancelFunc: cancel,
	}

	configErr := pc.Config.LoadFromFile(configFile)

	if logLevel == "" {
		logLevel = pc.Config.LogLevel
	}
	if logFile == "" {
		logFile = pc.Config.LogFile
	}
	if showProgress {
		utils.EnableTerminalProgress()
	}
	if err := utils.InitLogger(logLevel, logFile); err != nil {
		cancel()
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	// 日志初始化后再创建ProgressManager
	pc.ProgressManager = ui.NewProgressManager(showProgress)

	if configErr != nil {
		utils.Warn("配置加载失败: %v，将使用默认配置", configErr)
	}

	pc.initComponents()
	pc.setupSignalHandlers()

	return pc, nil
}

// 初始化所有组件
func (pc *ProcessorController) initComponents() {
	cfg := pc.Config

	bridge := asr.NewRuntimeBridge(cfg.RuntimeCommand, cfg.RuntimeArgs...)
	pc.Models = asr.NewModelManager(bridge)

	pc.Tasks = tasks.NewManager(pc.ctx, pc.Models)
	pc.Tasks.OnComplete(func(task models.Task) {
		entry := utils.WithFields(map[string]interface{}{
			"task_id": task.ID,
			"status":  task.Status,
		})
		if task.Status == models.TaskFailed {
			entry.Warnf("转写任务失败: %s", task.Error)
		} else {
			entry.Infof("转写任务完成: %s", filepath.Base(task.AudioPath))
		}
	})

	pc.Fetcher = download.NewModelScopeFetcher(cfg.ModelScopeEndpoint, cfg.MaxRetries, cfg.RetryDelay)
	pc.Fetcher.CacheDir = cfg.CacheDir
	pc.Downloads = download.NewManager(pc.ctx, pc.Fetcher, cfg.StreamInterval())

	pc.Processor = asr.NewASRProcessor(cfg)
	pc.Adapter = adapters.NewTranscriptionAdapter(
		pc.ctx,
		pc.Tasks,
		pc.Processor,
		cfg.TranscribeOptions(),
		filepath.Join(cfg.OutputFolder, adapters.RecordFileName),
	)

	pc.addCleanup(pc.Models.Close)
	pc.addCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pc.Downloads.Shutdown(ctx); err != nil {
			utils.Warn("等待模型下载退出超时: %v", err)
		}
	})
	pc.addCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := pc.Tasks.Shutdown(ctx); err != nil {
			utils.Warn("等待转写任务退出超时: %v", err)
		}
	})
}

// Context 控制器的上下文，收到中断信号后被取消
func (pc *ProcessorController) Context() context.Context {
	return pc.ctx
}

// InitializeModel 按配置加载模型，未配置模型时什么也不做
func (pc *ProcessorController) InitializeModel() error {
	if pc.Config.ModelID == "" {
		utils.Info("未配置模型，等待通过 /initialize 加载")
		return nil
	}

	start := time.Now()
	loaded, err := pc.Models.Initialize(pc.ctx, pc.Config.InitRequest())
	if err != nil {
		return fmt.Errorf("加载模型失败: %w", err)
	}
	utils.WithField("components", loaded).Infof("模型加载完成，耗时 %.2f 秒", time.Since(start).Seconds())
	return nil
}

// ProcessMedia 转写媒体目录中所有未处理过的文件
func (pc *ProcessorController) ProcessMedia() ([]*models.Result, error) {
	mediaScanner := scanner.NewMediaScanner()
	files, err := mediaScanner.ScanDirectory(pc.Config.MediaFolder)
	if err != nil {
		return nil, err
	}

	pending := mediaScanner.FilterNewFiles(files, pc.Adapter.IsRecognizedFile)
	if len(pending) == 0 {
		utils.Info("没有需要处理的媒体文件")
		return nil, nil
	}

	paths := make([]string, 0, len(pending))
	for _, file := range pending {
		paths = append(paths, file.Path)
	}
	return pc.ProcessFiles(paths), nil
}

// ProcessFiles 逐个转写文件，失败的文件不会出现在结果中
func (pc *ProcessorController) ProcessFiles(paths []string) []*models.Result {
	pc.Stats.StartTime = time.Now()

	stopMonitor := watcher.StartTaskMonitoring(pc.Tasks, pc.ProgressManager)
	defer stopMonitor()

	results := make([]*models.Result, 0, len(paths))
	total := len(paths)
	for i, path := range paths {
		if pc.ctx.Err() != nil {
			utils.Warn("处理已取消，剩余 %d 个文件未处理", total-i)
			break
		}

		fmt.Printf("\n[%d/%d] 开始处理: %s\n", i+1, total, filepath.Base(path))
		result, err := pc.Adapter.ProcessFile(path)
		pc.recordResult(err == nil)
		if err != nil {
			color.Red("[%d/%d] 处理失败: %s - %v", i+1, total, filepath.Base(path), err)
			if errors.Is(err, utils.ErrNotInitialized) {
				// 之后的文件同样会失败
				for j := i + 1; j < total; j++ {
					pc.recordResult(false)
				}
				break
			}
			continue
		}

		color.Green("[%d/%d] 处理成功: %s", i+1, total, filepath.Base(path))
		for fileType, filePath := range result.OutputFiles {
			fmt.Printf("  %s: %s\n", fileType, filePath)
		}
		if result.Degraded {
			color.Yellow("  只得到一个段落，模型可能不支持句级时间戳")
		}
		fmt.Printf("处理用时: %s\n", utils.FormatTimeDuration(float64(result.ProcessTimeMs)/1000))
		results = append(results, result)
	}
	return results
}

func (pc *ProcessorController) recordResult(success bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.Stats.TotalFiles++
	if success {
		pc.Stats.SuccessfulFiles++
	} else {
		pc.Stats.FailedFiles++
	}
}

// StartWatchMode 监听媒体目录，直到收到中断信号
func (pc *ProcessorController) StartWatchMode() error {
	if err := pc.startWatcher(); err != nil {
		return err
	}
	utils.Info("监控已启动，按Ctrl+C退出...")
	return pc.waitForTermination()
}

func (pc *ProcessorController) startWatcher() error {
	if err := utils.EnsureDirExists(pc.Config.OutputFolder); err != nil {
		return err
	}
	pc.Stats.StartTime = time.Now()

	mediaWatcher := watcher.NewMediaWatcher(pc.Config.MediaFolder, pc.Adapter,
		func(filePath string, result *models.Result, err error) {
			pc.recordResult(err == nil)
		})
	if err := mediaWatcher.Start(pc.Tasks, pc.ProgressManager); err != nil {
		return err
	}
	pc.addCleanup(mediaWatcher.Stop)
	return nil
}

// RunServer 启动HTTP服务，直到收到中断信号；配置了监听模式时同时监听媒体目录
func (pc *ProcessorController) RunServer() error {
	srv := server.New(pc.Config.Address(), pc.Models, pc.Tasks, pc.Downloads)

	if pc.Config.WatchMode {
		if err := pc.startWatcher(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	utils.Info("转写服务已启动: http://%s", pc.Config.Address())

	select {
	case err := <-errCh:
		return err
	case <-pc.ctx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("关闭HTTP服务失败: %w", err)
	}
	pc.Fetcher.Errors.PrintErrorStats()
	return nil
}

// PrintStats 打印处理统计
func (pc *ProcessorController) PrintStats() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if pc.Stats.TotalFiles == 0 {
		return
	}
	elapsed := time.Duration(0)
	if !pc.Stats.StartTime.IsZero() {
		elapsed = time.Since(pc.Stats.StartTime)
	}

	fmt.Println()
	color.Cyan("处理完成: 共 %d 个文件", pc.Stats.TotalFiles)
	color.Green("  成功: %d", pc.Stats.SuccessfulFiles)
	if pc.Stats.FailedFiles > 0 {
		color.Red("  失败: %d", pc.Stats.FailedFiles)
	}
	fmt.Printf("  总用时: %s\n", utils.FormatTimeDuration(elapsed.Seconds()))
}

// 添加清理函数
func (pc *ProcessorController) addCleanup(cleanup func()) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cleanup = append(pc.cleanup, cleanup)
}

// Cleanup 执行所有清理，可重复调用
func (pc *ProcessorController) Cleanup() {
	pc.cleanupOnce.Do(func() {
		pc.cancelFunc()

		pc.mu.Lock()
		cleanups := pc.cleanup
		pc.cleanup = nil
		pc.mu.Unlock()

		// 逆序执行清理函数
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}

		if pc.ProgressManager != nil {
			pc.ProgressManager.CloseAll("已完成")
		}

		// 恢复日志设置
		utils.DisableTerminalProgress()
	})
}

// 设置中断处理
func (pc *ProcessorController) setupSignalHandlers() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-c:
			utils.Info("接收到中断信号，正在停止...")
			pc.cancelFunc()
		case <-pc.ctx.Done():
		}
		signal.Stop(c)
	}()
}

// 等待终止信号
func (pc *ProcessorController) waitForTermination() error {
	<-pc.ctx.Done()
	return nil
}
