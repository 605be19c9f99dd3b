package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/download"
	"github.com/ccp-p/asr-media-cli/asr-service/internal/ui"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

var (
	modelID    = flag.String("model", "", "要下载的模型标识，例如 iic/SenseVoiceSmall")
	cacheDir   = flag.String("cache-dir", "", "缓存目录，为空使用配置或 ~/.cache/modelscope/hub/models")
	configFile = flag.String("config", "", "配置文件路径")
	envFile    = flag.String("env", ".env", "环境变量文件，不存在时忽略")
	logLevel   = flag.String("log-level", "warn", "日志级别")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "加载环境变量文件失败: %v\n", err)
	}
	if err := utils.InitLogger(*logLevel, ""); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	config := models.NewDefaultConfig()
	if err := config.LoadFromFile(*configFile); err != nil {
		utils.Warn("配置加载失败: %v，将使用默认配置", err)
	}
	if *modelID == "" {
		*modelID = config.ModelID
	}
	if *modelID == "" {
		color.Red("必须通过 -model 指定模型")
		flag.Usage()
		os.Exit(2)
	}
	if *cacheDir == "" {
		*cacheDir = config.CacheDir
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := download.NewModelScopeFetcher(config.ModelScopeEndpoint, config.MaxRetries, config.RetryDelay)
	manager := download.NewManager(ctx, fetcher, config.StreamInterval())

	if err := manager.Submit(*modelID, *cacheDir); err != nil {
		color.Red("开始下载失败: %v", err)
		os.Exit(1)
	}

	// 第一次中断取消下载，第二次直接退出
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		fmt.Println()
		color.Yellow("正在取消下载...")
		manager.Cancel(*modelID)
		<-signals
		os.Exit(130)
	}()

	final := follow(ctx, manager, *modelID)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	manager.Shutdown(shutdownCtx)

	switch final.Status {
	case models.DownloadCompleted:
		color.Green("模型已下载到: %s", final.DownloadPath)
	case models.DownloadFailed:
		color.Red("下载失败: %s", final.Error)
		fetcher.Errors.PrintErrorStats()
		os.Exit(1)
	}
}

// follow 把状态流渲染成进度条，返回最后的状态
func follow(ctx context.Context, manager *download.Manager, id string) models.DownloadState {
	bar := ui.NewProgressBar(100, "下载 "+id, "等待开始...")
	last := manager.Status(id)

	for event := range manager.StreamStatus(ctx, id) {
		if event.State == nil {
			continue
		}
		last = *event.State
		suffix := string(last.Status)
		if last.TotalSize > 0 {
			suffix = fmt.Sprintf("%s / %s", utils.FormatFileSize(last.DownloadedSize), utils.FormatFileSize(last.TotalSize))
		}
		if last.Status.IsTerminal() {
			bar.Complete(string(last.Status))
			break
		}
		bar.Update(int(last.Progress), suffix)
	}
	return last
}
