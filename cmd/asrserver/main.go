package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/controller"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

var (
	configFile = flag.String("config", "", "配置文件路径 (json/yaml/toml)")
	envFile    = flag.String("env", ".env", "环境变量文件，不存在时忽略")
	printCfg   = flag.Bool("print-config", false, "启动前打印生效的配置")
	logLevel   = flag.String("log-level", "", "日志级别 (debug, info, warn, error)，为空使用配置")
	logFile    = flag.String("log-file", "", "日志文件路径")
	host       = flag.String("host", "", "监听地址，为空使用配置")
	port       = flag.Int("port", 0, "监听端口，为0使用配置")
	watch      = flag.Bool("watch", false, "同时监听媒体目录")
)

func main() {
	flag.Parse()

	// ASR_* 环境变量可以写在 .env 中
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "加载环境变量文件失败: %v\n", err)
	}

	pc, err := controller.NewProcessorController(*configFile, *logLevel, *logFile, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer pc.Cleanup()

	if *host != "" {
		pc.Config.Host = *host
	}
	if *port > 0 {
		pc.Config.Port = *port
	}
	if *watch {
		pc.Config.WatchMode = true
	}
	if *printCfg {
		pc.Config.PrintConfig()
	}

	// 预加载失败不影响服务启动，之后仍可调用 /initialize
	if err := pc.InitializeModel(); err != nil {
		utils.Error("%v", err)
	}

	if err := pc.RunServer(); err != nil {
		utils.Error("服务异常退出: %v", err)
		pc.Cleanup()
		os.Exit(1)
	}
	utils.Info("服务已停止")
}
