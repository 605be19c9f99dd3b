package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/ccp-p/asr-media-cli/asr-service/internal/controller"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

var (
	configFile   = flag.String("config", "", "配置文件路径")
	envFile      = flag.String("env", ".env", "环境变量文件，不存在时忽略")
	printCfg     = flag.Bool("print-config", false, "启动前打印生效的配置")
	logLevel     = flag.String("log-level", "", "日志级别")
	logFile      = flag.String("log-file", "", "日志文件路径")
	modelID      = flag.String("model", "", "模型标识，覆盖配置中的 model_id")
	device       = flag.String("device", "", "推理设备，例如 cpu、cuda:0")
	mediaFolder  = flag.String("media", "", "媒体目录，覆盖配置中的 media_folder")
	outputFolder = flag.String("output", "", "输出目录，覆盖配置中的 output_folder")
	watch        = flag.Bool("watch", false, "处理完现有文件后继续监听媒体目录")
	showProgress = flag.Bool("progress", true, "显示进度条")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "用法: %s [选项] [音频文件...]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "未指定文件时转写媒体目录中所有未处理的文件")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "加载环境变量文件失败: %v\n", err)
	}

	pc, err := controller.NewProcessorController(*configFile, *logLevel, *logFile, *showProgress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化失败: %v\n", err)
		os.Exit(1)
	}
	defer pc.Cleanup()

	applyOverrides(pc)
	if *printCfg {
		pc.Config.PrintConfig()
	}
	printWelcome(pc)

	if pc.Config.ModelID == "" {
		color.Red("未指定模型，请使用 -model 或在配置中设置 model_id")
		return
	}
	if err := pc.InitializeModel(); err != nil {
		color.Red("%v", err)
		return
	}

	if files := flag.Args(); len(files) > 0 {
		pc.ProcessFiles(files)
	} else if _, err := pc.ProcessMedia(); err != nil {
		color.Red("扫描媒体目录失败: %v", err)
		return
	}
	pc.PrintStats()

	if *watch || pc.Config.WatchMode {
		if err := pc.StartWatchMode(); err != nil {
			utils.Error("监听模式启动失败: %v", err)
		}
		pc.PrintStats()
	}
}

func applyOverrides(pc *controller.ProcessorController) {
	if *modelID != "" {
		pc.Config.ModelID = *modelID
	}
	if *device != "" {
		pc.Config.Device = *device
	}
	if *mediaFolder != "" {
		pc.Config.MediaFolder = *mediaFolder
	}
	if *outputFolder != "" {
		pc.Config.OutputFolder = *outputFolder
	}
}

func printWelcome(pc *controller.ProcessorController) {
	color.Cyan("长音频转写工具")
	fmt.Println("--------------------")
	fmt.Printf("模型: %s\n", pc.Config.ModelID)
	fmt.Printf("媒体目录: %s\n", pc.Config.MediaFolder)
	fmt.Printf("输出目录: %s\n", pc.Config.OutputFolder)
	fmt.Println("--------------------")
}
