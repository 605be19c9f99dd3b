package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 表示转写服务的配置
type Config struct {
	// HTTP 服务
	Host string `json:"host" mapstructure:"host" validate:"required"`
	Port int    `json:"port" mapstructure:"port" validate:"min=1,max=65535"`

	LogLevel string `json:"log_level" mapstructure:"log_level" validate:"required"`
	LogFile  string `json:"log_file" mapstructure:"log_file"`

	// 模型
	ModelID              string `json:"model_id" mapstructure:"model_id"`                               // 为空时需通过 /initialize 加载
	Device               string `json:"device" mapstructure:"device"`                                   // 例如 cpu、cuda:0
	VADModel             string `json:"vad_model" mapstructure:"vad_model"`                             // 为空表示不启用VAD
	PuncModel            string `json:"punc_model" mapstructure:"punc_model"`                           // 为空表示不加标点
	SpkModel             string `json:"spk_model" mapstructure:"spk_model"`                             // 说话人模型
	MaxSingleSegmentTime int    `json:"max_single_segment_time" mapstructure:"max_single_segment_time" validate:"min=1000,max=600000"` // VAD最大单段时长（毫秒）

	// 运行时桥接进程
	RuntimeCommand string   `json:"runtime_command" mapstructure:"runtime_command" validate:"required"`
	RuntimeArgs    []string `json:"runtime_args" mapstructure:"runtime_args"`

	// 模型下载
	CacheDir           string `json:"cache_dir" mapstructure:"cache_dir"` // 为空使用 ~/.cache/modelscope/hub/models
	ModelScopeEndpoint string `json:"modelscope_endpoint" mapstructure:"modelscope_endpoint" validate:"required,url"`
	StreamIntervalMs   int    `json:"stream_interval_ms" mapstructure:"stream_interval_ms" validate:"min=50,max=10000"`

	// 批量转写的默认参数
	BatchSizeS          float64 `json:"batch_size_s" mapstructure:"batch_size_s" validate:"gte=0"`
	BatchSizeThresholdS float64 `json:"batch_size_threshold_s" mapstructure:"batch_size_threshold_s" validate:"gte=0"`
	MergeVAD            bool    `json:"merge_vad" mapstructure:"merge_vad"`
	MergeLengthS        float64 `json:"merge_length_s" mapstructure:"merge_length_s" validate:"gte=0"`
	SpkEnable           bool    `json:"spk_enable" mapstructure:"spk_enable"`

	// 输出
	OutputFolder string `json:"output_folder" mapstructure:"output_folder" validate:"required"`
	ExportJSON   bool   `json:"export_json" mapstructure:"export_json"`
	ExportTXT    bool   `json:"export_txt" mapstructure:"export_txt"`
	ExportSRT    bool   `json:"export_srt" mapstructure:"export_srt"`
	DumpRaw      bool   `json:"dump_raw" mapstructure:"dump_raw"`

	// 监听模式
	MediaFolder string `json:"media_folder" mapstructure:"media_folder"`
	WatchMode   bool   `json:"watch_mode" mapstructure:"watch_mode"`

	MaxRetries int     `json:"max_retries" mapstructure:"max_retries" validate:"min=1,max=10"` // 元数据请求最大重试次数
	RetryDelay float64 `json:"retry_delay" mapstructure:"retry_delay" validate:"gte=0.1,lte=10"` // 重试延迟（秒）
}

// ConfigValidationError 表示配置验证错误
type ConfigValidationError struct {
	Field   string
	Message string
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("配置验证错误: %s - %s", e.Field, e.Message)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	return &Config{
		Host:                 "127.0.0.1",
		Port:                 17953,
		LogLevel:             "INFO",
		LogFile:              "",
		ModelID:              "",
		Device:               "",
		VADModel:             "fsmn-vad",
		PuncModel:            "ct-punc",
		SpkModel:             "",
		MaxSingleSegmentTime: 60000,
		RuntimeCommand:       "funasr-bridge",
		RuntimeArgs:          []string{},
		CacheDir:             "",
		ModelScopeEndpoint:   "https://www.modelscope.cn",
		StreamIntervalMs:     500,
		BatchSizeS:           180,
		BatchSizeThresholdS:  60,
		MergeVAD:             false,
		MergeLengthS:         15,
		SpkEnable:            false,
		OutputFolder:         "./outputs",
		ExportJSON:           true,
		ExportTXT:            true,
		ExportSRT:            false,
		DumpRaw:              false,
		MediaFolder:          "./media",
		WatchMode:            false,
		MaxRetries:           3,
		RetryDelay:           1.0,
	}
}

// Validate 验证配置是否有效，返回第一个不合法的字段
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		if c.WatchMode && c.MediaFolder == "" {
			return &ConfigValidationError{"MediaFolder", "监听模式下不能为空"}
		}
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) || len(validationErrors) == 0 {
		return &ConfigValidationError{"Config", err.Error()}
	}

	first := validationErrors[0]
	return &ConfigValidationError{first.StructField(), describeRule(first)}
}

func describeRule(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "不能为空"
	case "url":
		return "必须是有效的URL"
	case "min", "gte":
		return "不能小于" + e.Param()
	case "max", "lte":
		return "不能大于" + e.Param()
	default:
		return "取值无效"
	}
}

// LoadFromFile 从文件加载配置，支持 json/yaml/toml，环境变量 ASR_* 可覆盖文件中的值
func (c *Config) LoadFromFile(path string) error {
	v := viper.New()

	// 先把当前值注册为默认值，AutomaticEnv 才能覆盖到每个键
	defaults, err := c.toMap()
	if err != nil {
		return err
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvPrefix("ASR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			logrus.Errorf("读取配置文件失败: %v", err)
			return err
		}
	}

	loaded := *c
	if err := v.Unmarshal(&loaded); err != nil {
		logrus.Errorf("解析配置文件失败: %v", err)
		return err
	}

	if err := loaded.Validate(); err != nil {
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	*c = loaded
	return nil
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logrus.Errorf("创建目录失败: %v", err)
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		logrus.Errorf("写入配置文件失败: %v", err)
		return err
	}

	return nil
}

// Update 批量更新配置，验证失败时回滚
func (c *Config) Update(updates map[string]interface{}) error {
	tempConfig := *c

	// 将更新序列化为JSON再反序列化到结构体中
	updateBytes, err := json.Marshal(updates)
	if err != nil {
		logrus.Errorf("序列化更新数据失败: %v", err)
		return err
	}

	if err := json.Unmarshal(updateBytes, c); err != nil {
		*c = tempConfig
		logrus.Errorf("应用配置更新失败: %v", err)
		return err
	}

	if err := c.Validate(); err != nil {
		*c = tempConfig
		logrus.Errorf("配置验证失败: %v", err)
		return err
	}

	return nil
}

// Reset 重置为默认配置
func (c *Config) Reset() {
	*c = *NewDefaultConfig()
}

// PrintConfig 打印当前配置
func (c *Config) PrintConfig() {
	logrus.Info("当前配置:")
	bytes, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		logrus.Errorf("序列化配置失败: %v", err)
		return
	}
	logrus.Info(string(bytes))
}

// Address 监听地址
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StreamInterval 下载状态流的轮询间隔
func (c *Config) StreamInterval() time.Duration {
	return time.Duration(c.StreamIntervalMs) * time.Millisecond
}

// InitRequest 根据配置构造模型初始化请求
func (c *Config) InitRequest() InitRequest {
	maxSeg := c.MaxSingleSegmentTime
	return InitRequest{
		ModelID: c.ModelID,
		Device:  c.Device,
		Options: ModelOptions{
			VADModel:             c.VADModel,
			MaxSingleSegmentTime: &maxSeg,
			PuncModel:            c.PuncModel,
			SpkModel:             c.SpkModel,
		},
	}
}

// TranscribeOptions 根据配置构造批量转写的默认选项
func (c *Config) TranscribeOptions() TranscribeOptions {
	batch := c.BatchSizeS
	threshold := c.BatchSizeThresholdS
	opts := TranscribeOptions{
		BatchSizeS:          &batch,
		BatchSizeThresholdS: &threshold,
		MergeVAD:            c.MergeVAD,
		SpkEnable:           c.SpkEnable,
	}
	if c.MergeVAD {
		mergeLen := c.MergeLengthS
		opts.MergeLengthS = &mergeLen
	}
	return opts
}

func (c *Config) toMap() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("序列化配置失败: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return m, nil
}
