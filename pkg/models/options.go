package models

import (
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// TranscribeOptions 单次转写请求的选项
// 指针字段用于区分"未设置"和零值
type TranscribeOptions struct {
	BatchSizeS          *float64 `json:"batch_size_s,omitempty"`
	BatchSizeThresholdS *float64 `json:"batch_size_threshold_s,omitempty"`
	SentenceTimestamp   *bool    `json:"sentence_timestamp,omitempty"` // 默认开启
	WordTimestamp       bool     `json:"word_timestamp,omitempty"`
	ReturnStamp         *bool    `json:"return_stamp,omitempty"` // 默认开启
	MergeVAD            bool     `json:"merge_vad,omitempty"`
	MergeLengthS        *float64 `json:"merge_length_s,omitempty"`
	SpkEnable           bool     `json:"spk_enable,omitempty"` // 选择带说话人模型的句柄
}

// SentenceTimestampEnabled 句级时间戳是否开启
func (o TranscribeOptions) SentenceTimestampEnabled() bool {
	return o.SentenceTimestamp == nil || *o.SentenceTimestamp
}

// ReturnStampEnabled 是否请求时间戳信息
func (o TranscribeOptions) ReturnStampEnabled() bool {
	return o.ReturnStamp == nil || *o.ReturnStamp
}

// WithoutSpeaker 是否使用去掉说话人模型的句柄
func (o TranscribeOptions) WithoutSpeaker() bool {
	return !o.SpkEnable
}

// ToMap 转为JSON风格的map，用于写入任务元数据
func (o TranscribeOptions) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"sentence_timestamp": o.SentenceTimestampEnabled(),
		"return_stamp":       o.ReturnStampEnabled(),
		"spk_enable":         o.SpkEnable,
	}
	if o.BatchSizeS != nil {
		m["batch_size_s"] = *o.BatchSizeS
	}
	if o.BatchSizeThresholdS != nil {
		m["batch_size_threshold_s"] = *o.BatchSizeThresholdS
	}
	if o.WordTimestamp {
		m["word_timestamp"] = true
	}
	if o.MergeVAD {
		m["merge_vad"] = true
	}
	if o.MergeLengthS != nil {
		m["merge_length_s"] = *o.MergeLengthS
	}
	return m
}

// TranscribeOptionsFromMap 从请求里的options字典解析转写选项，未识别的键被忽略
func TranscribeOptionsFromMap(m map[string]interface{}) TranscribeOptions {
	var opts TranscribeOptions
	if m == nil {
		return opts
	}
	opts.BatchSizeS = floatPtr(m, "batch_size_s")
	opts.BatchSizeThresholdS = floatPtr(m, "batch_size_threshold_s")
	opts.MergeLengthS = floatPtr(m, "merge_length_s")
	opts.SentenceTimestamp = boolPtr(m, "sentence_timestamp")
	opts.ReturnStamp = boolPtr(m, "return_stamp")
	opts.WordTimestamp = utils.GetBoolValue(m, "word_timestamp", false)
	opts.MergeVAD = utils.GetBoolValue(m, "merge_vad", false)
	opts.SpkEnable = utils.GetBoolValue(m, "spk_enable", false)
	return opts
}

// ModelOptions 加载模型时的附加选项
type ModelOptions struct {
	VADModel             string                 `json:"vad_model,omitempty"`
	VADKwargs            map[string]interface{} `json:"vad_kwargs,omitempty"`
	MaxSingleSegmentTime *int                   `json:"max_single_segment_time,omitempty"` // 毫秒
	PuncModel            string                 `json:"punc_model,omitempty"`
	SpkModel             string                 `json:"spk_model,omitempty"`
	SentenceTimestamp    *bool                  `json:"sentence_timestamp,omitempty"` // 默认开启
}

// ModelOptionsFromMap 从初始化请求的options字典解析模型选项
func ModelOptionsFromMap(m map[string]interface{}) ModelOptions {
	var opts ModelOptions
	if m == nil {
		return opts
	}
	opts.VADModel = utils.GetStringValue(m, "vad_model", "")
	opts.PuncModel = utils.GetStringValue(m, "punc_model", "")
	opts.SpkModel = utils.GetStringValue(m, "spk_model", "")
	if kw, ok := m["vad_kwargs"].(map[string]interface{}); ok {
		opts.VADKwargs = CloneMap(kw)
	}
	if f := floatPtr(m, "max_single_segment_time"); f != nil {
		ms := int(*f)
		opts.MaxSingleSegmentTime = &ms
	}
	opts.SentenceTimestamp = boolPtr(m, "sentence_timestamp")
	return opts
}

// InitRequest 模型初始化请求
type InitRequest struct {
	ModelID string       `json:"asr_model"`
	Device  string       `json:"device,omitempty"`
	Options ModelOptions `json:"options"`
}

func floatPtr(m map[string]interface{}, key string) *float64 {
	val, ok := m[key]
	if !ok || val == nil {
		return nil
	}
	f, ok := utils.ToFloat64(val)
	if !ok {
		return nil
	}
	return &f
}

func boolPtr(m map[string]interface{}, key string) *bool {
	if _, ok := m[key]; !ok {
		return nil
	}
	b := utils.GetBoolValue(m, key, true)
	return &b
}
