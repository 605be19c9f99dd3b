package asr

import (
	"context"
	"errors"
	"fmt"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// 未指明具体选项的拒绝按 return_stamp 处理，较老的运行时只缺这一个参数
const fallbackOption = "return_stamp"

// UnsupportedOptionError 运行时不接受某个关键字参数
type UnsupportedOptionError struct {
	Option string // 可能为空，表示运行时没有说明是哪一个
	Cause  error
}

func (e *UnsupportedOptionError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("模型不支持请求中的某个选项: %v", e.Cause)
	}
	return fmt.Sprintf("模型不支持选项 %s: %v", e.Option, e.Cause)
}

func (e *UnsupportedOptionError) Unwrap() error {
	return e.Cause
}

// Is 让 errors.Is(err, utils.ErrUnsupportedOption) 成立
func (e *UnsupportedOptionError) Is(target error) bool {
	return target == utils.ErrUnsupportedOption
}

// BuildGenerateOptions 根据请求构造 generate 参数
func BuildGenerateOptions(audioPath string, opts models.TranscribeOptions) GenerateOptions {
	kwargs := GenerateOptions{"input": audioPath}

	if opts.BatchSizeS != nil {
		kwargs["batch_size_s"] = *opts.BatchSizeS
	}
	if opts.BatchSizeThresholdS != nil {
		kwargs["batch_size_threshold_s"] = *opts.BatchSizeThresholdS
	}
	if opts.SentenceTimestampEnabled() {
		kwargs["sentence_timestamp"] = true
	}
	if opts.WordTimestamp {
		kwargs["word_timestamp"] = true
	}
	if opts.ReturnStampEnabled() {
		kwargs["return_stamp"] = true
	}
	if opts.MergeVAD {
		kwargs["merge_vad"] = true
	}
	if opts.MergeLengthS != nil {
		kwargs["merge_length_s"] = *opts.MergeLengthS
	}

	return kwargs
}

// BuildLoadOptions 根据初始化请求构造模型加载参数
func BuildLoadOptions(req models.InitRequest) LoadOptions {
	kwargs := LoadOptions{"model": req.ModelID, "disable_update": true}
	opts := req.Options

	if opts.VADModel != "" {
		kwargs["vad_model"] = opts.VADModel
		vadKwargs := make(map[string]interface{})
		for k, v := range opts.VADKwargs {
			vadKwargs[k] = v
		}
		if opts.MaxSingleSegmentTime != nil {
			if _, ok := vadKwargs["max_single_segment_time"]; !ok {
				vadKwargs["max_single_segment_time"] = *opts.MaxSingleSegmentTime
			}
		}
		if len(vadKwargs) > 0 {
			kwargs["vad_kwargs"] = vadKwargs
		}
	}
	if opts.PuncModel != "" {
		kwargs["punc_model"] = opts.PuncModel
	}
	if opts.SpkModel != "" {
		kwargs["spk_model"] = opts.SpkModel
	}
	if req.Device != "" {
		kwargs["device"] = req.Device
	}
	if opts.SentenceTimestamp == nil || *opts.SentenceTimestamp {
		kwargs["sentence_timestamp"] = true
	}

	return kwargs
}

// GenerateWithFallback 调用 Generate，运行时拒绝某个选项时去掉它再调用一次
// 只重试一次；被拒绝的选项不在请求里时直接返回原错误
func GenerateWithFallback(ctx context.Context, handle Handle, opts GenerateOptions) ([]ResultRecord, error) {
	results, err := handle.Generate(ctx, opts)
	if err == nil {
		return results, nil
	}

	var unsupported *UnsupportedOptionError
	if !errors.As(err, &unsupported) {
		return nil, err
	}

	option := unsupported.Option
	if option == "" {
		option = fallbackOption
	}
	if _, ok := opts[option]; !ok {
		return nil, err
	}

	retryOpts := opts.Clone()
	delete(retryOpts, option)
	utils.Warn("模型不支持选项 %s，去掉后重试一次", option)

	results, err = handle.Generate(ctx, retryOpts)
	if err != nil {
		return nil, fmt.Errorf("去掉选项 %s 后仍然失败: %w", option, err)
	}
	return results, nil
}
