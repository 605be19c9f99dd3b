package asr

import "context"

// ResultRecord 模型对单个音频返回的一条原始结果
// 可能包含 sentence_info、stamp_sents 或 text + timestamp，其余键原样保留
type ResultRecord map[string]interface{}

// GenerateOptions 传给模型 generate 调用的关键字参数
type GenerateOptions map[string]interface{}

// Clone 复制一份选项，回退重试时不修改调用方持有的map
func (o GenerateOptions) Clone() GenerateOptions {
	c := make(GenerateOptions, len(o))
	for k, v := range o {
		c[k] = v
	}
	return c
}

// LoadOptions 加载模型时传给运行时的关键字参数
type LoadOptions map[string]interface{}

// Handle 一个已加载、可直接调用的模型实例
type Handle interface {
	// Generate 对 opts["input"] 指定的音频执行识别，阻塞直到完成
	Generate(ctx context.Context, opts GenerateOptions) ([]ResultRecord, error)
	// Close 释放模型占用的资源
	Close() error
}

// Loader 根据加载参数创建模型实例
type Loader interface {
	Load(ctx context.Context, opts LoadOptions) (Handle, error)
}
