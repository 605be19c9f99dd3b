package models

// Result 一次批量转写的统计信息
type Result struct {
	FilePath      string            `json:"file_path"`       // 处理的音频路径
	TaskID        string            `json:"task_id"`         // 对应的转写任务
	Model         string            `json:"model"`           // 使用的模型
	OutputFiles   map[string]string `json:"output_files"`    // 输出文件路径，键为 json/txt/srt/raw
	SegmentCount  int               `json:"segment_count"`   // 识别的文本段数
	Degraded      bool              `json:"degraded"`        // 只得到一个段落，模型可能不支持句级时间戳
	DurationMs    int64             `json:"duration_ms"`     // 音频时长（毫秒），取最后一段的结束时间
	ProcessTimeMs int64             `json:"process_time_ms"` // 处理时间（毫秒）
}
