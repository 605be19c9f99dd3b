package models

import "time"

// DataSegment 表示一段带时间戳的识别文本
type DataSegment struct {
	Text      string  `json:"text"`      // 识别出的文本内容
	StartTime float64 `json:"start_sec"` // 开始时间（秒）
	EndTime   float64 `json:"end_sec"`   // 结束时间（秒）
}

// TaskStatus 转写任务状态
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsTerminal 是否为终态
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskResult 转写结果：切分好的段落以及模型返回的原始记录
type TaskResult struct {
	Segments []DataSegment         `json:"segments"`
	Raw      map[string]interface{} `json:"raw"`
}

// Task 一个异步转写任务
type Task struct {
	ID        string                 `json:"task_id"`
	AudioPath string                 `json:"audio_path"`
	Status    TaskStatus             `json:"status"`
	Progress  float64                `json:"progress"`
	Result    *TaskResult            `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Clone 返回任务的深拷贝，调用方可以随意修改而不影响管理器内部状态
func (t Task) Clone() Task {
	c := t
	if t.Result != nil {
		r := TaskResult{}
		if t.Result.Segments != nil {
			r.Segments = make([]DataSegment, len(t.Result.Segments))
			copy(r.Segments, t.Result.Segments)
		}
		if t.Result.Raw != nil {
			r.Raw = CloneMap(t.Result.Raw)
		}
		c.Result = &r
	}
	if t.Metadata != nil {
		c.Metadata = CloneMap(t.Metadata)
	}
	return c
}

// CloneMap 递归复制JSON风格的map
func CloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// DownloadStatus 模型下载状态
type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
)

// IsTerminal 是否为终态
func (s DownloadStatus) IsTerminal() bool {
	return s == DownloadCompleted || s == DownloadFailed
}

// DownloadState 单个模型的下载进度
type DownloadState struct {
	ModelID        string         `json:"model_id"`
	Status         DownloadStatus `json:"status"`
	Progress       float64        `json:"progress"` // 0-100
	DownloadedSize int64          `json:"downloaded_size"`
	TotalSize      int64          `json:"total_size"`
	DownloadPath   string         `json:"download_path,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// DownloadEvent 下载状态流中的一条事件，Err 非空时表示流因错误结束
type DownloadEvent struct {
	State *DownloadState
	Err   string
}
