package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

type initializeRequest struct {
	ASRModel string                 `json:"asr_model" binding:"required"`
	Device   string                 `json:"device"`
	Options  map[string]interface{} `json:"options"`
}

type transcribeRequest struct {
	AudioPath string                 `json:"audio_path" binding:"required"`
	Options   map[string]interface{} `json:"options"`
}

type downloadRequest struct {
	ModelID  string `json:"model_id" binding:"required"`
	CacheDir string `json:"cache_dir"`
}

// statusForError 按错误类型选择HTTP状态码
func statusForError(err error) int {
	switch utils.ErrorKindOf(err) {
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindNotInitialized:
		return http.StatusConflict
	case utils.KindConfiguration:
		return http.StatusServiceUnavailable
	case utils.KindInvalidRequest, utils.KindUnsupportedOption:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{
		"error": err.Error(),
		"kind":  string(utils.ErrorKindOf(err)),
	})
}

func badRequest(c *gin.Context, err error) {
	respondWithError(c, utils.NewError(utils.KindInvalidRequest, "无效的请求体", err))
}

func (s *Server) handleHealth(c *gin.Context) {
	var model interface{}
	if id := s.models.CurrentModel(); id != "" {
		model = id
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"model":             model,
		"task_count":        s.tasks.Count(),
		"active_task_count": s.tasks.ActiveCount(),
	})
}

func (s *Server) handleInitialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	utils.WithField("model_id", req.ASRModel).Info("收到模型初始化请求")

	// 加载可能持续数分钟，客户端断开也不能中途杀掉运行时
	loaded, err := s.models.Initialize(context.WithoutCancel(c.Request.Context()), models.InitRequest{
		ModelID: req.ASRModel,
		Device:  req.Device,
		Options: models.ModelOptionsFromMap(req.Options),
	})
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ready",
		"loaded_models": loaded,
	})
}

func (s *Server) handleTranscribe(c *gin.Context) {
	var req transcribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	taskID, err := s.tasks.Submit(req.AudioPath, models.TranscribeOptionsFromMap(req.Options))
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"status":  models.TaskQueued,
	})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Param("task_id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.tasks.List()})
}

func (s *Server) handleDownloadModel(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := s.downloads.Submit(req.ModelID, req.CacheDir); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"model_id": req.ModelID,
		"status":   models.DownloadDownloading,
	})
}

// modelIDQuery 模型ID中带斜杠，统一用查询参数传递
func modelIDQuery(c *gin.Context) (string, bool) {
	modelID := c.Query("model_id")
	if modelID == "" {
		respondWithError(c, utils.NewError(utils.KindInvalidRequest, "缺少 model_id 参数", nil))
		return "", false
	}
	return modelID, true
}

func (s *Server) handleDownloadStatus(c *gin.Context) {
	modelID, ok := modelIDQuery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.downloads.Status(modelID))
}

func (s *Server) handleCancelDownload(c *gin.Context) {
	modelID, ok := modelIDQuery(c)
	if !ok {
		return
	}

	if !s.downloads.Cancel(modelID) {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   fmt.Sprintf("模型 %s 没有正在进行的下载", modelID),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "model_id": modelID})
}

// handleDownloadProgress 以 SSE 推送下载进度，进入终态后结束
func (s *Server) handleDownloadProgress(c *gin.Context) {
	modelID, ok := modelIDQuery(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for event := range s.downloads.StreamStatus(c.Request.Context(), modelID) {
		var payload interface{} = event.State
		if event.State == nil {
			payload = gin.H{"error": event.Err}
		}

		data, err := json.Marshal(payload)
		if err != nil {
			utils.Error("序列化下载事件失败: %v", err)
			return
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			utils.Debug("客户端已断开: %v", err)
			return
		}
		c.Writer.Flush()
	}
}
