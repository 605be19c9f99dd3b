package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// ModelService 模型的加载与查询
type ModelService interface {
	Initialize(ctx context.Context, req models.InitRequest) ([]string, error)
	CurrentModel() string
}

// TaskService 转写任务
type TaskService interface {
	Submit(audioPath string, opts models.TranscribeOptions) (string, error)
	Get(id string) (models.Task, error)
	List() []models.Task
	Count() int
	ActiveCount() int
}

// DownloadService 模型下载
type DownloadService interface {
	Submit(modelID, cacheDir string) error
	Cancel(modelID string) bool
	Status(modelID string) models.DownloadState
	StreamStatus(ctx context.Context, modelID string) <-chan models.DownloadEvent
}

// Server 转写服务的HTTP接口
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	models    ModelService
	tasks     TaskService
	downloads DownloadService
}

// New 创建服务并注册路由
func New(addr string, modelService ModelService, taskService TaskService, downloadService DownloadService) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(requestID(), recovery(), requestLogger())

	s := &Server{
		engine:    engine,
		models:    modelService,
		tasks:     taskService,
		downloads: downloadService,
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/initialize", s.handleInitialize)
	s.engine.POST("/transcribe", s.handleTranscribe)
	s.engine.GET("/task/:task_id", s.handleGetTask)
	s.engine.GET("/tasks", s.handleListTasks)

	s.engine.POST("/download-model", s.handleDownloadModel)
	s.engine.GET("/download-status", s.handleDownloadStatus)
	s.engine.GET("/download-progress", s.handleDownloadProgress)
	s.engine.DELETE("/download-model", s.handleCancelDownload)
}

// Handler 返回底层的 http.Handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 开始监听，直到 Shutdown 被调用
func (s *Server) Start() error {
	utils.Info("HTTP服务启动，监听 %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接收新请求并等待处理中的请求结束
func (s *Server) Shutdown(ctx context.Context) error {
	utils.Info("正在关闭HTTP服务...")
	return s.httpServer.Shutdown(ctx)
}
