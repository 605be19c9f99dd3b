package asr

import (
	"context"
	"sync"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// handlePair 同一个模型的两个句柄，重新初始化时整体替换
type handlePair struct {
	modelID        string
	full           Handle // 带说话人模型
	withoutSpeaker Handle // 去掉说话人模型
}

// ModelManager 管理已加载的模型句柄
// 加载和查找都在同一把锁内进行，识别调用本身不持有锁
type ModelManager struct {
	mu     sync.Mutex
	loader Loader
	pair   *handlePair
}

// NewModelManager 创建模型管理器
func NewModelManager(loader Loader) *ModelManager {
	return &ModelManager{loader: loader}
}

// Initialize 加载完整句柄和去掉说话人模型的句柄，成功后替换旧的句柄对
// 任一加载失败时保留原来的句柄对，返回 ConfigurationError
func (m *ModelManager) Initialize(ctx context.Context, req models.InitRequest) ([]string, error) {
	if req.ModelID == "" {
		return nil, utils.NewError(utils.KindInvalidRequest, "模型标识不能为空", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	log := utils.WithField("model_id", req.ModelID)

	fullOpts := BuildLoadOptions(req)
	log.Infof("加载模型，参数: %v", fullOpts)
	full, err := m.loader.Load(ctx, fullOpts)
	if err != nil {
		return nil, utils.NewError(utils.KindConfiguration, "加载模型失败", err)
	}

	speakerFree := req
	speakerFree.Options.SpkModel = ""
	withoutSpeaker, err := m.loader.Load(ctx, BuildLoadOptions(speakerFree))
	if err != nil {
		closeHandle(full)
		return nil, utils.NewError(utils.KindConfiguration, "加载不带说话人的模型失败", err)
	}

	old := m.pair
	m.pair = &handlePair{
		modelID:        req.ModelID,
		full:           full,
		withoutSpeaker: withoutSpeaker,
	}
	if old != nil {
		// 旧句柄可能还在识别，放到后台释放
		go func() {
			closeHandle(old.full)
			closeHandle(old.withoutSpeaker)
		}()
	}

	log.Info("模型加载完成")
	return []string{req.ModelID}, nil
}

// EnsureLoaded 返回请求的句柄，未初始化时返回 NotInitialized
func (m *ModelManager) EnsureLoaded(withoutSpeaker bool) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pair == nil {
		return nil, utils.NewError(utils.KindNotInitialized, "模型尚未初始化", nil)
	}
	if withoutSpeaker {
		if m.pair.withoutSpeaker == nil {
			return nil, utils.NewError(utils.KindNotInitialized, "不带说话人的模型尚未初始化", nil)
		}
		return m.pair.withoutSpeaker, nil
	}
	if m.pair.full == nil {
		return nil, utils.NewError(utils.KindNotInitialized, "模型尚未初始化", nil)
	}
	return m.pair.full, nil
}

// CurrentModel 当前加载的模型标识，未加载时为空
func (m *ModelManager) CurrentModel() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair == nil {
		return ""
	}
	return m.pair.modelID
}

// Loaded 是否已有可用的句柄对
func (m *ModelManager) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pair != nil
}

// Close 释放当前句柄对
func (m *ModelManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pair == nil {
		return
	}
	closeHandle(m.pair.full)
	closeHandle(m.pair.withoutSpeaker)
	m.pair = nil
}

func closeHandle(h Handle) {
	if h == nil {
		return
	}
	if err := h.Close(); err != nil {
		utils.Warn("释放模型句柄失败: %v", err)
	}
}
