package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// DefaultEndpoint ModelScope 官方站点
const DefaultEndpoint = "https://www.modelscope.cn"

const (
	defaultRevision = "master"
	tempSuffix      = ".download"
	copyBufferSize  = 32 * 1024
)

// DefaultCacheDir 默认模型缓存目录 ~/.cache/modelscope/hub/models
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cache", "modelscope", "hub", "models")
}

// ModelScopeFetcher 从 ModelScope 仓库下载模型文件
type ModelScopeFetcher struct {
	Endpoint string
	Revision string
	CacheDir string // 请求未指定缓存目录时使用，为空则用 DefaultCacheDir
	Client   *http.Client
	Errors   *utils.ErrorHandler // 列文件请求的重试，文件内容不重试
}

// NewModelScopeFetcher 创建下载器
func NewModelScopeFetcher(endpoint string, maxRetries int, retryDelay float64) *ModelScopeFetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &ModelScopeFetcher{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Revision: defaultRevision,
		Client:   &http.Client{Timeout: 0},
		Errors:   utils.NewErrorHandler(maxRetries, retryDelay),
	}
}

// repoFile 仓库文件列表中的一项
type repoFile struct {
	Name string `json:"Name"`
	Path string `json:"Path"`
	Type string `json:"Type"` // blob 或 tree
	Size int64  `json:"Size"`
}

type repoFilesResponse struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
	Data    struct {
		Files []repoFile `json:"Files"`
	} `json:"Data"`
}

// Fetch 下载模型的全部文件到 {cacheDir}/{modelID}
func (f *ModelScopeFetcher) Fetch(ctx context.Context, modelID, cacheDir string, factory TrackerFactory) (string, error) {
	if cacheDir == "" {
		cacheDir = f.CacheDir
	}
	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	target := filepath.Join(cacheDir, filepath.FromSlash(modelID))

	var files []repoFile
	err := f.Errors.RetryIf("获取模型文件列表", func() error {
		var listErr error
		files, listErr = f.listFiles(ctx, modelID)
		return listErr
	}, func(err error) bool {
		return ctx.Err() == nil && isRetryable(err)
	})
	if err != nil {
		return "", err
	}

	blobs := 0
	for _, file := range files {
		if file.Type != "blob" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		blobs++

		tracker := factory(file.Path, file.Size)
		err := f.downloadFile(ctx, modelID, file, target, tracker)
		tracker.End()
		if err != nil {
			return "", err
		}
	}

	if blobs == 0 {
		return "", utils.NewError(utils.KindNotFound, fmt.Sprintf("模型 %s 的仓库中没有文件", modelID), nil)
	}
	return target, nil
}

// isRetryable 只有网络类错误值得重试
func isRetryable(err error) bool {
	switch utils.ErrorKindOf(err) {
	case utils.KindNotFound, utils.KindInvalidRequest, utils.KindDownloadCancelled:
		return false
	}
	return true
}

func (f *ModelScopeFetcher) listFiles(ctx context.Context, modelID string) ([]repoFile, error) {
	query := url.Values{}
	query.Set("Revision", f.revision())
	query.Set("Recursive", "true")
	endpoint := fmt.Sprintf("%s/api/v1/models/%s/repo/files?%s", f.Endpoint, modelID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, utils.NewError(utils.KindInvalidRequest, "构造文件列表请求失败", err)
	}

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, utils.NewError(utils.KindTransientIO, "请求模型文件列表失败", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, utils.NewError(utils.KindNotFound, fmt.Sprintf("模型 %s 不存在", modelID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, utils.NewError(utils.KindTransientIO, fmt.Sprintf("模型文件列表返回状态码 %d", resp.StatusCode), nil)
	}

	var body repoFilesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, utils.NewError(utils.KindTransientIO, "解析模型文件列表失败", err)
	}
	if body.Code != 0 && body.Code != http.StatusOK {
		return nil, utils.NewError(utils.KindTransientIO, fmt.Sprintf("模型文件列表返回错误: %s", body.Message), nil)
	}
	return body.Data.Files, nil
}

// downloadFile 先写入临时文件，完成后再改名
func (f *ModelScopeFetcher) downloadFile(ctx context.Context, modelID string, file repoFile, target string, tracker ProgressTracker) error {
	dest, err := safeJoin(target, file.Path)
	if err != nil {
		return err
	}

	// 已存在且大小一致的文件直接跳过，但仍计入进度
	if info, err := os.Stat(dest); err == nil && !info.IsDir() && info.Size() == file.Size {
		utils.Debug("文件已存在，跳过: %s", dest)
		if file.Size > 0 {
			return tracker.Update(file.Size)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tmp := dest + tempSuffix
	return f.Errors.SafeExecute("下载 "+file.Path, func() error {
		return f.copyBlob(ctx, modelID, file.Path, tmp, dest, tracker)
	}, func() {
		os.Remove(tmp)
	})
}

func (f *ModelScopeFetcher) copyBlob(ctx context.Context, modelID, filePath, tmp, dest string, tracker ProgressTracker) error {
	query := url.Values{}
	query.Set("Revision", f.revision())
	query.Set("FilePath", filePath)
	endpoint := fmt.Sprintf("%s/api/v1/models/%s/repo?%s", f.Endpoint, modelID, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return utils.NewError(utils.KindInvalidRequest, "构造下载请求失败", err)
	}

	resp, err := f.client().Do(req)
	if err != nil {
		return utils.NewError(utils.KindTransientIO, fmt.Sprintf("下载 %s 失败", filePath), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewError(utils.KindTransientIO, fmt.Sprintf("下载 %s 返回状态码 %d", filePath, resp.StatusCode), nil)
	}

	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}

	start := time.Now()
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				return fmt.Errorf("写入临时文件失败: %w", err)
			}
			if err := tracker.Update(int64(n)); err != nil {
				out.Close()
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			out.Close()
			return utils.NewError(utils.KindTransientIO, fmt.Sprintf("读取 %s 失败", filePath), readErr)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("重命名文件失败: %w", err)
	}

	utils.Debug("下载完成 %s，耗时 %s", filePath, time.Since(start).Round(time.Millisecond))
	return nil
}

func (f *ModelScopeFetcher) revision() string {
	if f.Revision == "" {
		return defaultRevision
	}
	return f.Revision
}

func (f *ModelScopeFetcher) client() *http.Client {
	if f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

// safeJoin 拒绝跳出模型目录的路径
func safeJoin(root, rel string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(rel))
	within, err := filepath.Rel(root, dest)
	if err != nil || within == "." || strings.HasPrefix(within, "..") {
		return "", utils.NewError(utils.KindInvalidRequest, fmt.Sprintf("非法的文件路径: %s", rel), nil)
	}
	return dest, nil
}
