package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// MediaFile 表示一个可以送去转写的媒体文件
type MediaFile struct {
	Path    string    // 文件路径
	Name    string    // 文件名
	Ext     string    // 小写扩展名
	Size    int64     // 文件大小（字节）
	ModTime time.Time // 修改时间
	IsVideo bool      // 视频文件由运行时自行抽取音轨
	IsAudio bool
}

// MediaScanner 扫描目录中的媒体文件
type MediaScanner struct {
	AudioExtensions []string
	VideoExtensions []string
}

// NewMediaScanner 创建新的媒体扫描器
func NewMediaScanner() *MediaScanner {
	return &MediaScanner{
		AudioExtensions: []string{".mp3", ".wav", ".m4a", ".flac", ".ogg", ".aac", ".pcm"},
		VideoExtensions: []string{".mp4", ".mov", ".avi", ".mkv", ".wmv", ".flv"},
	}
}

// Extensions 返回全部支持的扩展名
func (s *MediaScanner) Extensions() []string {
	exts := make([]string, 0, len(s.AudioExtensions)+len(s.VideoExtensions))
	exts = append(exts, s.AudioExtensions...)
	return append(exts, s.VideoExtensions...)
}

// Classify 按扩展名判断文件类型
func (s *MediaScanner) Classify(path string) (isAudio, isVideo bool) {
	ext := strings.ToLower(filepath.Ext(path))
	return contains(s.AudioExtensions, ext), contains(s.VideoExtensions, ext)
}

// IsMediaFile 是否为支持的媒体文件，隐藏文件和临时下载文件除外
func (s *MediaScanner) IsMediaFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	isAudio, isVideo := s.Classify(path)
	return isAudio || isVideo
}

// ScanDirectory 非递归扫描目录，按修改时间从早到晚返回
func (s *MediaScanner) ScanDirectory(dir string) ([]MediaFile, error) {
	utils.Info("开始扫描目录: %s", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var mediaFiles []MediaFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if !s.IsMediaFile(path) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			utils.Warn("获取文件信息失败: %v", err)
			continue
		}

		isAudio, isVideo := s.Classify(path)
		mediaFiles = append(mediaFiles, MediaFile{
			Path:    path,
			Name:    entry.Name(),
			Ext:     strings.ToLower(filepath.Ext(path)),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsVideo: isVideo,
			IsAudio: isAudio,
		})
	}

	sort.SliceStable(mediaFiles, func(i, j int) bool {
		if mediaFiles[i].ModTime.Equal(mediaFiles[j].ModTime) {
			return mediaFiles[i].Name < mediaFiles[j].Name
		}
		return mediaFiles[i].ModTime.Before(mediaFiles[j].ModTime)
	})

	utils.Info("扫描完成，共找到 %d 个媒体文件", len(mediaFiles))
	return mediaFiles, nil
}

// FilterNewFiles 根据已处理记录过滤出新文件
func (s *MediaScanner) FilterNewFiles(files []MediaFile, processed func(path string) bool) []MediaFile {
	var newFiles []MediaFile
	for _, file := range files {
		if !processed(file.Path) {
			newFiles = append(newFiles, file)
		}
	}

	utils.Info("过滤后剩余 %d 个新文件需要处理", len(newFiles))
	return newFiles
}

func contains(list []string, ext string) bool {
	for _, item := range list {
		if item == ext {
			return true
		}
	}
	return false
}
