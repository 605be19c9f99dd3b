package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// 运行时以 Python 异常类型名报告参数错误
const typeErrorName = "TypeError"

var unexpectedKeywordPattern = regexp.MustCompile(`unexpected keyword argument '([A-Za-z_][A-Za-z0-9_]*)'`)

// RuntimeBridge 通过子进程驱动外部模型运行时
// 每个句柄对应一个常驻子进程，双方在 stdin/stdout 上逐行交换JSON
type RuntimeBridge struct {
	Command      string
	Args         []string
	Env          []string      // 为空时继承当前进程环境
	CloseTimeout time.Duration // 关闭时等待子进程退出的时间
}

// NewRuntimeBridge 创建运行时桥接
func NewRuntimeBridge(command string, args ...string) *RuntimeBridge {
	return &RuntimeBridge{
		Command:      command,
		Args:         args,
		CloseTimeout: 5 * time.Second,
	}
}

type bridgeRequest struct {
	ID     int64                  `json:"id"`
	Op     string                 `json:"op"`
	Kwargs map[string]interface{} `json:"kwargs,omitempty"`
}

type bridgeResponse struct {
	ID        int64          `json:"id"`
	OK        bool           `json:"ok"`
	Results   []ResultRecord `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
}

// Load 启动一个子进程并让它加载模型
func (b *RuntimeBridge) Load(ctx context.Context, opts LoadOptions) (Handle, error) {
	if b.Command == "" {
		return nil, utils.NewError(utils.KindConfiguration, "未配置运行时命令", nil)
	}

	h, err := b.start()
	if err != nil {
		return nil, err
	}

	if _, err := h.call(ctx, "load", opts); err != nil {
		h.Close()
		return nil, err
	}

	utils.WithFields(map[string]interface{}{
		"pid":   h.cmd.Process.Pid,
		"model": opts["model"],
	}).Info("运行时进程已加载模型")
	return h, nil
}

func (b *RuntimeBridge) start() (*bridgeHandle, error) {
	cmd := exec.Command(b.Command, b.Args...)
	if len(b.Env) > 0 {
		cmd.Env = b.Env
	} else {
		cmd.Env = os.Environ()
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, utils.NewError(utils.KindConfiguration, "创建运行时输入管道失败", err)
	}

	// 由 exec 负责把子进程输出拷贝进管道，Wait 返回时拷贝已经结束
	stdoutReader, stdoutWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, utils.NewError(utils.KindConfiguration, fmt.Sprintf("启动运行时 %s 失败", b.Command), err)
	}

	closeTimeout := b.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 5 * time.Second
	}

	h := &bridgeHandle{
		cmd:          cmd,
		stdin:        stdin,
		encoder:      json.NewEncoder(stdin),
		responses:    make(chan bridgeResponse, 1),
		readerDone:   make(chan struct{}),
		quit:         make(chan struct{}),
		exited:       make(chan struct{}),
		stderr:       stderr,
		closeTimeout: closeTimeout,
	}

	go func() {
		h.exitErr = cmd.Wait()
		stdoutWriter.Close()
		close(h.exited)
	}()
	go h.readLoop(stdoutReader)

	return h, nil
}

// bridgeHandle 一个常驻子进程，调用串行执行
type bridgeHandle struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	encoder *json.Encoder
	nextID  int64
	closed  bool

	responses  chan bridgeResponse
	readerDone chan struct{}
	quit       chan struct{}
	quitOnce   sync.Once
	exited     chan struct{}
	exitErr    error

	stderr       *tailBuffer
	closeTimeout time.Duration
}

func (h *bridgeHandle) readLoop(r io.Reader) {
	defer close(h.readerDone)
	decoder := json.NewDecoder(r)
	for {
		var resp bridgeResponse
		if err := decoder.Decode(&resp); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				utils.Warn("解析运行时输出失败: %v", err)
			}
			return
		}
		select {
		case h.responses <- resp:
		case <-h.quit:
			// 已关闭，继续读完输出让子进程能正常退出
		}
	}
}

// Generate 在子进程中执行识别
func (h *bridgeHandle) Generate(ctx context.Context, opts GenerateOptions) ([]ResultRecord, error) {
	resp, err := h.call(ctx, "generate", opts)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (h *bridgeHandle) call(ctx context.Context, op string, kwargs map[string]interface{}) (bridgeResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return bridgeResponse{}, utils.NewError(utils.KindNotInitialized, "运行时进程已关闭", nil)
	}

	h.nextID++
	id := h.nextID
	if err := h.encoder.Encode(bridgeRequest{ID: id, Op: op, Kwargs: kwargs}); err != nil {
		return bridgeResponse{}, h.processError(fmt.Sprintf("向运行时发送 %s 请求失败", op), err)
	}

	for {
		select {
		case resp := <-h.responses:
			if resp.ID != id {
				// 之前被取消的调用留下的迟到响应
				continue
			}
			if resp.Error != "" || !resp.OK {
				return resp, responseError(op, resp)
			}
			return resp, nil
		case <-h.readerDone:
			return bridgeResponse{}, h.processError(fmt.Sprintf("运行时在 %s 过程中退出", op), nil)
		case <-ctx.Done():
			// 子进程无法中断单次调用，只能结束它
			h.kill()
			return bridgeResponse{}, ctx.Err()
		}
	}
}

// responseError 把运行时报告的错误转换为服务错误
func responseError(op string, resp bridgeResponse) error {
	message := resp.Error
	if message == "" {
		message = "运行时返回失败但没有错误信息"
	}
	cause := errors.New(message)

	if resp.ErrorType == typeErrorName {
		option := ""
		if m := unexpectedKeywordPattern.FindStringSubmatch(message); m != nil {
			option = m[1]
		}
		return &UnsupportedOptionError{Option: option, Cause: cause}
	}
	if resp.ErrorType != "" {
		cause = fmt.Errorf("%s: %s", resp.ErrorType, message)
	}
	return utils.NewError(utils.KindInternal, fmt.Sprintf("运行时 %s 调用失败", op), cause)
}

func (h *bridgeHandle) processError(message string, cause error) error {
	if tail := strings.TrimSpace(h.stderr.String()); tail != "" {
		message = fmt.Sprintf("%s，stderr: %s", message, tail)
	}
	return utils.NewError(utils.KindTransientIO, message, cause)
}

// kill 调用方需持有 h.mu
func (h *bridgeHandle) kill() {
	h.closed = true
	if h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}
}

// Close 通知子进程退出，超时后强制结束；会等待正在进行的调用完成
func (h *bridgeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.closed {
		h.closed = true
		h.nextID++
		h.encoder.Encode(bridgeRequest{ID: h.nextID, Op: "close"})
		h.stdin.Close()
	}
	h.quitOnce.Do(func() { close(h.quit) })

	select {
	case <-h.exited:
	case <-time.After(h.closeTimeout):
		utils.Warn("运行时进程 %d 未按时退出，强制结束", h.cmd.Process.Pid)
		h.cmd.Process.Kill()
		<-h.exited
	}

	var exitErr *exec.ExitError
	if h.exitErr != nil && !errors.As(h.exitErr, &exitErr) {
		return h.exitErr
	}
	return nil
}

// tailBuffer 只保留最后 limit 字节的输出
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
