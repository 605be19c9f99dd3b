package asr

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// TestBridgeHelperProcess 不是真正的测试，作为子进程扮演模型运行时
func TestBridgeHelperProcess(t *testing.T) {
	if os.Getenv("ASR_BRIDGE_HELPER") != "1" {
		return
	}
	runFakeRuntime()
	os.Exit(0)
}

func runFakeRuntime() {
	reject := os.Getenv("ASR_BRIDGE_REJECT")
	scanner := bufio.NewScanner(os.Stdin)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		var req bridgeRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		resp := map[string]interface{}{"id": req.ID}

		switch req.Op {
		case "load":
			if req.Kwargs["model"] == "missing" {
				resp["error"] = "model missing not found"
				resp["error_type"] = "FileNotFoundError"
			} else {
				resp["ok"] = true
			}
		case "generate":
			if _, ok := req.Kwargs[reject]; ok && reject != "" {
				resp["error"] = fmt.Sprintf("generate() got an unexpected keyword argument '%s'", reject)
				resp["error_type"] = "TypeError"
				break
			}
			if req.Kwargs["input"] == "crash.wav" {
				fmt.Fprintln(os.Stderr, "Segmentation fault")
				os.Exit(3)
			}
			if req.Kwargs["input"] == "slow.wav" {
				time.Sleep(10 * time.Second)
			}
			resp["ok"] = true
			resp["results"] = []interface{}{map[string]interface{}{
				"key":       "a",
				"text":      "你好。再见！",
				"timestamp": [][]int{{0, 500}, {600, 1000}, {1100, 1500}, {1600, 2000}},
				"kwargs":    req.Kwargs,
			}}
		case "close":
			return
		}
		encoder.Encode(resp)
	}
}

func helperBridge(env ...string) *RuntimeBridge {
	bridge := NewRuntimeBridge(os.Args[0], "-test.run=TestBridgeHelperProcess")
	bridge.Env = append(append(os.Environ(), "ASR_BRIDGE_HELPER=1"), env...)
	bridge.CloseTimeout = 2 * time.Second
	return bridge
}

func TestRuntimeBridgeLoadAndGenerate(t *testing.T) {
	bridge := helperBridge()

	handle, err := bridge.Load(context.Background(), LoadOptions{"model": "paraformer-zh"})
	require.NoError(t, err)
	defer handle.Close()

	results, err := handle.Generate(context.Background(), GenerateOptions{"input": "a.wav", "return_stamp": true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "你好。再见！", results[0]["text"])

	segments := ExtractSegments(results[0])
	require.Len(t, segments, 2)
	assert.Equal(t, 1.1, segments[1].StartTime)

	// 同一个子进程可以连续调用
	results, err = handle.Generate(context.Background(), GenerateOptions{"input": "b.wav"})
	require.NoError(t, err)
	assert.Equal(t, "b.wav", results[0]["kwargs"].(map[string]interface{})["input"])
}

func TestRuntimeBridgeLoadFailure(t *testing.T) {
	bridge := helperBridge()

	_, err := bridge.Load(context.Background(), LoadOptions{"model": "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model missing not found")
}

func TestRuntimeBridgeUnsupportedOptionIsTyped(t *testing.T) {
	bridge := helperBridge("ASR_BRIDGE_REJECT=return_stamp")

	handle, err := bridge.Load(context.Background(), LoadOptions{"model": "old-runtime"})
	require.NoError(t, err)
	defer handle.Close()

	_, err = handle.Generate(context.Background(), GenerateOptions{"input": "a.wav", "return_stamp": true})
	var unsupported *UnsupportedOptionError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "return_stamp", unsupported.Option)

	// 配合回退逻辑第二次调用成功
	results, err := GenerateWithFallback(context.Background(), handle, GenerateOptions{"input": "a.wav", "return_stamp": true})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRuntimeBridgeProcessExit(t *testing.T) {
	bridge := helperBridge()

	handle, err := bridge.Load(context.Background(), LoadOptions{"model": "m"})
	require.NoError(t, err)
	defer handle.Close()

	_, err = handle.Generate(context.Background(), GenerateOptions{"input": "crash.wav"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrTransientIO))
	assert.Contains(t, err.Error(), "Segmentation fault")
}

func TestRuntimeBridgeContextCancel(t *testing.T) {
	bridge := helperBridge()

	handle, err := bridge.Load(context.Background(), LoadOptions{"model": "m"})
	require.NoError(t, err)
	defer handle.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = handle.Generate(ctx, GenerateOptions{"input": "slow.wav"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 被结束的句柄不再可用
	_, err = handle.Generate(context.Background(), GenerateOptions{"input": "a.wav"})
	assert.True(t, errors.Is(err, utils.ErrNotInitialized))
}

func TestRuntimeBridgeMissingCommand(t *testing.T) {
	_, err := NewRuntimeBridge("").Load(context.Background(), LoadOptions{})
	assert.True(t, errors.Is(err, utils.ErrConfiguration))

	_, err = NewRuntimeBridge("/nonexistent/funasr-bridge").Load(context.Background(), LoadOptions{})
	assert.True(t, errors.Is(err, utils.ErrConfiguration))
}

func TestResponseErrorMapping(t *testing.T) {
	err := responseError("generate", bridgeResponse{Error: "bad things", ErrorType: "TypeError"})
	var unsupported *UnsupportedOptionError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "", unsupported.Option)

	err = responseError("generate", bridgeResponse{Error: "CUDA out of memory", ErrorType: "RuntimeError"})
	assert.Equal(t, utils.KindInternal, utils.ErrorKindOf(err))
	assert.Contains(t, err.Error(), "RuntimeError: CUDA out of memory")
}
