package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

type mockModels struct{ mock.Mock }

func (m *mockModels) Initialize(ctx context.Context, req models.InitRequest) ([]string, error) {
	args := m.Called(ctx, req)
	loaded, _ := args.Get(0).([]string)
	return loaded, args.Error(1)
}

func (m *mockModels) CurrentModel() string {
	return m.Called().String(0)
}

type mockTasks struct{ mock.Mock }

func (m *mockTasks) Submit(audioPath string, opts models.TranscribeOptions) (string, error) {
	args := m.Called(audioPath, opts)
	return args.String(0), args.Error(1)
}

func (m *mockTasks) Get(id string) (models.Task, error) {
	args := m.Called(id)
	task, _ := args.Get(0).(models.Task)
	return task, args.Error(1)
}

func (m *mockTasks) List() []models.Task {
	list, _ := m.Called().Get(0).([]models.Task)
	return list
}

func (m *mockTasks) Count() int       { return m.Called().Int(0) }
func (m *mockTasks) ActiveCount() int { return m.Called().Int(0) }

type mockDownloads struct{ mock.Mock }

func (m *mockDownloads) Submit(modelID, cacheDir string) error {
	return m.Called(modelID, cacheDir).Error(0)
}

func (m *mockDownloads) Cancel(modelID string) bool {
	return m.Called(modelID).Bool(0)
}

func (m *mockDownloads) Status(modelID string) models.DownloadState {
	return m.Called(modelID).Get(0).(models.DownloadState)
}

func (m *mockDownloads) StreamStatus(ctx context.Context, modelID string) <-chan models.DownloadEvent {
	return m.Called(ctx, modelID).Get(0).(<-chan models.DownloadEvent)
}

type fixture struct {
	models    *mockModels
	tasks     *mockTasks
	downloads *mockDownloads
	server    *Server
}

func newFixture() *fixture {
	f := &fixture{models: &mockModels{}, tasks: &mockTasks{}, downloads: &mockDownloads{}}
	f.server = New("127.0.0.1:0", f.models, f.tasks, f.downloads)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	f := newFixture()
	f.models.On("CurrentModel").Return("paraformer-zh")
	f.tasks.On("Count").Return(3)
	f.tasks.On("ActiveCount").Return(1)

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "paraformer-zh", body["model"])
	assert.Equal(t, 3.0, body["task_count"])
	assert.Equal(t, 1.0, body["active_task_count"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestHealthWithoutModel(t *testing.T) {
	f := newFixture()
	f.models.On("CurrentModel").Return("")
	f.tasks.On("Count").Return(0)
	f.tasks.On("ActiveCount").Return(0)

	body := decode(t, f.do(http.MethodGet, "/health", ""))
	assert.Nil(t, body["model"])
}

func TestInitialize(t *testing.T) {
	f := newFixture()
	f.models.On("Initialize", mock.Anything, mock.MatchedBy(func(req models.InitRequest) bool {
		return req.ModelID == "paraformer-zh" &&
			req.Device == "cpu" &&
			req.Options.VADModel == "fsmn-vad" &&
			req.Options.MaxSingleSegmentTime != nil &&
			*req.Options.MaxSingleSegmentTime == 30000
	})).Return([]string{"paraformer-zh"}, nil)

	rec := f.do(http.MethodPost, "/initialize",
		`{"asr_model":"paraformer-zh","device":"cpu","options":{"vad_model":"fsmn-vad","max_single_segment_time":30000}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, []interface{}{"paraformer-zh"}, body["loaded_models"])
}

func TestInitializeSurvivesClientDisconnect(t *testing.T) {
	f := newFixture()

	reqCtx, cancel := context.WithCancel(context.Background())
	var loadCtx context.Context
	f.models.On("Initialize", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			loadCtx = args.Get(0).(context.Context)
			// 客户端在加载过程中断开
			cancel()
		}).
		Return([]string{"paraformer-zh"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/initialize", strings.NewReader(`{"asr_model":"paraformer-zh"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(reqCtx)
	f.server.Handler().ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, loadCtx)
	assert.Error(t, reqCtx.Err())
	assert.NoError(t, loadCtx.Err())
}

func TestInitializeLoadFailure(t *testing.T) {
	f := newFixture()
	f.models.On("Initialize", mock.Anything, mock.Anything).
		Return(nil, utils.NewError(utils.KindConfiguration, "加载模型失败", nil))

	rec := f.do(http.MethodPost, "/initialize", `{"asr_model":"bad-model"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(utils.KindConfiguration), decode(t, rec)["kind"])
}

func TestInitializeRequiresModel(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/initialize", `{"device":"cpu"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	f.models.AssertNotCalled(t, "Initialize", mock.Anything, mock.Anything)
}

func TestTranscribe(t *testing.T) {
	f := newFixture()
	f.tasks.On("Submit", "/data/a.wav", mock.MatchedBy(func(opts models.TranscribeOptions) bool {
		return opts.SpkEnable && opts.BatchSizeS != nil && *opts.BatchSizeS == 120
	})).Return("task-1", nil)

	rec := f.do(http.MethodPost, "/transcribe", `{"audio_path":"/data/a.wav","options":{"spk_enable":true,"batch_size_s":120}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "task-1", body["task_id"])
	assert.Equal(t, "queued", body["status"])
}

func TestTranscribeNotInitialized(t *testing.T) {
	f := newFixture()
	f.tasks.On("Submit", mock.Anything, mock.Anything).
		Return("", utils.NewError(utils.KindNotInitialized, "模型尚未初始化", nil))

	rec := f.do(http.MethodPost, "/transcribe", `{"audio_path":"/data/a.wav"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTranscribeMalformedBody(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/transcribe", `{"audio_path":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(utils.KindInvalidRequest), decode(t, rec)["kind"])
}

func TestGetTask(t *testing.T) {
	f := newFixture()
	f.tasks.On("Get", "task-1").Return(models.Task{
		ID:       "task-1",
		Status:   models.TaskCompleted,
		Progress: 1.0,
		Result: &models.TaskResult{
			Segments: []models.DataSegment{{Text: "你好。", StartTime: 0, EndTime: 1.2}},
		},
		Metadata: map[string]interface{}{"segment_count": 1},
	}, nil)
	f.tasks.On("Get", "missing").Return(models.Task{}, utils.NewError(utils.KindNotFound, "任务不存在", nil))

	rec := f.do(http.MethodGet, "/task/task-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, 1.0, body["progress"])
	segments := body["result"].(map[string]interface{})["segments"].([]interface{})
	assert.Equal(t, "你好。", segments[0].(map[string]interface{})["text"])

	rec = f.do(http.MethodGet, "/task/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	f := newFixture()
	f.tasks.On("List").Return([]models.Task{{ID: "a"}, {ID: "b"}})

	body := decode(t, f.do(http.MethodGet, "/tasks", ""))
	assert.Len(t, body["tasks"], 2)
}

func TestDownloadModel(t *testing.T) {
	f := newFixture()
	f.downloads.On("Submit", "iic/SenseVoiceSmall", "/models").Return(nil).Once()
	f.downloads.On("Submit", "iic/SenseVoiceSmall", "/models").Return(assert.AnError).Once()

	rec := f.do(http.MethodPost, "/download-model", `{"model_id":"iic/SenseVoiceSmall","cache_dir":"/models"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "downloading", body["status"])

	body = decode(t, f.do(http.MethodPost, "/download-model", `{"model_id":"iic/SenseVoiceSmall","cache_dir":"/models"}`))
	assert.Equal(t, false, body["success"])
	assert.NotEmpty(t, body["error"])
}

func TestDownloadStatus(t *testing.T) {
	f := newFixture()
	f.downloads.On("Status", "iic/SenseVoiceSmall").Return(models.DownloadState{
		ModelID:        "iic/SenseVoiceSmall",
		Status:         models.DownloadDownloading,
		Progress:       42,
		DownloadedSize: 420,
		TotalSize:      1000,
	})

	rec := f.do(http.MethodGet, "/download-status?model_id=iic/SenseVoiceSmall", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "downloading", body["status"])
	assert.Equal(t, 42.0, body["progress"])
	assert.Equal(t, 420.0, body["downloaded_size"])

	rec = f.do(http.MethodGet, "/download-status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelDownload(t *testing.T) {
	f := newFixture()
	f.downloads.On("Cancel", "iic/SenseVoiceSmall").Return(true).Once()
	f.downloads.On("Cancel", "iic/SenseVoiceSmall").Return(false).Once()

	body := decode(t, f.do(http.MethodDelete, "/download-model?model_id=iic/SenseVoiceSmall", ""))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "iic/SenseVoiceSmall", body["model_id"])

	body = decode(t, f.do(http.MethodDelete, "/download-model?model_id=iic/SenseVoiceSmall", ""))
	assert.Equal(t, false, body["success"])
}

func TestDownloadProgressStream(t *testing.T) {
	f := newFixture()
	events := make(chan models.DownloadEvent, 2)
	events <- models.DownloadEvent{State: &models.DownloadState{ModelID: "m", Status: models.DownloadDownloading, Progress: 50}}
	events <- models.DownloadEvent{State: &models.DownloadState{ModelID: "m", Status: models.DownloadCompleted, Progress: 100}}
	close(events)
	f.downloads.On("StreamStatus", mock.Anything, "m").Return((<-chan models.DownloadEvent)(events))

	rec := f.do(http.MethodGet, "/download-progress?model_id=m", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var payloads []map[string]interface{}
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
		payloads = append(payloads, payload)
	}

	require.Len(t, payloads, 2)
	assert.Equal(t, "downloading", payloads[0]["status"])
	assert.Equal(t, "completed", payloads[1]["status"])
	assert.Equal(t, 100.0, payloads[1]["progress"])
}

func TestDownloadProgressUnknownModel(t *testing.T) {
	f := newFixture()
	events := make(chan models.DownloadEvent, 1)
	events <- models.DownloadEvent{Err: "模型 x 没有下载记录"}
	close(events)
	f.downloads.On("StreamStatus", mock.Anything, "x").Return((<-chan models.DownloadEvent)(events))

	rec := f.do(http.MethodGet, "/download-progress?model_id=x", "")
	assert.Contains(t, rec.Body.String(), `data: {"error":"模型 x 没有下载记录"}`)
}

func TestStatusForError(t *testing.T) {
	cases := map[utils.ErrorKind]int{
		utils.KindNotFound:          http.StatusNotFound,
		utils.KindNotInitialized:    http.StatusConflict,
		utils.KindConfiguration:     http.StatusServiceUnavailable,
		utils.KindInvalidRequest:    http.StatusBadRequest,
		utils.KindUnsupportedOption: http.StatusBadRequest,
		utils.KindTransientIO:       http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, statusForError(utils.NewError(kind, "x", nil)), kind)
	}
	assert.Equal(t, http.StatusInternalServerError, statusForError(assert.AnError))
}
