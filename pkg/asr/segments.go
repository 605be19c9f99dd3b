package asr

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// ExtractSegments 把一条原始识别结果转换为按时间排序的段落列表
// 依次尝试 sentence_info（秒）、stamp_sents（毫秒）、text + timestamp，
// 第一个产出段落的字段胜出。任何输入都不会panic，最差返回空列表。
func ExtractSegments(record ResultRecord) []models.DataSegment {
	if segments := fromSentenceInfo(record["sentence_info"]); len(segments) > 0 {
		return segments
	}
	if segments := fromStampSents(record["stamp_sents"]); len(segments) > 0 {
		return segments
	}
	if segments := fromTextAndTimestamp(record["text"], record["timestamp"]); len(segments) > 0 {
		return segments
	}
	return []models.DataSegment{}
}

// IsDegraded 只得到一个段落且结果里没有句级字段时，模型很可能不支持句级时间戳
func IsDegraded(record ResultRecord, segments []models.DataSegment) bool {
	return len(segments) == 1 && !present(record["stamp_sents"]) && !present(record["sentence_info"])
}

func fromSentenceInfo(value interface{}) []models.DataSegment {
	entries := asList(value)
	segments := make([]models.DataSegment, 0, len(entries))
	for _, entry := range entries {
		sent, ok := asMap(entry)
		if !ok {
			continue
		}
		text, ok := sent["text"].(string)
		if !ok {
			continue
		}
		start, okStart := utils.ToFloat64(sent["start"])
		end, okEnd := utils.ToFloat64(sent["end"])
		if !okStart || !okEnd {
			continue
		}
		segments = appendSegment(segments, text, start, end)
	}
	return segments
}

func fromStampSents(value interface{}) []models.DataSegment {
	entries := asList(decodeEmbedded(value))
	segments := make([]models.DataSegment, 0, len(entries))
	for _, entry := range entries {
		sent, ok := asMap(entry)
		if !ok {
			continue
		}
		start, okStart := utils.ToFloat64(sent["start"])
		end, okEnd := utils.ToFloat64(sent["end"])
		if !okStart || !okEnd {
			continue
		}
		textSeg, _ := sent["text_seg"].(string)
		punc, _ := sent["punc"].(string)
		segments = appendSegment(segments, textSeg+punc, start/1000.0, end/1000.0)
	}
	return segments
}

func fromTextAndTimestamp(textValue, timestampValue interface{}) []models.DataSegment {
	rawText, _ := textValue.(string)
	text := strings.TrimSpace(rawText)
	if text == "" {
		return nil
	}

	timestamps := parseTimestamps(decodeEmbedded(timestampValue))
	if len(timestamps) == 0 {
		return []models.DataSegment{{Text: text, StartTime: 0, EndTime: 0}}
	}

	sentences := SplitSentences(text)
	if len(sentences) > 1 {
		return MapSentencesToTimestamps(sentences, timestamps, text)
	}

	return appendSegment(nil, text, msToSec(timestamps[0][0]), msToSec(timestamps[len(timestamps)-1][1]))
}

// appendSegment 追加一个段落，空文本丢弃，结束时间早于开始时间时收敛到开始时间
func appendSegment(segments []models.DataSegment, text string, start, end float64) []models.DataSegment {
	text = strings.TrimSpace(text)
	if text == "" || !isFinite(start) || !isFinite(end) {
		return segments
	}
	if end < start {
		end = start
	}
	return append(segments, models.DataSegment{Text: text, StartTime: start, EndTime: end})
}

// parseTimestamps 解析 [[startMs, endMs], ...]，跳过无法识别的条目
// 与原始结果一致，取每个条目的第一个和最后一个数作为起止
func parseTimestamps(value interface{}) [][2]int64 {
	entries := asList(value)
	pairs := make([][2]int64, 0, len(entries))
	for _, entry := range entries {
		span := asList(entry)
		if len(span) == 0 {
			continue
		}
		start, okStart := utils.ToFloat64(span[0])
		end, okEnd := utils.ToFloat64(span[len(span)-1])
		if !okStart || !okEnd || !fitsInt64(start) || !fitsInt64(end) {
			continue
		}
		pairs = append(pairs, [2]int64{int64(math.Round(start)), int64(math.Round(end))})
	}
	return pairs
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// fitsInt64 取整后能否放进 int64，NaN 和无穷大都不能
func fitsInt64(v float64) bool {
	return isFinite(v) && v > -(1<<63) && v < 1<<63
}

// decodeEmbedded 字段可能以JSON字符串形式出现，解析失败视为字段不存在
func decodeEmbedded(value interface{}) interface{} {
	str, ok := value.(string)
	if !ok {
		return value
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(str), &decoded); err != nil {
		utils.Debug("内嵌JSON字段解析失败，按缺失处理: %v", err)
		return nil
	}
	return decoded
}

func asList(value interface{}) []interface{} {
	switch v := value.(type) {
	case []interface{}:
		return v
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case [][]interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case []float64:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case [][]float64:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case []int:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case [][]int:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	}
	return nil
}

func asMap(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case map[string]interface{}:
		return v, true
	case ResultRecord:
		return v, true
	}
	return nil, false
}

// present 判断字段是否有内容，空字符串和空列表视为没有
func present(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []interface{}:
		return len(v) > 0
	default:
		if list := asList(v); list != nil {
			return len(list) > 0
		}
		return true
	}
}

func msToSec(ms int64) float64 {
	return float64(ms) / 1000.0
}
