package asr

import (
	"strings"

	"github.com/ccp-p/asr-media-cli/asr-service/pkg/models"
	"github.com/ccp-p/asr-media-cli/asr-service/pkg/utils"
)

// sentenceEnders 句末标点：全角句号、感叹号、问号、分号
const sentenceEnders = "。！？；"

func isSentenceEnder(r rune) bool {
	return strings.ContainsRune(sentenceEnders, r)
}

// SplitSentences 按句末标点切分文本
// 连续的标点视为一个边界并附加到前一句末尾，空片段被丢弃；
// 切不出任何非空片段时整段文本作为一句
func SplitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
		inRun     bool
	)

	flush := func() {
		sentence := strings.TrimSpace(current.String())
		current.Reset()
		if strings.TrimFunc(sentence, isSentenceEnder) == "" {
			return
		}
		sentences = append(sentences, sentence)
	}

	for _, r := range text {
		if isSentenceEnder(r) {
			current.WriteRune(r)
			inRun = true
			continue
		}
		if inRun {
			flush()
			inRun = false
		}
		current.WriteRune(r)
	}
	flush()

	if len(sentences) == 0 {
		return []string{text}
	}
	return sentences
}

// LocateSentences 在全文中从左到右依次查找每个句子（去掉句末标点）的字节区间
// 找不到时退回当前扫描位置，保证区间单调不重叠
func LocateSentences(sentences []string, fullText string) [][2]int {
	spans := make([][2]int, 0, len(sentences))
	pos := 0
	for _, sentence := range sentences {
		body := strings.TrimRightFunc(sentence, isSentenceEnder)
		start := pos
		if idx := strings.Index(fullText[pos:], body); idx >= 0 {
			start = pos + idx
		}
		end := start + len(body)
		if end > len(fullText) {
			end = len(fullText)
		}
		spans = append(spans, [2]int{start, end})
		pos = end
	}
	return spans
}

// MapSentencesToTimestamps 把词级时间戳分配给各个句子
// 时间戳不少于句子数时按顺序切成 len(sentences) 组，每组 n/k 个，前 n%k 组多分一个；
// 时间戳少于句子数时一一对应，多出的句子被丢弃
func MapSentencesToTimestamps(sentences []string, timestamps [][2]int64, fullText string) []models.DataSegment {
	k := len(sentences)
	n := len(timestamps)
	segments := make([]models.DataSegment, 0, k)
	if k == 0 || n == 0 {
		return segments
	}

	for i, span := range LocateSentences(sentences, fullText) {
		body := strings.TrimRightFunc(sentences[i], isSentenceEnder)
		if fullText[span[0]:span[1]] != body {
			utils.Debug("第 %d 句未在全文中定位到，按扫描位置 %d 处理", i+1, span[0])
		}
	}

	if n >= k {
		perSentence := n / k
		remainder := n % k
		idx := 0
		for i, sentence := range sentences {
			count := perSentence
			if i < remainder {
				count++
			}
			last := idx + count - 1
			if last > n-1 {
				last = n - 1
			}
			segments = appendSegment(segments, sentence, msToSec(timestamps[idx][0]), msToSec(timestamps[last][1]))
			idx += count
		}
		return segments
	}

	for i := 0; i < n; i++ {
		segments = appendSegment(segments, sentences[i], msToSec(timestamps[i][0]), msToSec(timestamps[i][1]))
	}
	return segments
}
