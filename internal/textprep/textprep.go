// =============================================================================
// 文件: internal/textprep/textprep.go
// 描述: 文本预处理 - 非拉丁文字检测与转写为 ASCII 近似
// =============================================================================
package textprep

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Latinizer 默认转写器
// 西里尔与希腊字母按表转写，其余字母去掉组合符号后保留。
// 转写只用于发送副本，存储中的原文与校验和不受影响。
type Latinizer struct {
	// Fallback 无法转写的非拉丁字母的替代，空表示原样保留
	Fallback string
}

// New 创建转写器
func New() *Latinizer {
	return &Latinizer{}
}

// DetectsNonLatinScript 是否包含拉丁以外的文字
// 标点、数字、空白与符号不计入。
func (l *Latinizer) DetectsNonLatinScript(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

// Transliterate 转写为拉丁字母
func (l *Latinizer) Transliterate(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range text {
		if s, ok := lookup(r); ok {
			b.WriteString(s)
			continue
		}
		if l.Fallback != "" && unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			b.WriteString(l.Fallback)
			continue
		}
		b.WriteRune(r)
	}

	return StripMarks(b.String())
}

// StripMarks 去除组合符号 (é -> e)
func StripMarks(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// lookup 查表，保留大小写
func lookup(r rune) (string, bool) {
	lower := unicode.ToLower(r)
	s, ok := table[lower]
	if !ok {
		return "", false
	}
	if lower == r || s == "" {
		return s, true
	}
	// 大写: 首字母大写
	return strings.ToUpper(s[:1]) + s[1:], true
}
