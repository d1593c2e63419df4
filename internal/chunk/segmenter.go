// =============================================================================
// 文件: internal/chunk/segmenter.go
// 描述: 分块器 - 按字符数切分文本并计算校验和
// =============================================================================
package chunk

import (
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
)

// Checksum 计算文本的 CRC32 (IEEE) 摘要，8 位小写十六进制
func Checksum(text string) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(text)))
}

// Split 将文本切分为固定字符数的数据块
// 按 rune 计数，避免在多字节字符中间切断；最后一块可以更短。
func Split(text string, size int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, size)
	}

	runes := []rune(text)
	chunks := make([]Chunk, 0, (len(runes)+size-1)/size)

	for offset, seq := 0, 0; offset < len(runes); offset, seq = offset+size, seq+1 {
		end := offset + size
		if end > len(runes) {
			end = len(runes)
		}
		part := string(runes[offset:end])
		chunks = append(chunks, Chunk{
			ID:       uuid.New().String(),
			Sequence: seq,
			Text:     part,
			Checksum: Checksum(part),
			Status:   StatusPending,
		})
	}

	return chunks, nil
}

// Join 按 Sequence 顺序拼接数据块文本 (调用方需保证已按序排列)
func Join(chunks []Chunk) string {
	n := 0
	for _, c := range chunks {
		n += len(c.Text)
	}
	buf := make([]byte, 0, n)
	for _, c := range chunks {
		buf = append(buf, c.Text...)
	}
	return string(buf)
}
