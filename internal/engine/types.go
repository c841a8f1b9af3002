package engine

import "errors"

// ErrStreamingUnavailable 表示流式生成通道不可用（配置关闭或建流失败），
// 调用方应走同步 fallback 路径，而不是把它当成请求失败。
var ErrStreamingUnavailable = errors.New("generation streaming unavailable")

type Request struct {
	SessionID  string
	DocumentID string
	SectionID  string
	AuthorID   string
	Intent     string
	Prompt     string
}

// Chunk is one incremental piece of generated content.
type Chunk struct {
	Index int
	Text  string
}

// Result is the final generation artifact. DiffHash is the engine-computed
// hash of the proposed content, used for optimistic-concurrency approval.
type Result struct {
	Content  string
	DiffHash string
}
