// Package audio は記事音声のキャッシュ制御を提供する。
// 音声ファイルの合成、署名付きURLの再利用と再発行を判断する。
package audio

import (
	"time"

	"github.com/hitoshi/newsvoice/internal/model"
)

// State は記事音声キャッシュの状態を表す。
type State int

const (
	// StateNoAudio は音声ファイルが一度も合成されていない状態。
	StateNoAudio State = iota
	// StateFresh は発行済みURLがまだ有効期限の安全マージン外にある状態。
	StateFresh
	// StateStale は音声ファイルはあるがURLの再発行が必要な状態。
	StateStale
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StateNoAudio:
		return "no_audio"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// IsStale は最終発行日時からの経過時間がlifetime-margin以上かどうかを返す。
// lastRefreshedAtがnilの場合は常にtrueを返す。
func IsStale(lastRefreshedAt *time.Time, now time.Time, lifetime, margin time.Duration) bool {
	if lastRefreshedAt == nil {
		return true
	}
	return now.Sub(*lastRefreshedAt) >= lifetime-margin
}

// Classify は記事の音声キャッシュ状態を判定する。
// 音声ファイルがあってURLが未発行の記事はStateStaleとして扱い、URL発行のみやり直す。
func Classify(a *model.Article, now time.Time, lifetime, margin time.Duration) State {
	if !a.HasAudio() {
		return StateNoAudio
	}
	if a.MediaReference == nil || *a.MediaReference == "" {
		return StateStale
	}
	if IsStale(a.UpdatedAt, now, lifetime, margin) {
		return StateStale
	}
	return StateFresh
}
