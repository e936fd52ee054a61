package audio

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// plainTextPolicy は全てのHTMLタグを除去するポリシー。
// 隣接するブロック要素の単語が連結されないよう、除去したタグは空白に置き換える。
var plainTextPolicy = newPlainTextPolicy()

func newPlainTextPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

// PlainText は記事本文を音声合成用のプレーンテキストに変換する。
// HTMLタグを除去し、文字実体参照を戻し、連続する空白を1つにまとめる。
func PlainText(content string) string {
	stripped := plainTextPolicy.Sanitize(content)
	unescaped := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(unescaped), " ")
}
