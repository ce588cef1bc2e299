package markup

import (
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// parserExtensions はドキュメント解析に使う拡張セット
// オートリンクは有効、ハード改行は無効（CommonExtensionsに含まれない）
const parserExtensions = parser.CommonExtensions | parser.AutoHeadingIDs

// frontmatterTitleRe はフロントマター内のtitleフィールドにマッチする
var frontmatterTitleRe = regexp.MustCompile(`(?m)^title:\s*["']?(.+?)["']?\s*$`)

// newParser はドキュメント解析用のパーサーを作る
// gomarkdownのパーサーは状態を持つため呼び出しごとに作り直す
func newParser() *parser.Parser {
	return parser.NewWithExtensions(parserExtensions)
}

// Title はドキュメントのタイトルを抽出する
// フロントマターのtitleフィールドを優先し、なければ最初の見出しを使う
// どちらも見つからない場合は空文字列を返す
func Title(src string) string {
	if fm := frontmatterRe.FindString(src); fm != "" {
		if m := frontmatterTitleRe.FindStringSubmatch(fm); m != nil {
			return strings.TrimSpace(m[1])
		}
		src = strings.TrimPrefix(src, fm)
	}

	doc := newParser().Parse([]byte(src))

	var title string
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering || title != "" {
			return ast.GoToNext
		}
		if heading, ok := node.(*ast.Heading); ok {
			title = strings.TrimSpace(collectText(heading))
			return ast.Terminate
		}
		return ast.GoToNext
	})

	return title
}

// PlainText はMarkdownを装飾なしのプレーンテキストに変換する
// 見出し・段落・リスト項目は行単位で区切られ、コードブロックは原文のまま残る
func PlainText(src string) string {
	src = strings.TrimPrefix(src, frontmatterRe.FindString(src))

	doc := newParser().Parse([]byte(src))

	var sb strings.Builder
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		switch n := node.(type) {
		case *ast.Text:
			if entering {
				sb.Write(n.Literal)
			}
		case *ast.Code:
			if entering {
				sb.Write(n.Literal)
			}
		case *ast.CodeBlock:
			if entering {
				sb.Write(n.Literal)
				sb.WriteString("\n")
			}
		case *ast.HTMLBlock:
			// HTMLはパススルー
			if entering {
				sb.Write(n.Literal)
				sb.WriteString("\n")
			}
		case *ast.HTMLSpan:
			if entering {
				sb.Write(n.Literal)
			}
		case *ast.Heading, *ast.Paragraph, *ast.ListItem, *ast.TableRow:
			if !entering {
				sb.WriteString("\n")
			}
		case *ast.Hardbreak, *ast.Softbreak:
			if entering {
				sb.WriteString(" ")
			}
		}
		return ast.GoToNext
	})

	return strings.TrimSpace(sb.String())
}

// collectText はノード配下のテキストを連結して返す
func collectText(node ast.Node) string {
	var sb strings.Builder
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Literal)
		case *ast.Code:
			sb.Write(t.Literal)
		}
		return ast.GoToNext
	})
	return sb.String()
}
