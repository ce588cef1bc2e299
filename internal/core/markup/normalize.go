package markup

import (
	"regexp"
	"strconv"
	"strings"
)

// frontmatterRe は先頭のフロントマターブロック（---区切り）にマッチする
var frontmatterRe = regexp.MustCompile(`(?s)\A---\r?\n.*?\r?\n---\r?\n`)

// importExportRe はMDXのimport/export宣言行にマッチする
var importExportRe = regexp.MustCompile(`(?m)^(?:import|export)\s[^\n]*\n?`)

// blockRewrite はブロックタグ1種類分の書き換えルール
type blockRewrite struct {
	pattern *regexp.Regexp
	replace func(match []string) string
}

// blockRewrites は方言固有ブロックタグの書き換えルール（順序に意味がある）
// 名前付きの構造をすべて処理した後で、最後に汎用タグ除去を適用すること
var blockRewrites = []blockRewrite{
	// コールアウト系 → 引用ブロック
	calloutRule("Warning", "⚠️ Warning"),
	calloutRule("Caution", "⚠️ Warning"),
	calloutRule("Note", "ℹ️ Note"),
	calloutRule("Info", "ℹ️ Note"),
	calloutRule("Tip", "💡 Tip"),
	calloutRule("Check", "✅ Check"),

	// コードブロック系は中身をそのまま残す
	unwrapRule("CodeGroup"),
	unwrapRule("Tabs"),
	unwrapRule("TabGroup"),

	// タイトル付き要素 → 見出し + 本文
	titledRule("Tab", "### "),
	titledRule("Accordion", "**", "**"),
	titledRule("Expandable", "**", "**"),
	unwrapRule("AccordionGroup"),

	// 改行・罫線
	{regexp.MustCompile(`<br\s*/?>`), func([]string) string { return "\n" }},
	{regexp.MustCompile(`<hr\s*/?>`), func([]string) string { return "\n---\n" }},
}

// pairedTagRe は残存する大文字始まりのペアタグにマッチする（汎用除去用）
var pairedTagRe = regexp.MustCompile(`(?s)<[A-Z][A-Za-z0-9]*(?:\s[^>]*)?>(.*?)</[A-Z][A-Za-z0-9]*>`)

// selfClosingTagRe は残存する大文字始まりの自己終了タグにマッチする
var selfClosingTagRe = regexp.MustCompile(`<[A-Z][A-Za-z0-9]*(?:\s[^>]*)?/>`)

// inlineExprRe は単一行のインライン式 {...} にマッチする
var inlineExprRe = regexp.MustCompile(`\{([^{}\n]+)\}`)

// blankLinesRe は3つ以上連続する改行にマッチする
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// Normalize はJSX拡張マークアップ（MDX方言）をプレーンなMarkdownに変換する
//
// 入力が不正でも常にベストエフォートの文字列を返し、エラーは発生させない
// 処理順序に依存がある: フロントマターを本文書き換えの前に退避し、
// 汎用タグ除去は名前付き構造の書き換えをすべて終えた後に実行する
func Normalize(src string) string {
	// フロントマターを退避する
	frontmatter := frontmatterRe.FindString(src)
	body := strings.TrimPrefix(src, frontmatter)

	// import/export宣言を除去する
	body = importExportRe.ReplaceAllString(body, "")

	// 方言固有ブロックタグを順に書き換える
	for _, rule := range blockRewrites {
		body = rule.pattern.ReplaceAllStringFunc(body, func(m string) string {
			return rule.replace(rule.pattern.FindStringSubmatch(m))
		})
	}

	// 残存タグの汎用除去: ペアタグは中身に展開、自己終了タグは削除
	// ネストに対応するため変化がなくなるまで繰り返す
	for {
		rewritten := pairedTagRe.ReplaceAllString(body, "$1")
		if rewritten == body {
			break
		}
		body = rewritten
	}
	body = selfClosingTagRe.ReplaceAllString(body, "")

	// インライン式の波括弧を畳み込む
	body = inlineExprRe.ReplaceAllStringFunc(body, collapseInlineExpr)

	// 3つ以上の連続改行を2つに圧縮する
	body = blankLinesRe.ReplaceAllString(body, "\n\n")

	return frontmatter + strings.TrimSpace(body) + "\n"
}

// calloutRule はコールアウトタグを引用ブロックに書き換えるルールを作る
func calloutRule(tag, label string) blockRewrite {
	re := regexp.MustCompile(`(?s)<` + tag + `(?:\s[^>]*)?>(.*?)</` + tag + `>`)
	return blockRewrite{
		pattern: re,
		replace: func(match []string) string {
			content := strings.TrimSpace(match[1])
			// 複数行のコールアウトはすべての行を引用に含める
			content = strings.ReplaceAll(content, "\n", "\n> ")
			return "> **" + label + ":** " + content
		},
	}
}

// unwrapRule はタグを取り除いて中身だけを残すルールを作る
func unwrapRule(tag string) blockRewrite {
	re := regexp.MustCompile(`(?s)</?` + tag + `(?:\s[^>]*)?>`)
	return blockRewrite{
		pattern: re,
		replace: func([]string) string { return "" },
	}
}

// titledRule はtitle属性付きタグを「前置詞 + タイトル + 後置詞」と本文に展開するルールを作る
func titledRule(tag, prefix string, suffix ...string) blockRewrite {
	var sfx string
	if len(suffix) > 0 {
		sfx = suffix[0]
	}
	re := regexp.MustCompile(`(?s)<` + tag + `[^>]*title="([^"]*)"[^>]*>(.*?)</` + tag + `>`)
	return blockRewrite{
		pattern: re,
		replace: func(match []string) string {
			title := match[1]
			content := strings.TrimSpace(match[2])
			return prefix + title + sfx + "\n\n" + content
		},
	}
}

// collapseInlineExpr はインライン式をリテラルテキストまたはインラインコードに変換する
func collapseInlineExpr(expr string) string {
	inner := strings.TrimSpace(expr[1 : len(expr)-1])

	// 文字列リテラルはその値に展開する
	if unquoted, err := strconv.Unquote(inner); err == nil {
		return unquoted
	}

	// バッククォート付きはインラインコードとしてそのまま残す
	if strings.HasPrefix(inner, "`") && strings.HasSuffix(inner, "`") {
		return inner
	}

	// それ以外の式はインラインコードに包む
	return "`" + inner + "`"
}
