package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Warning(t *testing.T) {
	// Warningタグは引用ブロックに変換される
	got := Normalize(`<Warning>Data loss risk</Warning>`)

	assert.True(t, strings.HasPrefix(got, "> **⚠️ Warning:** Data loss risk"),
		"expected blockquote prefix, got: %q", got)
}

func TestNormalize_Callouts(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "Noteタグ",
			input: `<Note>remember this</Note>`,
			want:  "> **ℹ️ Note:** remember this",
		},
		{
			name:  "Infoタグ",
			input: `<Info>background</Info>`,
			want:  "> **ℹ️ Note:** background",
		},
		{
			name:  "Tipタグ",
			input: `<Tip>try this</Tip>`,
			want:  "> **💡 Tip:** try this",
		},
		{
			name:  "属性付きタグ",
			input: `<Warning type="severe">careful</Warning>`,
			want:  "> **⚠️ Warning:** careful",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			assert.Equal(t, tt.want+"\n", got)
		})
	}
}

func TestNormalize_MultilineCallout(t *testing.T) {
	// 複数行のコールアウトはすべての行が引用に含まれる
	got := Normalize("<Warning>first line\nsecond line</Warning>")

	assert.Equal(t, "> **⚠️ Warning:** first line\n> second line\n", got)
}

func TestNormalize_Frontmatter(t *testing.T) {
	// フロントマターは本文書き換えの影響を受けずに保持される
	input := "---\ntitle: Guide\n---\n\n<Note>hello</Note>\n"
	got := Normalize(input)

	assert.True(t, strings.HasPrefix(got, "---\ntitle: Guide\n---\n"))
	assert.Contains(t, got, "> **ℹ️ Note:** hello")
}

func TestNormalize_ImportExport(t *testing.T) {
	// import/export宣言は除去される
	input := "import { Card } from '@/components'\nexport const x = 1\n\n# Title\n"
	got := Normalize(input)

	assert.NotContains(t, got, "import")
	assert.NotContains(t, got, "export")
	assert.Contains(t, got, "# Title")
}

func TestNormalize_UnwrapsCodeGroupAndTabs(t *testing.T) {
	input := "<CodeGroup>\n```go\nfmt.Println(1)\n```\n</CodeGroup>"
	got := Normalize(input)

	assert.NotContains(t, got, "CodeGroup")
	assert.Contains(t, got, "```go\nfmt.Println(1)\n```")
}

func TestNormalize_TabTitle(t *testing.T) {
	// Tabはタイトルを見出しに展開する
	got := Normalize(`<Tab title="First">tab content</Tab>`)

	assert.Contains(t, got, "### First")
	assert.Contains(t, got, "tab content")
}

func TestNormalize_Accordion(t *testing.T) {
	got := Normalize(`<Accordion title="Details">hidden text</Accordion>`)

	assert.Contains(t, got, "**Details**")
	assert.Contains(t, got, "hidden text")
}

func TestNormalize_GenericTagFallback(t *testing.T) {
	// 名前付きルールにないタグは中身に展開される
	got := Normalize(`<Frame caption="x">inner text</Frame>`)
	assert.Equal(t, "inner text\n", got)

	// 自己終了タグは削除される
	got = Normalize(`before <Icon name="star" /> after`)
	assert.Equal(t, "before  after\n", got)
}

func TestNormalize_NestedTags(t *testing.T) {
	// ネストしたタグも繰り返し展開で解決される
	got := Normalize(`<Columns><Card>one</Card><Card>two</Card></Columns>`)

	assert.NotContains(t, got, "<")
	assert.Contains(t, got, "one")
	assert.Contains(t, got, "two")
}

func TestNormalize_InlineExpressions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "文字列リテラルは値に展開",
			input: `prefix {"hello"} suffix`,
			want:  "prefix hello suffix\n",
		},
		{
			name:  "式はインラインコードに包む",
			input: `count: {items.length}`,
			want:  "count: `items.length`\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalize_CollapsesBlankLines(t *testing.T) {
	got := Normalize("first\n\n\n\n\nsecond")

	assert.Equal(t, "first\n\nsecond\n", got)
}

func TestNormalize_LineAndRuleBreaks(t *testing.T) {
	assert.Equal(t, "one\ntwo\n", Normalize("one<br/>two"))
	assert.Contains(t, Normalize("one<hr/>two"), "\n---\n")
}

func TestNormalize_PlainMarkdownUnchanged(t *testing.T) {
	// 方言タグを含まないMarkdownは空白の圧縮以外変化しない
	input := "# Title\n\nSome *plain* markdown with [a link](https://example.com).\n"
	got := Normalize(input)

	assert.Equal(t, input, got)
}

func TestNormalize_MalformedInput(t *testing.T) {
	// 閉じタグのない不正な入力でもパニックせず文字列を返す
	assert.NotPanics(t, func() {
		got := Normalize("<Warning>never closed")
		assert.NotEmpty(t, got)
	})
}
