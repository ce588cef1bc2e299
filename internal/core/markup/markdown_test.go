package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "フロントマターのtitleを優先する",
			input: "---\ntitle: Getting Started\n---\n\n# Something Else\n",
			want:  "Getting Started",
		},
		{
			name:  "フロントマターがなければ最初の見出しを使う",
			input: "# My Document\n\nbody text\n",
			want:  "My Document",
		},
		{
			name:  "見出しレベルは問わない",
			input: "intro paragraph\n\n## Section Title\n",
			want:  "Section Title",
		},
		{
			name:  "引用符付きのtitleは引用符を外す",
			input: "---\ntitle: \"Quoted Title\"\n---\n\nbody\n",
			want:  "Quoted Title",
		},
		{
			name:  "タイトルが見つからない場合は空",
			input: "just a paragraph\n",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.input))
		})
	}
}

func TestPlainText(t *testing.T) {
	// 装飾は取り除かれ、テキストだけが残る
	got := PlainText("# Heading\n\nSome **bold** and *emphasized* text.\n")

	assert.Contains(t, got, "Heading")
	assert.Contains(t, got, "Some bold and emphasized text.")
	assert.NotContains(t, got, "**")
	assert.NotContains(t, got, "#")
}

func TestPlainText_Links(t *testing.T) {
	// リンクはテキスト部分だけが残る
	got := PlainText("See [the docs](https://example.com/docs) for details.\n")

	assert.Contains(t, got, "the docs")
	assert.NotContains(t, got, "](")
}

func TestPlainText_CodeBlock(t *testing.T) {
	// コードブロックは原文のまま残る
	got := PlainText("```go\nfmt.Println(\"hi\")\n```\n")

	assert.Contains(t, got, "fmt.Println(\"hi\")")
}

func TestPlainText_SkipsFrontmatter(t *testing.T) {
	got := PlainText("---\ntitle: X\n---\n\nvisible body\n")

	assert.Contains(t, got, "visible body")
	assert.NotContains(t, got, "title: X")
}
