package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIndex はテスト用のIndex実装
type fakeIndex struct {
	hits      []SearchHit
	searchErr error

	docs        map[string]DocumentContent
	retrieveErr error

	lastStoreID string
	lastQuery   string
	lastLimit   int
}

func (f *fakeIndex) Search(ctx context.Context, storeID, query string, limit int) ([]SearchHit, error) {
	f.lastStoreID = storeID
	f.lastQuery = query
	f.lastLimit = limit
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeIndex) RetrieveDocument(ctx context.Context, fileID string) (DocumentContent, error) {
	if f.retrieveErr != nil {
		return DocumentContent{}, f.retrieveErr
	}
	doc, ok := f.docs[fileID]
	if !ok {
		return DocumentContent{}, errors.New("document not found")
	}
	return doc, nil
}

func TestSearch(t *testing.T) {
	index := &fakeIndex{hits: []SearchHit{
		{FileID: "file-1", Filename: "guide_intro.md", Score: 0.9, Snippets: []string{"intro snippet"}},
		{FileID: "file-2", Filename: "guide_setup.md", Score: 0.7, Snippets: []string{"first", "second"}},
	}}
	s := New(index, Config{StoreID: "vs-1", PublicBaseURL: "https://docs.example.com"})

	results, err := s.Search(context.Background(), "how to set up")

	require.NoError(t, err)
	require.Len(t, results, 2)

	// ヒットは1:1で結果にマップされる
	assert.Equal(t, "file-1", results[0].ID)
	assert.Equal(t, "guide intro", results[0].Title)
	assert.Equal(t, "intro snippet", results[0].Text)
	assert.Equal(t, "https://docs.example.com/guide_intro", results[0].URL)

	assert.Equal(t, "first\nsecond", results[1].Text)

	assert.Equal(t, "vs-1", index.lastStoreID)
	assert.Equal(t, "how to set up", index.lastQuery)
	assert.Equal(t, 10, index.lastLimit)
}

func TestSearch_NoStoreConfigured(t *testing.T) {
	s := New(&fakeIndex{}, Config{})

	_, err := s.Search(context.Background(), "query")
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestSearch_EmptyQuery(t *testing.T) {
	s := New(&fakeIndex{}, Config{StoreID: "vs-1"})

	_, err := s.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearch_IndexError(t *testing.T) {
	s := New(&fakeIndex{searchErr: errors.New("store unavailable")}, Config{StoreID: "vs-1"})

	_, err := s.Search(context.Background(), "query")
	assert.ErrorContains(t, err, "store unavailable")
}

func TestFetch(t *testing.T) {
	index := &fakeIndex{docs: map[string]DocumentContent{
		"file-1": {
			FileID:   "file-1",
			Filename: "guide_intro.md",
			Content:  "---\ntitle: Introduction\n---\n\n# Intro\n\nWelcome to the **docs**.\n",
		},
	}}
	s := New(index, Config{StoreID: "vs-1"})

	doc, err := s.Fetch(context.Background(), "file-1")

	require.NoError(t, err)
	assert.Equal(t, "file-1", doc.ID)
	// タイトルはフロントマターから取得される
	assert.Equal(t, "Introduction", doc.Title)
	// 本文はプレーンテキストに変換される
	assert.Contains(t, doc.Text, "Welcome to the docs.")
	assert.NotContains(t, doc.Text, "**")
	assert.Equal(t, "/guide_intro", doc.URL)
	assert.Equal(t, "guide_intro.md", doc.Metadata["filename"])
}

func TestFetch_TitleFallsBackToFilename(t *testing.T) {
	index := &fakeIndex{docs: map[string]DocumentContent{
		"file-1": {FileID: "file-1", Filename: "release_notes.md", Content: "plain body\n"},
	}}
	s := New(index, Config{StoreID: "vs-1"})

	doc, err := s.Fetch(context.Background(), "file-1")

	require.NoError(t, err)
	assert.Equal(t, "release notes", doc.Title)
}

func TestFetch_NotFound(t *testing.T) {
	s := New(&fakeIndex{docs: map[string]DocumentContent{}}, Config{StoreID: "vs-1"})

	_, err := s.Fetch(context.Background(), "missing")
	assert.ErrorContains(t, err, "missing")
}
