package plaintext

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lyricsPage = `<html><body>
<div class="header">Hello lyrics</div>
<div data-lyrics-container="true">[Verse 1]<br>Hello, it&#39;s me<br>I was wondering &amp; hoping<br><br><br>[Chorus]<br><a href="#">Hello from the other side</a></div>
<div data-lyrics-container="true">I must&#39;ve called a thousand times</div>
</body></html>`

func TestGetLyricsSearchThenScrape(t *testing.T) {
	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Adele Hello", r.URL.Query().Get("q"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"response":{"hits":[
			{"type":"song","result":{"title":"Other","url":""}},
			{"type":"song","result":{"title":"Hello","url":"` + serverURL + `/songs/hello","primary_artist":{"name":"Adele"}}}]}}`))
	})
	mux.HandleFunc("/songs/hello", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(lyricsPage))
	})
	server := httptest.NewServer(mux)
	defer server.Close()
	serverURL = server.URL

	client := NewClient(server.URL+"/search", "tok", "test")
	text, err := client.GetLyrics(context.Background(), "Hello", "Adele")
	require.NoError(t, err)

	assert.Equal(t, "Hello, it's me\nI was wondering & hoping\n\nHello from the other side\nI must've called a thousand times", text)
	assert.NotContains(t, text, "[Chorus]")
}

func TestExtractFallsBackToClassContainer(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div id="lyrics">ignored</div><p class="lyrics">line one<br/>line two</p>`))
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", Extract(doc))
}

func TestFetchWithoutContainerIsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>no lyrics here</p></body></html>`))
	}))
	defer server.Close()

	_, err := NewClient("", "", "").Fetch(context.Background(), server.URL)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSearchFailsClosed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meta":{"status":200}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", "").Search(context.Background(), "Hello", "Adele")
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestSearchWithoutURLIsNotFound(t *testing.T) {
	_, err := NewClient("", "", "").Search(context.Background(), "Hello", "Adele")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClean(t *testing.T) {
	in := "[Intro]\r\n  first  \n\n\n\n[Verse 2: Adele]\nsecond [x2]\n"
	assert.Equal(t, "first\n\nsecond", Clean(in))
}
