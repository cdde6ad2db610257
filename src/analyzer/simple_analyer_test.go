package analyzer

import (
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewyi/attachcrawler/src/entity"
)

const listingPage = `<html><body>
<a href="/fanbox/user/123/post/1">first</a>
<a href="/about">about</a>
<a href="/fanbox/user/123/post/2">second</a>
<a href="https://other.example/patreon/user/9/post/77">absolute</a>
<a href="/fanbox/user/123/post/1">first again</a>
<a class="next" href="/fanbox/user/123?o=50">&gt;</a>
</body></html>`

const postPage = `<html><body>
<a class="post__attachment-link" href="/data/aa/clip.mp4?f=clip.mp4"> My Clip (final).mp4 </a>
<a class="post__attachment-link" href="/data/bb/notes.txt">notes.txt</a>
<a class="post__attachment-link" href="https://files.example/cc/pack.zip">Pack: Vol 1.zip</a>
<a class="post__attachment-link" href="https://files.example/cc/upper.ZIP">Upper.ZIP</a>
<a class="other" href="/data/dd/ignored.zip">ignored.zip</a>
</body></html>`

func newTestAnalyzer(t *testing.T) *SimpleAnalyzer {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	a, err := NewSimpleAnalyzer("https://site.example", "", logger)
	require.NoError(t, err)
	return a
}

func TestExtractPostLinks(t *testing.T) {
	a := newTestAnalyzer(t)
	p, err := NewPathPattern(DefaultPostPattern)
	require.NoError(t, err)

	links, err := a.ExtractLinks(listingPage, p)
	require.NoError(t, err)

	assert.Equal(t, []entity.Link{
		{URL: "https://site.example/fanbox/user/123/post/1"},
		{URL: "https://site.example/fanbox/user/123/post/2"},
		{URL: "https://other.example/patreon/user/9/post/77"},
		{URL: "https://site.example/fanbox/user/123/post/1"},
	}, links)
}

func TestExtractAttachmentLinks(t *testing.T) {
	a := newTestAnalyzer(t)

	links, err := a.ExtractLinks(postPage, NewAttachmentClass(DefaultAttachmentClass, DefaultExtensions))
	require.NoError(t, err)

	assert.Equal(t, []entity.Link{
		{URL: "https://site.example/data/aa/clip.mp4?f=clip.mp4", Name: "My_Clip_final_.mp4"},
		{URL: "https://files.example/cc/pack.zip", Name: "Pack_Vol_1.zip"},
	}, links)
}

func TestExtractNextPage(t *testing.T) {
	a := newTestAnalyzer(t)

	next, ok := a.ExtractNextPage(listingPage)
	assert.True(t, ok)
	assert.Equal(t, "https://site.example/fanbox/user/123?o=50", next)

	_, ok = a.ExtractNextPage(postPage)
	assert.False(t, ok)
}

func TestExtractNextPageCustomClass(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	a, err := NewSimpleAnalyzer("https://site.example/base/", "pager-next", logger)
	require.NoError(t, err)

	next, ok := a.ExtractNextPage(`<a class="next" href="/wrong">x</a><a class="pager-next" href="page/3">3</a>`)
	assert.True(t, ok)
	assert.Equal(t, "https://site.example/base/page/3", next)
}

func TestInvalidPostPattern(t *testing.T) {
	_, err := NewPathPattern(`(`)
	assert.Error(t, err)
}

func TestAttachmentExtensionCaseSensitive(t *testing.T) {
	a := newTestAnalyzer(t)
	body := `<a class="post__attachment-link" href="/a.MP4">clip.MP4</a>
<a class="post__attachment-link" href="/b.mp4">clip.mp4</a>`

	links, err := a.ExtractLinks(body, NewAttachmentClass(DefaultAttachmentClass, DefaultExtensions))
	require.NoError(t, err)
	assert.Equal(t, []entity.Link{{URL: "https://site.example/b.mp4", Name: "clip.mp4"}}, links)

	links, err = a.ExtractLinks(body, NewAttachmentClass(DefaultAttachmentClass, []string{".MP4"}))
	require.NoError(t, err)
	assert.Equal(t, []entity.Link{{URL: "https://site.example/a.MP4", Name: "clip.MP4"}}, links)
}
