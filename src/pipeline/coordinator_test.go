package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewyi/attachcrawler/src/config"
	"github.com/andrewyi/attachcrawler/src/enum"
)

type site struct {
	*httptest.Server
	files       map[string][]byte
	listingHits int32
}

// hang为true时附件请求写出一个块后阻塞直到连接断开
func newSite(t *testing.T, attachments map[string]string, hang bool) *site {
	t.Helper()
	s := &site{files: map[string][]byte{}}
	mux := http.NewServeMux()

	var posts []string
	for i := 1; i <= len(attachments); i++ {
		posts = append(posts, fmt.Sprintf(`<a href="/artist/user/1/post/%d">post %d</a>`, i, i))
	}

	mux.HandleFunc("/artist/1", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.listingHits, 1)
		fmt.Fprintf(w, "<html><body>%s</body></html>", strings.Join(posts, "\n"))
	})

	// 帖子编号与附件的对应关系按文件路径排序固定下来
	paths := sortedKeys(attachments)
	for idx, path := range paths {
		label := attachments[path]
		body := bytes.Repeat([]byte(label), 3000)
		s.files[path] = body
		post := fmt.Sprintf("/artist/user/1/post/%d", idx+1)
		link := fmt.Sprintf(`<a class="post__attachment-link" href="%s">%s</a>`, path, label)
		mux.HandleFunc(post, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "<html><body>%s</body></html>", link)
		})
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			if hang {
				_, _ = w.Write(body[:4096])
				w.(http.Flusher).Flush()
				<-r.Context().Done()
				return
			}
			_, _ = w.Write(body)
		})
	}

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func testConfig(t *testing.T, seed string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Session.SeedURL = seed
	cfg.Session.Destination = filepath.Join(t.TempDir(), "out")
	cfg.Session.MaxConcurrent = 1
	cfg.Session.MaxRetries = 2
	cfg.Session.Delay = 0
	cfg.Session.Timeout = 5 * time.Second
	cfg.Backoff.RateLimitBase = time.Millisecond
	cfg.Backoff.RateLimitCap = time.Millisecond
	cfg.Backoff.FetchRetryDelay = time.Millisecond
	cfg.Backoff.TransferRetryDelay = time.Millisecond
	return cfg
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) on(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) progress() map[string][]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string][]int{}
	for _, e := range r.events {
		if e.Type == EventProgress {
			out[e.Filename] = append(out[e.Filename], e.Percent)
		}
	}
	return out
}

func (r *recorder) count(tp EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == tp {
			n++
		}
	}
	return n
}

func TestRunEndToEnd(t *testing.T) {
	s := newSite(t, map[string]string{
		"/files/a.zip": "a.zip",
		"/files/b.zip": "b.zip",
	}, false)
	cfg := testConfig(t, s.URL+"/artist/1")
	cfg.Session.LinksFile = filepath.Join(t.TempDir(), "links.txt")

	rec := &recorder{}
	logger, _ := logtest.NewNullLogger()
	c, err := NewCoordinator(cfg, logger, Options{OnEvent: rec.on})
	require.NoError(t, err)
	require.NotEmpty(t, c.SessionID())

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Tasks, 2)
	assert.Equal(t, 2, report.Count(enum.TaskStateCompleted))

	entries, err := os.ReadDir(cfg.Session.Destination)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, name := range []string{"a.zip", "b.zip"} {
		got, err := os.ReadFile(filepath.Join(cfg.Session.Destination, name))
		require.NoError(t, err)
		assert.Equal(t, s.files["/files/"+name], got)
	}

	progress := rec.progress()
	require.Len(t, progress, 2)
	for name, seq := range progress {
		require.NotEmpty(t, seq, name)
		assert.Equal(t, 100, seq[len(seq)-1], name)
		for i := 1; i < len(seq); i++ {
			assert.GreaterOrEqual(t, seq[i], seq[i-1], name)
		}
	}
	assert.Equal(t, 1, rec.count(EventDone))

	saved, err := os.ReadFile(cfg.Session.LinksFile)
	require.NoError(t, err)
	assert.Equal(t, s.URL+"/artist/user/1/post/1\n"+s.URL+"/artist/user/1/post/2\n", string(saved))
}

func TestRunFilenameCollision(t *testing.T) {
	s := newSite(t, map[string]string{
		"/files/x/same.zip": "same.zip",
		"/files/y/same.zip": "same.zip",
	}, false)
	cfg := testConfig(t, s.URL+"/artist/1")
	cfg.Session.MaxConcurrent = 2

	logger, _ := logtest.NewNullLogger()
	c, err := NewCoordinator(cfg, logger, Options{})
	require.NoError(t, err)
	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(enum.TaskStateCompleted))

	first, err := os.ReadFile(filepath.Join(cfg.Session.Destination, "same.zip"))
	require.NoError(t, err)
	assert.Equal(t, s.files["/files/x/same.zip"], first)
	_, err = os.Stat(filepath.Join(cfg.Session.Destination, "same_1.zip"))
	assert.NoError(t, err)
}

func TestRunResumeFromLinks(t *testing.T) {
	s := newSite(t, map[string]string{"/files/a.zip": "a.zip"}, false)
	linksFile := filepath.Join(t.TempDir(), "links.txt")
	require.NoError(t, os.WriteFile(linksFile, []byte(s.URL+"/artist/user/1/post/1\n\n"), 0644))

	cfg := testConfig(t, "")
	cfg.Session.LinksFile = linksFile
	cfg.Session.ResumeFromLinks = true

	logger, _ := logtest.NewNullLogger()
	c, err := NewCoordinator(cfg, logger, Options{})
	require.NoError(t, err)
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Count(enum.TaskStateCompleted))
	assert.Zero(t, atomic.LoadInt32(&s.listingHits))
	assert.FileExists(t, filepath.Join(cfg.Session.Destination, "a.zip"))
}

func TestRunSeedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rec := &recorder{}
	logger, _ := logtest.NewNullLogger()
	c, err := NewCoordinator(testConfig(t, srv.URL+"/artist/1"), logger, Options{OnEvent: rec.on})
	require.NoError(t, err)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Tasks)
	assert.Equal(t, 1, rec.count(EventDone))
}

func TestRunCancel(t *testing.T) {
	s := newSite(t, map[string]string{
		"/files/a.zip": "a.zip",
		"/files/b.zip": "b.zip",
	}, true)
	cfg := testConfig(t, s.URL+"/artist/1")

	logger, _ := logtest.NewNullLogger()
	var c *Coordinator
	var once sync.Once
	c, err := NewCoordinator(cfg, logger, Options{OnEvent: func(e Event) {
		if e.Type == EventProgress {
			once.Do(c.Cancel)
		}
	}})
	require.NoError(t, err)

	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, len(report.Tasks), report.Count(enum.TaskStateInterrupted))
	assert.NoFileExists(t, filepath.Join(cfg.Session.Destination, "a.zip"))
	assert.FileExists(t, filepath.Join(cfg.Session.Destination, "a.zip.part"))
	assert.NoFileExists(t, filepath.Join(cfg.Session.Destination, "b.zip"))
}

func TestInvalidConfig(t *testing.T) {
	cfg := config.Default()
	logger, _ := logtest.NewNullLogger()
	_, err := NewCoordinator(cfg, logger, Options{})
	assert.Error(t, err)
}

func TestNamer(t *testing.T) {
	n := newNamer()
	assert.Equal(t, "a.zip", n.assign("a.zip"))
	assert.Equal(t, "a_1.zip", n.assign("a.zip"))
	assert.Equal(t, "a_2.zip", n.assign("a.zip"))
	assert.Equal(t, "b.mp4", n.assign("b.mp4"))

	// 已被占用的候选名会被跳过
	n = newNamer()
	assert.Equal(t, "c_1.zip", n.assign("c_1.zip"))
	assert.Equal(t, "c.zip", n.assign("c.zip"))
	assert.Equal(t, "c_2.zip", n.assign("c.zip"))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(10, 0))
	assert.Equal(t, 50, Percent(5, 10))
	assert.Equal(t, 100, Percent(10, 10))
	assert.Equal(t, 100, Percent(12, 10))
}

func TestLinksFileWrittenBeforeDownloads(t *testing.T) {
	s := newSite(t, map[string]string{
		"/files/a.zip": "a.zip",
		"/files/b.zip": "b.zip",
	}, true)
	cfg := testConfig(t, s.URL+"/artist/1")
	cfg.Session.LinksFile = filepath.Join(t.TempDir(), "links.txt")

	logger, _ := logtest.NewNullLogger()
	var c *Coordinator
	var once sync.Once
	var saved []byte
	var readErr error
	c, err := NewCoordinator(cfg, logger, Options{OnEvent: func(e Event) {
		if e.Type != EventProgress {
			return
		}
		// 第一个传输仍在进行中
		once.Do(func() {
			saved, readErr = os.ReadFile(cfg.Session.LinksFile)
			c.Cancel()
		})
	}})
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, readErr)
	assert.Equal(t, s.URL+"/artist/user/1/post/1\n"+s.URL+"/artist/user/1/post/2\n", string(saved))
}

func TestCancelBeforeRun(t *testing.T) {
	s := newSite(t, map[string]string{"/files/a.zip": "a.zip"}, false)

	rec := &recorder{}
	logger, _ := logtest.NewNullLogger()
	c, err := NewCoordinator(testConfig(t, s.URL+"/artist/1"), logger, Options{OnEvent: rec.on})
	require.NoError(t, err)

	c.Cancel()
	report, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Tasks)
	assert.Zero(t, atomic.LoadInt32(&s.listingHits))
	assert.Equal(t, 1, rec.count(EventDone))
}
