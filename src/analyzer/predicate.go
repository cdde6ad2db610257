package analyzer

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/andrewyi/attachcrawler/src/entity"
	"github.com/andrewyi/attachcrawler/src/util"
)

const (
	DefaultPostPattern     = `/.*/user/\d+/post/.*`
	DefaultAttachmentClass = "post__attachment-link"
	DefaultNextClass       = "next"
)

var DefaultExtensions = []string{".mp4", ".zip"}

// href匹配正则即认为是帖子链接
type PathPattern struct {
	pattern *regexp.Regexp
}

func NewPathPattern(expr string) (*PathPattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	return &PathPattern{pattern: re}, nil
}

func (p *PathPattern) Accept(href string, element *goquery.Selection) (entity.Link, bool) {
	if !p.pattern.MatchString(href) {
		return entity.Link{}, false
	}
	return entity.Link{URL: href}, true
}

// 带有指定class的a标签为附件链接，可见文本清理后作为文件名，且必须以指定扩展名结尾
type AttachmentClass struct {
	class      string
	extensions []string
}

func NewAttachmentClass(class string, extensions []string) *AttachmentClass {
	return &AttachmentClass{
		class:      class,
		extensions: extensions,
	}
}

func (a *AttachmentClass) Accept(href string, element *goquery.Selection) (entity.Link, bool) {
	if !element.HasClass(a.class) {
		return entity.Link{}, false
	}
	name := util.SanitizeFilename(element.Text())
	if !a.hasExtension(name) {
		return entity.Link{}, false
	}
	return entity.Link{URL: href, Name: name}, true
}

// 区分大小写，.MP4不匹配.mp4
func (a *AttachmentClass) hasExtension(name string) bool {
	for _, ext := range a.extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
